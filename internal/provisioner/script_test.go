// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provisioner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blinklabs-io/goldnonce/internal/config"
	"github.com/blinklabs-io/goldnonce/internal/miner"
	"github.com/blinklabs-io/goldnonce/internal/worker"
)

func TestRenderStartupScript(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.ProvisionerConfig
		env      map[string]string
		block    string
		expected string
	}{
		{
			name: "default layout",
			cfg: config.ProvisionerConfig{
				WorkerBinary: "goldnonce",
				LogPath:      "~/goldnonce.log",
			},
			env: map[string]string{
				"QUEUE_NAME":    "NonceOutput",
				"QUEUE_BACKEND": "sqs",
			},
			block: "COMSM0010cloud",
			expected: "#!/bin/bash\n" +
				"export QUEUE_BACKEND=sqs\n" +
				"export QUEUE_NAME=NonceOutput\n" +
				"exec goldnonce slave -- COMSM0010cloud 20 4 1 abc 2> ~/goldnonce.log\n",
		},
		{
			name: "awkward block is quoted",
			cfg: config.ProvisionerConfig{
				WorkerBinary: "/opt/gold nonce/bin",
			},
			block: "it's; rm -rf /",
			expected: "#!/bin/bash\n" +
				"exec '/opt/gold nonce/bin' slave -- 'it'\"'\"'s; rm -rf /' 20 4 1 abc\n",
		},
		{
			name: "block that looks like a flag",
			cfg: config.ProvisionerConfig{
				WorkerBinary: "goldnonce",
			},
			env:   map[string]string{"QUEUE_ADDRESS": "10.0.0.1:7420"},
			block: "--help",
			expected: "#!/bin/bash\n" +
				"export QUEUE_ADDRESS=10.0.0.1:7420\n" +
				"exec goldnonce slave -- --help 20 4 1 abc\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := worker.Assignment{
				Block:      []byte(tt.block),
				Difficulty: 20,
				Partition:  miner.Partition{Step: 4, Start: 1},
				SearchID:   "abc",
			}
			assert.Equal(t, tt.expected, RenderStartupScript(tt.cfg, tt.env, a))
		})
	}
}

func TestWorkerEnv(t *testing.T) {
	cfg := &config.Config{
		Queue: config.QueueConfig{
			Backend: config.QueueGRPC,
			Name:    "NonceOutput",
			Address: "coordinator:7420",
		},
		AWS: config.AWSConfig{
			Region: "us-east-2",
		},
	}
	assert.Equal(
		t,
		map[string]string{
			"QUEUE_BACKEND": "grpc",
			"QUEUE_NAME":    "NonceOutput",
			"QUEUE_ADDRESS": "coordinator:7420",
			"AWS_REGION":    "us-east-2",
		},
		WorkerEnv(cfg),
	)

	cfg.Queue.Address = ""
	cfg.Logging.Debug = true
	env := WorkerEnv(cfg)
	assert.NotContains(t, env, "QUEUE_ADDRESS")
	assert.Equal(t, "true", env["LOGGING_DEBUG"])
}
