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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetGlobalConfig restores defaults so tests don't see each other's loads
func resetGlobalConfig(t *testing.T) {
	t.Helper()
	globalConfig = defaultConfig()
	t.Cleanup(func() {
		globalConfig = defaultConfig()
	})
}

func TestDefaults(t *testing.T) {
	resetGlobalConfig(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Same(t, GetConfig(), cfg)
	assert.Equal(t, "COMSM0010cloud", cfg.Search.Block)
	assert.Equal(t, 20, cfg.Search.Difficulty)
	assert.Equal(t, 1, cfg.Coordinator.WorkerCount)
	assert.Equal(t, ForeignMessagesDiscard, cfg.Coordinator.ForeignMessages)
	assert.Equal(t, 600*time.Second, cfg.Estimator.TimeBudget)
	assert.Equal(t, 90.0, cfg.Estimator.Confidence)
	assert.Equal(t, ProvisionerEC2, cfg.Provisioner.Backend)
	assert.Equal(t, QueueSQS, cfg.Queue.Backend)
	assert.Equal(t, "NonceOutput", cfg.Queue.Name)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	resetGlobalConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
search:
  block: hello
  difficulty: 12
coordinator:
  workers: 4
  pollWait: 5s
  foreignMessages: leave
provisioner:
  backend: inproc
queue:
  backend: memory
  visibilityTimeout: 10s
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	// The environment wins over the file
	t.Setenv("SEARCH_DIFFICULTY", "16")
	t.Setenv("QUEUE_NAME", "Results")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", cfg.Search.Block)
	assert.Equal(t, 16, cfg.Search.Difficulty)
	assert.Equal(t, 4, cfg.Coordinator.WorkerCount)
	assert.Equal(t, 5*time.Second, cfg.Coordinator.PollWait)
	assert.Equal(t, ForeignMessagesLeave, cfg.Coordinator.ForeignMessages)
	assert.Equal(t, ProvisionerInproc, cfg.Provisioner.Backend)
	assert.Equal(t, QueueMemory, cfg.Queue.Backend)
	assert.Equal(t, "Results", cfg.Queue.Name)
	assert.Equal(t, 10*time.Second, cfg.Queue.VisibilityTimeout)
	// Untouched values keep their defaults
	assert.Equal(t, 2*time.Minute, cfg.Coordinator.TeardownTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	resetGlobalConfig(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateQueueReachable(t *testing.T) {
	tests := []struct {
		provisioner string
		queue       string
	}{
		{provisioner: ProvisionerInproc, queue: QueueMemory},
		{provisioner: ProvisionerInproc, queue: QueueBadger},
		{provisioner: ProvisionerExec, queue: QueueGRPC},
		{provisioner: ProvisionerEC2, queue: QueueSQS},
		{provisioner: ProvisionerSSH, queue: QueueGRPC},
	}
	for _, tt := range tests {
		t.Run(tt.provisioner+"+"+tt.queue, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Provisioner.Backend = tt.provisioner
			cfg.Provisioner.SSHHosts = []string{"worker1"}
			cfg.Queue.Backend = tt.queue
			cfg.Queue.Address = "localhost:7070"
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "negative difficulty", modify: func(c *Config) { c.Search.Difficulty = -1 }},
		{name: "difficulty too large", modify: func(c *Config) { c.Search.Difficulty = MaxDifficulty + 1 }},
		{name: "no workers", modify: func(c *Config) { c.Coordinator.WorkerCount = 0 }},
		{name: "no poll wait", modify: func(c *Config) { c.Coordinator.PollWait = 0 }},
		{name: "unknown foreign policy", modify: func(c *Config) { c.Coordinator.ForeignMessages = "keep" }},
		{name: "unknown provisioner", modify: func(c *Config) { c.Provisioner.Backend = "gce" }},
		{name: "ssh without hosts", modify: func(c *Config) { c.Provisioner.Backend = ProvisionerSSH }},
		{name: "unknown queue", modify: func(c *Config) { c.Queue.Backend = "kafka" }},
		{name: "grpc without address", modify: func(c *Config) { c.Queue.Backend = QueueGRPC }},
		{name: "ec2 with local badger", modify: func(c *Config) { c.Queue.Backend = QueueBadger }},
		{name: "exec with memory", modify: func(c *Config) {
			c.Provisioner.Backend = ProvisionerExec
			c.Queue.Backend = QueueMemory
		}},
		{name: "ssh with badger", modify: func(c *Config) {
			c.Provisioner.Backend = ProvisionerSSH
			c.Provisioner.SSHHosts = []string{"worker1"}
			c.Queue.Backend = QueueBadger
		}},
		{name: "no threads", modify: func(c *Config) { c.Miner.Threads = 0 }},
		{name: "no hash rate interval", modify: func(c *Config) { c.Miner.HashRateInterval = 0 }},
	}
	require.NoError(t, defaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
