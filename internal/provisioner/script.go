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
	"maps"
	"slices"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/blinklabs-io/goldnonce/internal/config"
	"github.com/blinklabs-io/goldnonce/internal/worker"
)

// WorkerEnv returns the environment a remote worker needs to reach the same
// result channel as the coordinator
func WorkerEnv(cfg *config.Config) map[string]string {
	env := map[string]string{
		"QUEUE_BACKEND": cfg.Queue.Backend,
		"QUEUE_NAME":    cfg.Queue.Name,
		"AWS_REGION":    cfg.AWS.Region,
	}
	if cfg.Queue.Address != "" {
		env["QUEUE_ADDRESS"] = cfg.Queue.Address
	}
	if cfg.Logging.Debug {
		env["LOGGING_DEBUG"] = "true"
	}
	return env
}

// RenderStartupScript builds the shell script that runs one worker. The worker
// binary replaces the shell so that stopping the process stops the search
func RenderStartupScript(
	cfg config.ProvisionerConfig,
	env map[string]string,
	a worker.Assignment,
) string {
	lines := []string{"#!/bin/bash"}
	for _, k := range slices.Sorted(maps.Keys(env)) {
		lines = append(lines, "export "+k+"="+shellescape.Quote(env[k]))
	}
	cmd := []string{"exec", shellescape.Quote(cfg.WorkerBinary), "slave", "--"}
	for _, arg := range a.Args() {
		cmd = append(cmd, shellescape.Quote(arg))
	}
	if cfg.LogPath != "" {
		// Left unquoted so that ~ expands
		cmd = append(cmd, "2>", cfg.LogPath)
	}
	lines = append(lines, strings.Join(cmd, " "))
	return strings.Join(lines, "\n") + "\n"
}
