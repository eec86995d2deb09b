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

// Package provisioner starts and stops the compute that runs workers
package provisioner

import (
	"context"
	"fmt"

	"github.com/blinklabs-io/goldnonce/internal/config"
	"github.com/blinklabs-io/goldnonce/internal/queue"
	"github.com/blinklabs-io/goldnonce/internal/worker"
)

// LaunchSpec describes one worker to start. Backends that launch a separate
// machine or process use StartupScript; the in-process backend uses
// Assignment directly
type LaunchSpec struct {
	Image         string
	MachineClass  string
	StartupScript string
	Assignment    worker.Assignment
}

type Instance interface {
	ID() string
	// WaitUntilRunning blocks until the instance reports running
	WaitUntilRunning(ctx context.Context) error
}

type Provisioner interface {
	Provision(ctx context.Context, spec LaunchSpec) (Instance, error)
	Terminate(ctx context.Context, instance Instance) error
}

// Open returns the provisioner selected by the config. The channel is only
// used by the in-process backend, whose workers publish to it directly
func Open(ctx context.Context, cfg *config.Config, channel queue.Channel) (Provisioner, error) {
	switch cfg.Provisioner.Backend {
	case config.ProvisionerEC2:
		return NewEC2FromRegion(cfg.AWS.Region, cfg.Provisioner.IAMProfile)
	case config.ProvisionerSSH:
		return NewSSHFromConfig(cfg.Provisioner)
	case config.ProvisionerExec:
		return NewExec(), nil
	case config.ProvisionerInproc:
		return NewInproc(channel), nil
	default:
		return nil, fmt.Errorf("unknown provisioner backend: %s", cfg.Provisioner.Backend)
	}
}
