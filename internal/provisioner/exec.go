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
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// Exec runs each worker as a local process. Useful for trying a distributed
// search on one machine against a gRPC queue served by queue-serve
type Exec struct {
	shell string
}

type execInstance struct {
	id   string
	cmd  *exec.Cmd
	done chan struct{}
}

func NewExec() *Exec {
	return &Exec{
		shell: "bash",
	}
}

func (e *Exec) Provision(ctx context.Context, spec LaunchSpec) (Instance, error) {
	// The process must outlive ctx; Terminate stops it
	cmd := exec.Command(e.shell, "-c", spec.StartupScript) // #nosec G204
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}
	inst := &execInstance{
		id:   "pid-" + strconv.Itoa(cmd.Process.Pid),
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(inst.done)
	}()
	return inst, nil
}

func (e *Exec) Terminate(ctx context.Context, instance Instance) error {
	inst, ok := instance.(*execInstance)
	if !ok {
		return fmt.Errorf("instance %s was not provisioned by exec", instance.ID())
	}
	select {
	case <-inst.done:
		return nil
	default:
	}
	if err := inst.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill %s: %w", inst.id, err)
	}
	select {
	case <-inst.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *execInstance) ID() string {
	return i.id
}

func (i *execInstance) WaitUntilRunning(ctx context.Context) error {
	return ctx.Err()
}
