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
	"log/slog"
	"sync/atomic"

	"github.com/blinklabs-io/goldnonce/internal/miner"
	"github.com/blinklabs-io/goldnonce/internal/queue"
	"github.com/blinklabs-io/goldnonce/internal/worker"
)

// Inproc runs each worker as a goroutine publishing straight to channel
type Inproc struct {
	channel queue.Channel
	next    atomic.Uint64
}

type inprocInstance struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewInproc(channel queue.Channel) *Inproc {
	return &Inproc{
		channel: channel,
	}
}

func (p *Inproc) Provision(ctx context.Context, spec LaunchSpec) (Instance, error) {
	if err := spec.Assignment.Validate(); err != nil {
		return nil, err
	}
	// Workers outlive the provisioning call, so they get their own context
	workerCtx, cancel := context.WithCancel(context.Background())
	inst := &inprocInstance{
		id:     fmt.Sprintf("inproc-%d", p.next.Add(1)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(inst.done)
		_, err := worker.Run(workerCtx, spec.Assignment, p.channel)
		if err != nil && !errors.Is(err, miner.ErrSearchCancelled) && !errors.Is(err, context.Canceled) {
			slog.Error(
				fmt.Sprintf("worker %s failed: %s", inst.id, err),
			)
		}
	}()
	return inst, nil
}

func (p *Inproc) Terminate(ctx context.Context, instance Instance) error {
	inst, ok := instance.(*inprocInstance)
	if !ok {
		return fmt.Errorf("instance %s was not provisioned in process", instance.ID())
	}
	inst.cancel()
	select {
	case <-inst.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *inprocInstance) ID() string {
	return i.id
}

func (i *inprocInstance) WaitUntilRunning(ctx context.Context) error {
	return ctx.Err()
}
