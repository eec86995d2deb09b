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

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/goldnonce/internal/metrics"
	"github.com/blinklabs-io/goldnonce/internal/provisioner"
)

// registry tracks every instance acquired for one search so that they can all
// be terminated exactly once, however the search ends
type registry struct {
	provisioner provisioner.Provisioner
	mu          sync.Mutex
	instances   []provisioner.Instance
	releaseOnce sync.Once
	releaseErr  error
}

func newRegistry(p provisioner.Provisioner) *registry {
	return &registry{
		provisioner: p,
	}
}

func (r *registry) add(instance provisioner.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = append(r.instances, instance)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// release terminates all instances in parallel. It runs on a context of its
// own so that a cancelled search still cleans up. Only the first call does
// anything
func (r *registry) release(timeout time.Duration) error {
	r.releaseOnce.Do(func() {
		r.mu.Lock()
		instances := r.instances
		r.instances = nil
		r.mu.Unlock()
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		errs := make([]error, len(instances))
		var wg sync.WaitGroup
		for idx, instance := range instances {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := r.provisioner.Terminate(ctx, instance); err != nil {
					metrics.InstancesTerminated.WithLabelValues("error").Inc()
					errs[idx] = fmt.Errorf("instance %s: %w", instance.ID(), err)
					return
				}
				metrics.InstancesTerminated.WithLabelValues("ok").Inc()
				slog.Debug(
					fmt.Sprintf("terminated instance %s", instance.ID()),
				)
			}()
		}
		wg.Wait()
		r.releaseErr = errors.Join(errs...)
	})
	return r.releaseErr
}
