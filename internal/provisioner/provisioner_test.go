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
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/blinklabs-io/goldnonce/internal/config"
	"github.com/blinklabs-io/goldnonce/internal/miner"
	"github.com/blinklabs-io/goldnonce/internal/queue"
	"github.com/blinklabs-io/goldnonce/internal/worker"
)

func TestInprocPublishesResult(t *testing.T) {
	ch := queue.NewMemory(time.Minute)
	p := NewInproc(ch)
	ctx := context.Background()
	inst, err := p.Provision(ctx, LaunchSpec{
		Assignment: worker.Assignment{
			Block:      []byte("test"),
			Difficulty: 8,
			Partition:  miner.Partition{Step: 1},
			SearchID:   "abc",
		},
	})
	require.NoError(t, err)
	require.NoError(t, inst.WaitUntilRunning(ctx))

	msgs, err := ch.Receive(ctx, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "FOUND 161 with 9", msgs[0].Body)
	assert.Equal(t, "abc", msgs[0].Attributes["SearchID"])
	require.NoError(t, p.Terminate(ctx, inst))
}

func TestInprocTerminateStopsWorker(t *testing.T) {
	ch := queue.NewMemory(time.Minute)
	p := NewInproc(ch)
	inst, err := p.Provision(context.Background(), LaunchSpec{
		Assignment: worker.Assignment{
			Block:      []byte("test"),
			Difficulty: 256,
			Partition:  miner.Partition{Step: 1},
			SearchID:   "abc",
		},
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Terminate(ctx, inst))
	// A cancelled worker publishes nothing
	assert.Equal(t, 0, ch.Len())
}

func TestInprocRejectsInvalidAssignment(t *testing.T) {
	p := NewInproc(queue.NewMemory(time.Minute))
	_, err := p.Provision(context.Background(), LaunchSpec{
		Assignment: worker.Assignment{Block: []byte("test"), SearchID: "abc"},
	})
	require.ErrorIs(t, err, worker.ErrInvalidAssignment)
}

type otherInstance struct{}

func (otherInstance) ID() string { return "other" }

func (otherInstance) WaitUntilRunning(ctx context.Context) error { return nil }

func TestTerminateForeignInstance(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, NewInproc(queue.NewMemory(time.Minute)).Terminate(ctx, otherInstance{}))
	assert.Error(t, NewExec().Terminate(ctx, otherInstance{}))
	sshProv, err := NewSSH([]string{"worker1"}, &ssh.ClientConfig{})
	require.NoError(t, err)
	assert.Error(t, sshProv.Terminate(ctx, otherInstance{}))
}

func TestSSHHosts(t *testing.T) {
	_, err := NewSSH(nil, &ssh.ClientConfig{})
	require.Error(t, err)

	p, err := NewSSH([]string{"worker1", "worker2:2222", "10.0.0.3"}, &ssh.ClientConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{"worker1:22", "worker2:2222", "10.0.0.3:22"}, p.hosts)

	var picked []string
	for range 4 {
		host, _ := p.nextHost()
		picked = append(picked, host)
	}
	assert.Equal(t, []string{"worker1:22", "worker2:2222", "10.0.0.3:22", "worker1:22"}, picked)
}

func TestSSHDialFailure(t *testing.T) {
	p, err := NewSSH([]string{"worker1"}, &ssh.ClientConfig{})
	require.NoError(t, err)
	p.dial = func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (sshClient, error) {
		return nil, errors.New("connection refused")
	}
	_, err = p.Provision(context.Background(), testLaunchSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker1:22")
}

func TestPkillPattern(t *testing.T) {
	pattern, ok := pkillPattern("01890a5d-ac96-774b-bcce-b302099a8057")
	require.True(t, ok)
	assert.Equal(t, "[0]1890a5d-ac96-774b-bcce-b302099a8057", pattern)

	_, ok = pkillPattern("")
	assert.False(t, ok)
	pattern, ok = pkillPattern("a")
	require.True(t, ok)
	assert.Equal(t, "[a]", pattern)
}

func TestExecLifecycle(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	p := NewExec()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inst, err := p.Provision(ctx, LaunchSpec{StartupScript: "#!/bin/bash\nexec sleep 30\n"})
	require.NoError(t, err)
	assert.Contains(t, inst.ID(), "pid-")
	require.NoError(t, inst.WaitUntilRunning(ctx))
	require.NoError(t, p.Terminate(ctx, inst))

	// Terminating a process that already exited is fine
	inst, err = p.Provision(ctx, LaunchSpec{StartupScript: "true"})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, p.Terminate(ctx, inst))
}

func TestOpen(t *testing.T) {
	cfg := &config.Config{}
	cfg.Provisioner.Backend = config.ProvisionerInproc
	p, err := Open(context.Background(), cfg, queue.NewMemory(time.Minute))
	require.NoError(t, err)
	assert.IsType(t, &Inproc{}, p)

	cfg.Provisioner.Backend = config.ProvisionerExec
	p, err = Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &Exec{}, p)

	cfg.Provisioner.Backend = "gce"
	_, err = Open(context.Background(), cfg, nil)
	require.Error(t, err)
}
