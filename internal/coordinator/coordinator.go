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

// Package coordinator fans a search out to workers and collects the first
// result tagged with its search ID.
//
// The result channel is shared. Messages carrying another search ID are, by
// default, deleted on sight, which means two coordinators sharing a channel
// can swallow each other's results. Setting the foreign message policy to
// "leave" keeps them on the channel instead, at the cost of receiving them
// again after every visibility timeout
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/goldnonce/internal/config"
	"github.com/blinklabs-io/goldnonce/internal/metrics"
	"github.com/blinklabs-io/goldnonce/internal/miner"
	"github.com/blinklabs-io/goldnonce/internal/provisioner"
	"github.com/blinklabs-io/goldnonce/internal/queue"
	"github.com/blinklabs-io/goldnonce/internal/search"
	"github.com/blinklabs-io/goldnonce/internal/worker"
)

var (
	ErrProvision = errors.New("failed to provision worker")
	ErrTimeout   = errors.New("search timed out")
	ErrExhausted = errors.New("every partition was exhausted without a result")
)

type State int32

const (
	StateIdle State = iota
	StateProvisioning
	StateAwaitingResult
	StateTerminating
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProvisioning:
		return "provisioning"
	case StateAwaitingResult:
		return "awaiting result"
	case StateTerminating:
		return "terminating"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

type Coordinator struct {
	cfg         *config.Config
	provisioner provisioner.Provisioner
	channel     queue.Channel
	state       atomic.Int32
	newID       func() (string, error)
}

func New(cfg *config.Config, p provisioner.Provisioner, channel queue.Channel) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		provisioner: p,
		channel:     channel,
		newID:       search.NewID,
	}
}

// State returns where the current or last search is in its lifecycle
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

// Search provisions n workers over disjoint partitions and waits for the
// first acceptable result. Every provisioned worker is terminated before
// Search returns, whatever the outcome
func (c *Coordinator) Search(
	ctx context.Context,
	block []byte,
	difficulty int,
	n int,
) (search.Result, error) {
	c.setState(StateIdle)
	partitions, err := miner.Partitions(n)
	if err != nil {
		return search.Result{}, err
	}
	searchID, err := c.newID()
	if err != nil {
		return search.Result{}, err
	}
	if c.cfg.Coordinator.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Coordinator.Timeout)
		defer cancel()
	}
	logger := slog.With(
		"search_id", searchID,
		"difficulty", difficulty,
		"workers", n,
	)
	startTime := time.Now()
	reg := newRegistry(c.provisioner)
	defer func() {
		c.setState(StateTerminating)
		count := reg.len()
		if err := reg.release(c.cfg.Coordinator.TeardownTimeout); err != nil {
			logger.Error(
				fmt.Sprintf("failed to terminate instances: %s", err),
			)
		} else if count > 0 {
			logger.Info(
				fmt.Sprintf("terminated %d instances", count),
			)
		}
		c.setState(StateDone)
	}()

	c.setState(StateProvisioning)
	env := provisioner.WorkerEnv(c.cfg)
	for _, partition := range partitions {
		assignment := worker.Assignment{
			Block:      block,
			Difficulty: difficulty,
			Partition:  partition,
			SearchID:   searchID,
		}
		spec := provisioner.LaunchSpec{
			Image:         c.cfg.Provisioner.Image,
			MachineClass:  c.cfg.Provisioner.MachineClass,
			StartupScript: provisioner.RenderStartupScript(c.cfg.Provisioner, env, assignment),
			Assignment:    assignment,
		}
		instance, err := c.provisioner.Provision(ctx, spec)
		if err != nil {
			metrics.SearchesTotal.WithLabelValues("provision_error").Inc()
			return search.Result{}, fmt.Errorf("%w (%s): %w", ErrProvision, partition, err)
		}
		reg.add(instance)
		metrics.InstancesProvisioned.Inc()
		logger.Debug(
			fmt.Sprintf("provisioned instance %s for %s", instance.ID(), partition),
		)
	}
	logger.Info(
		"instances created",
		"elapsed_seconds", time.Since(startTime).Seconds(),
	)
	// Start-up timing is only interesting for single worker runs
	if n == 1 {
		c.waitRunning(ctx, logger, reg, startTime)
	}

	c.setState(StateAwaitingResult)
	result, err := c.await(ctx, logger, searchID, block, difficulty, n)
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, ErrTimeout):
			outcome = "timeout"
		case errors.Is(err, ErrExhausted):
			outcome = "exhausted"
		case errors.Is(err, context.Canceled):
			outcome = "cancelled"
		}
		metrics.SearchesTotal.WithLabelValues(outcome).Inc()
		return search.Result{}, err
	}
	elapsed := time.Since(startTime)
	metrics.SearchesTotal.WithLabelValues("found").Inc()
	metrics.SearchDuration.Observe(elapsed.Seconds())
	logger.Info(
		"search finished",
		"elapsed_seconds", elapsed.Seconds(),
		"nonce", result.Nonce,
		"zero_bits", result.ZeroBits,
	)
	return result, nil
}

func (c *Coordinator) waitRunning(
	ctx context.Context,
	logger *slog.Logger,
	reg *registry,
	startTime time.Time,
) {
	reg.mu.Lock()
	instances := append([]provisioner.Instance{}, reg.instances...)
	reg.mu.Unlock()
	for _, instance := range instances {
		if err := instance.WaitUntilRunning(ctx); err != nil {
			logger.Warn(
				fmt.Sprintf("instance %s not confirmed running: %s", instance.ID(), err),
			)
			return
		}
	}
	logger.Info(
		"instances running",
		"elapsed_seconds", time.Since(startTime).Seconds(),
	)
}

// await polls the channel until a result for searchID arrives
func (c *Coordinator) await(
	ctx context.Context,
	logger *slog.Logger,
	searchID string,
	block []byte,
	difficulty int,
	n int,
) (search.Result, error) {
	// Partitions that reported exhaustion, by start
	exhausted := make(map[uint32]struct{}, n)
	for {
		msgs, err := c.channel.Receive(ctx, c.cfg.Coordinator.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return search.Result{}, contextError(ctx)
			}
			return search.Result{}, fmt.Errorf("failed to receive results: %w", err)
		}
		for _, msg := range msgs {
			if msg.Attributes[search.IDAttribute] != searchID {
				c.handleForeign(ctx, logger, msg)
				continue
			}
			// Anything tagged with our ID is ours to consume
			c.deleteMessage(ctx, logger, msg)
			result, err := search.ParseResult(msg.Body, msg.Attributes)
			if err != nil {
				metrics.MessagesReceived.WithLabelValues("malformed").Inc()
				logger.Warn(
					fmt.Sprintf("ignoring result: %s", err),
				)
				continue
			}
			if !result.Found() {
				if c.recordExhausted(logger, msg, exhausted, n) && len(exhausted) >= n {
					return search.Result{}, ErrExhausted
				}
				continue
			}
			if !verify(block, difficulty, result) {
				metrics.MessagesReceived.WithLabelValues("rejected").Inc()
				logger.Warn(
					fmt.Sprintf("rejecting nonce %d: does not meet difficulty", result.Nonce),
				)
				continue
			}
			metrics.MessagesReceived.WithLabelValues("accepted").Inc()
			return result, nil
		}
		if ctx.Err() != nil {
			return search.Result{}, contextError(ctx)
		}
	}
}

// recordExhausted notes an exhaustion report and returns true when it names a
// partition not seen before. Reports without a valid partition start, and
// redeliveries, never count towards exhaustion
func (c *Coordinator) recordExhausted(
	logger *slog.Logger,
	msg queue.Message,
	exhausted map[uint32]struct{},
	n int,
) bool {
	start, ok := search.PartitionStart(msg.Attributes)
	if !ok || uint64(start) >= uint64(n) {
		metrics.MessagesReceived.WithLabelValues("exhausted_unattributed").Inc()
		logger.Warn(
			fmt.Sprintf("ignoring exhaustion report %s without a valid partition", msg.ID),
		)
		return false
	}
	if _, seen := exhausted[start]; seen {
		metrics.MessagesReceived.WithLabelValues("exhausted_duplicate").Inc()
		logger.Debug(
			fmt.Sprintf("ignoring repeated exhaustion report for start=%d", start),
		)
		return false
	}
	exhausted[start] = struct{}{}
	metrics.MessagesReceived.WithLabelValues("exhausted").Inc()
	logger.Info(
		fmt.Sprintf("%d of %d partitions exhausted", len(exhausted), n),
	)
	return true
}

func (c *Coordinator) handleForeign(ctx context.Context, logger *slog.Logger, msg queue.Message) {
	if c.cfg.Coordinator.ForeignMessages == config.ForeignMessagesLeave {
		metrics.MessagesReceived.WithLabelValues("foreign_left").Inc()
		logger.Debug(
			fmt.Sprintf("leaving message %s from another search", msg.ID),
		)
		return
	}
	metrics.MessagesReceived.WithLabelValues("foreign_discarded").Inc()
	logger.Debug(
		fmt.Sprintf(
			"discarding message %s for search %q",
			msg.ID,
			msg.Attributes[search.IDAttribute],
		),
	)
	c.deleteMessage(ctx, logger, msg)
}

func (c *Coordinator) deleteMessage(ctx context.Context, logger *slog.Logger, msg queue.Message) {
	if err := c.channel.Delete(ctx, msg); err != nil {
		logger.Warn(
			fmt.Sprintf("failed to delete message %s: %s", msg.ID, err),
		)
	}
}

// verify recomputes the digest for a reported nonce
func verify(block []byte, difficulty int, result search.Result) bool {
	if result.Nonce < 0 || uint64(result.Nonce) >= miner.NonceSpace {
		return false
	}
	hash := miner.Digest(miner.BuildCandidate(block, uint32(result.Nonce)))
	zeros := miner.LeadingZeroBits(hash[:])
	return zeros == result.ZeroBits && miner.MeetsDifficulty(zeros, difficulty)
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("search interrupted: %w", ctx.Err())
}
