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

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/goldnonce/internal/miner"
	"github.com/blinklabs-io/goldnonce/internal/metrics"
	"github.com/blinklabs-io/goldnonce/internal/queue"
	"github.com/blinklabs-io/goldnonce/internal/search"
)

var ErrInvalidAssignment = errors.New("invalid assignment")

// Assignment is everything a worker needs to run its share of a search
type Assignment struct {
	Block      []byte
	Difficulty int
	Partition  miner.Partition
	SearchID   string
}

func (a Assignment) Validate() error {
	if a.Partition.Step == 0 {
		return fmt.Errorf("%w: step must be at least 1", ErrInvalidAssignment)
	}
	if a.Difficulty < 0 {
		return fmt.Errorf("%w: negative difficulty %d", ErrInvalidAssignment, a.Difficulty)
	}
	if a.SearchID == "" {
		return fmt.Errorf("%w: missing search ID", ErrInvalidAssignment)
	}
	return nil
}

// Args returns the positional arguments of the slave command for this
// assignment, in order: block, difficulty, step, start, search ID
func (a Assignment) Args() []string {
	return []string{
		string(a.Block),
		strconv.Itoa(a.Difficulty),
		strconv.FormatUint(uint64(a.Partition.Step), 10),
		strconv.FormatUint(uint64(a.Partition.Start), 10),
		a.SearchID,
	}
}

// Run searches the assigned partition and publishes the outcome. Exhaustion
// is published too, as a result with nonce -1, so the coordinator can tell
// when every partition has come up empty. Nothing is published when ctx is
// cancelled first
func Run(ctx context.Context, a Assignment, channel queue.Channel) (search.Result, error) {
	if err := a.Validate(); err != nil {
		return search.Result{}, err
	}
	logger := slog.With("search_id", a.SearchID)
	logger.Info(
		fmt.Sprintf(
			"searching %s at difficulty %d",
			a.Partition,
			a.Difficulty,
		),
	)
	start := time.Now()
	hashCounter := &atomic.Uint64{}
	nonce, zeros, err := miner.Search(ctx, a.Block, a.Difficulty, a.Partition, hashCounter)
	metrics.HashesProcessed.Add(float64(hashCounter.Load()))
	if err != nil {
		return search.Result{}, err
	}
	result := search.Result{
		Nonce:    nonce,
		ZeroBits: zeros,
		SearchID: a.SearchID,
	}
	logger.Info(
		fmt.Sprintf(
			"%s after %s (%d hashes)",
			result,
			time.Since(start),
			hashCounter.Load(),
		),
	)
	if err := channel.Publish(ctx, result.Body(), result.AttributesFor(a.Partition)); err != nil {
		return result, fmt.Errorf("failed to publish result: %w", err)
	}
	return result, nil
}
