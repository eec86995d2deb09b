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

package miner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/goldnonce/internal/metrics"
)

// Result is what a local search produces
type Result struct {
	Nonce     int64
	ZeroBits  int
	Partition Partition
}

func (r Result) Found() bool {
	return r.Nonce != NotFound
}

// Manager runs a search across several goroutines in this process. The first
// goroutine to find a nonce wins and the rest are stopped
type Manager struct {
	threads          int
	hashRateInterval time.Duration
	workerWaitGroup  sync.WaitGroup
	resultChan       chan Result
	hashCounter      *atomic.Uint64
	hashLogTimer     *time.Timer
	hashLogMutex     sync.Mutex
	hashLogLastCount uint64
}

func NewManager(threads int, hashRateInterval time.Duration) *Manager {
	return &Manager{
		threads:          threads,
		hashRateInterval: hashRateInterval,
	}
}

// Run blocks until a nonce is found, every partition is exhausted or ctx is done
func (m *Manager) Run(ctx context.Context, block []byte, difficulty int) (Result, error) {
	partitions, err := Partitions(m.threads)
	if err != nil {
		return Result{Nonce: NotFound}, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.resultChan = make(chan Result, m.threads)
	// Start hash rate log timer
	m.hashCounter = &atomic.Uint64{}
	m.hashLogLastCount = 0
	m.scheduleHashRateLog()
	defer m.stopHashRateLog()
	slog.Info(
		fmt.Sprintf("starting %d workers", m.threads),
	)
	var searchErr error
	var searchErrOnce sync.Once
	for _, partition := range partitions {
		m.workerWaitGroup.Add(1)
		go func(partition Partition) {
			defer m.workerWaitGroup.Done()
			nonce, zeros, err := Search(ctx, block, difficulty, partition, m.hashCounter)
			if err != nil {
				if !errors.Is(err, ErrSearchCancelled) {
					searchErrOnce.Do(func() { searchErr = err })
				}
				return
			}
			m.resultChan <- Result{Nonce: nonce, ZeroBits: zeros, Partition: partition}
		}(partition)
	}
	go func() {
		m.workerWaitGroup.Wait()
		close(m.resultChan)
	}()
	// Wait for the first result that found something
	for result := range m.resultChan {
		if !result.Found() {
			slog.Debug(
				fmt.Sprintf("partition %s exhausted", result.Partition),
			)
			continue
		}
		// Stop the remaining workers
		cancel()
		m.workerWaitGroup.Wait()
		m.flushHashCount()
		return result, nil
	}
	m.flushHashCount()
	if searchErr != nil {
		return Result{Nonce: NotFound}, searchErr
	}
	if ctx.Err() != nil {
		return Result{Nonce: NotFound}, ErrSearchCancelled
	}
	return Result{Nonce: NotFound}, nil
}

// HashCount returns the number of hashes computed by the last run
func (m *Manager) HashCount() uint64 {
	if m.hashCounter == nil {
		return 0
	}
	return m.hashCounter.Load()
}

func (m *Manager) scheduleHashRateLog() {
	if m.hashRateInterval <= 0 {
		return
	}
	m.hashLogMutex.Lock()
	defer m.hashLogMutex.Unlock()
	m.hashLogTimer = time.AfterFunc(
		m.hashRateInterval,
		m.hashRateLog,
	)
}

func (m *Manager) stopHashRateLog() {
	m.hashLogMutex.Lock()
	defer m.hashLogMutex.Unlock()
	if m.hashLogTimer != nil {
		m.hashLogTimer.Stop()
		m.hashLogTimer = nil
	}
}

func (m *Manager) hashRateLog() {
	hashCountDiff := m.flushHashCount()
	secondDivisor := uint64(m.hashRateInterval / time.Second) // #nosec G115
	if secondDivisor == 0 {
		secondDivisor = 1
	}
	hashCountPerSec := hashCountDiff / secondDivisor
	slog.Info(
		fmt.Sprintf("hash rate: %d/s", hashCountPerSec),
	)
	// Only re-arm if nothing stopped the log while this call was running
	m.hashLogMutex.Lock()
	defer m.hashLogMutex.Unlock()
	if m.hashLogTimer != nil {
		m.hashLogTimer = time.AfterFunc(
			m.hashRateInterval,
			m.hashRateLog,
		)
	}
}

// flushHashCount publishes hashes counted since the last flush to the
// prometheus counter and returns how many there were
func (m *Manager) flushHashCount() uint64 {
	m.hashLogMutex.Lock()
	defer m.hashLogMutex.Unlock()
	hashCount := m.hashCounter.Load()
	hashCountDiff := hashCount - m.hashLogLastCount
	m.hashLogLastCount = hashCount
	metrics.HashesProcessed.Add(float64(hashCountDiff))
	return hashCountDiff
}
