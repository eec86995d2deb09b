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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerSingleThread(t *testing.T) {
	m := NewManager(1, time.Minute)
	result, err := m.Run(context.Background(), []byte("test"), 8)
	require.NoError(t, err)
	assert.Equal(t, int64(161), result.Nonce)
	assert.Equal(t, 9, result.ZeroBits)
	assert.Equal(t, Partition{Step: 1, Start: 0}, result.Partition)
	assert.Equal(t, uint64(162), m.HashCount())
}

func TestManagerMultipleThreads(t *testing.T) {
	block := []byte("test")
	m := NewManager(4, 0)
	result, err := m.Run(context.Background(), block, 8)
	require.NoError(t, err)
	require.True(t, result.Found())
	// Any partition may win the race, but its answer must be genuine
	assert.True(t, result.Partition.Contains(uint32(result.Nonce)))
	hash := Digest(BuildCandidate(block, uint32(result.Nonce)))
	assert.Equal(t, result.ZeroBits, LeadingZeroBits(hash[:]))
	assert.GreaterOrEqual(t, result.ZeroBits, 8)
}

func TestManagerCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	m := NewManager(2, 0)
	result, err := m.Run(ctx, []byte("test"), 256)
	require.ErrorIs(t, err, ErrSearchCancelled)
	assert.False(t, result.Found())
}

func TestManagerInvalidThreads(t *testing.T) {
	m := NewManager(0, 0)
	_, err := m.Run(context.Background(), []byte("test"), 8)
	require.ErrorIs(t, err, ErrInvalidWorkerCount)
}

func TestManagerHashRateLogStopped(t *testing.T) {
	m := NewManager(1, 5*time.Millisecond)
	m.hashCounter = &atomic.Uint64{}
	m.scheduleHashRateLog()
	time.Sleep(20 * time.Millisecond)
	m.stopHashRateLog()
	// A tick already in flight when the log stops must not re-arm it
	m.hashRateLog()
	m.hashLogMutex.Lock()
	defer m.hashLogMutex.Unlock()
	assert.Nil(t, m.hashLogTimer)
}
