// Copyright 2023 Blink Labs, LLC.
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
	"encoding/binary"
	"errors"
	"sync/atomic"

	"github.com/minio/sha256-simd"
)

const (
	// NonceSpace is the number of distinct 32-bit nonces
	NonceSpace uint64 = 1 << 32

	// NotFound is returned as the nonce when a partition holds no solution
	NotFound int64 = -1

	// Number of hashes between cancellation checks and counter updates
	checkInterval = 1024
)

var ErrSearchCancelled = errors.New("search cancelled")

// BuildCandidate returns the block with the nonce appended as 4 big-endian bytes.
// The block is never modified
func BuildCandidate(block []byte, nonce uint32) []byte {
	ret := make([]byte, len(block)+4)
	copy(ret, block)
	binary.BigEndian.PutUint32(ret[len(block):], nonce)
	return ret
}

// Digest hashes the candidate twice
func Digest(candidate []byte) [sha256.Size]byte {
	// Hash it once
	hash := sha256.Sum256(candidate)
	// And hash it again
	return sha256.Sum256(hash[:])
}

// LeadingZeroBits counts zero bits from the most significant end of the hash,
// stopping at the first non-zero nibble
func LeadingZeroBits(hash []byte) int {
	var ret int
	for _, b := range hash {
		for _, nibble := range [2]byte{b >> 4, b & 0x0f} {
			switch {
			case nibble == 0:
				ret += 4
				continue
			case nibble < 2:
				ret += 3
			case nibble < 4:
				ret += 2
			case nibble < 8:
				ret += 1
			}
			return ret
		}
	}
	return ret
}

func MeetsDifficulty(zeroBits int, difficulty int) bool {
	return zeroBits >= difficulty
}

// FindNonce walks the partition (step, start) and returns the first nonce
// whose digest meets the difficulty along with its leading zero bits. When the
// partition is exhausted it returns (NotFound, 0). Step must be non-zero
func FindNonce(block []byte, difficulty int, step uint32, start uint32) (int64, int) {
	// A background context never cancels, so the error is always nil
	nonce, zeros, _ := Search(
		context.Background(),
		block,
		difficulty,
		Partition{Step: step, Start: start},
		nil,
	)
	return nonce, zeros
}

// Search is FindNonce with cancellation and an optional shared hash counter
func Search(
	ctx context.Context,
	block []byte,
	difficulty int,
	partition Partition,
	hashCounter *atomic.Uint64,
) (int64, int, error) {
	if partition.Step == 0 {
		return NotFound, 0, ErrInvalidWorkerCount
	}
	// Reuse one buffer and only rewrite the nonce bytes
	candidate := BuildCandidate(block, 0)
	nonceBytes := candidate[len(block):]
	var hashes, reported uint64
	for nonce := uint64(partition.Start); nonce < NonceSpace; nonce += uint64(partition.Step) {
		binary.BigEndian.PutUint32(nonceBytes, uint32(nonce))
		hash := Digest(candidate)
		zeros := LeadingZeroBits(hash[:])
		hashes++
		if MeetsDifficulty(zeros, difficulty) {
			addHashes(hashCounter, hashes-reported)
			return int64(nonce), zeros, nil
		}
		if hashes%checkInterval == 0 {
			addHashes(hashCounter, hashes-reported)
			reported = hashes
			// Check for shutdown
			select {
			case <-ctx.Done():
				return NotFound, 0, ErrSearchCancelled
			default:
			}
		}
	}
	addHashes(hashCounter, hashes-reported)
	return NotFound, 0, nil
}

func addHashes(counter *atomic.Uint64, count uint64) {
	if counter != nil && count > 0 {
		counter.Add(count)
	}
}
