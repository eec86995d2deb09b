// Copyright 2024 Blink Labs Software
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
	"errors"
	"fmt"
	"math"
)

var ErrInvalidWorkerCount = errors.New("invalid worker count")

// Partition is the strided slice of the nonce space examined by one worker:
// Start, Start+Step, Start+2*Step, ... while below NonceSpace
type Partition struct {
	Step  uint32
	Start uint32
}

// Partitions splits the nonce space across n workers. Worker i gets (n, i), so
// every nonce belongs to exactly one partition
func Partitions(n int) ([]Partition, error) {
	if n < 1 || uint64(n) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkerCount, n)
	}
	ret := make([]Partition, n)
	for i := range n {
		ret[i] = Partition{
			Step:  uint32(n),
			Start: uint32(i), // #nosec G115
		}
	}
	return ret, nil
}

func (p Partition) Contains(nonce uint32) bool {
	if p.Step == 0 || nonce < p.Start {
		return false
	}
	return (nonce-p.Start)%p.Step == 0
}

// Len returns the number of nonces in the partition
func (p Partition) Len() uint64 {
	if p.Step == 0 || uint64(p.Start) >= NonceSpace {
		return 0
	}
	return (NonceSpace-uint64(p.Start)-1)/uint64(p.Step) + 1
}

func (p Partition) String() string {
	return fmt.Sprintf("step=%d start=%d", p.Step, p.Start)
}
