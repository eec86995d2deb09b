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
	"crypto/sha256"
	"hash"
	"testing"

	sha256_simd "github.com/minio/sha256-simd"
)

var benchBlock = []byte("COMSM0010cloud")

// BenchmarkBuildCandidate tests the performance of building a fresh candidate
// each iteration
func BenchmarkBuildCandidate(b *testing.B) {
	for i := 0; i < b.N; i++ {
		BuildCandidate(benchBlock, uint32(i)) // #nosec G115
	}
}

// BenchmarkSha256Builtin tests the performance of crypto/sha256
func BenchmarkSha256Builtin(b *testing.B) {
	var hasher hash.Hash
	candidate := BuildCandidate(benchBlock, 0)
	for i := 0; i < b.N; i++ {
		hasher = sha256.New()
		hasher.Write(candidate)
		hasher.Sum(nil)
	}
}

// BenchmarkSha256Simd tests the performance github.com/minio/sha256-simd
func BenchmarkSha256Simd(b *testing.B) {
	var hasher hash.Hash
	candidate := BuildCandidate(benchBlock, 0)
	for i := 0; i < b.N; i++ {
		hasher = sha256_simd.New()
		hasher.Write(candidate)
		hasher.Sum(nil)
	}
}

// BenchmarkDigest tests the performance of the double hash plus zero count
// done for every nonce
func BenchmarkDigest(b *testing.B) {
	candidate := BuildCandidate(benchBlock, 0)
	for i := 0; i < b.N; i++ {
		hash := Digest(candidate)
		LeadingZeroBits(hash[:])
	}
}

// BenchmarkFindNonce tests a complete search at a low difficulty
func BenchmarkFindNonce(b *testing.B) {
	for i := 0; i < b.N; i++ {
		FindNonce(benchBlock, 8, 1, 0)
	}
}
