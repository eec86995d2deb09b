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

// Package search holds the types shared by the coordinator and its workers:
// the search identifier and the result message exchanged over the channel
package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blinklabs-io/goldnonce/internal/miner"
)

const (
	// IDAttribute is the message attribute carrying the search identifier
	IDAttribute = "SearchID"
	// StartAttribute identifies the partition a result came from by its
	// start offset
	StartAttribute = "PartitionStart"

	resultFormat = "FOUND %d with %d"
)

var ErrMalformedResult = errors.New("malformed result")

// NewID returns a fresh search identifier. Version 7 UUIDs lead with a
// millisecond timestamp, so identifiers sort by creation time
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate search ID: %w", err)
	}
	return id.String(), nil
}

// IDTime extracts the creation time from a search identifier
func IDTime(id string) (time.Time, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	if parsed.Version() != 7 {
		return time.Time{}, fmt.Errorf("search ID %s is not time based", id)
	}
	sec, nsec := parsed.Time().UnixTime()
	return time.Unix(sec, nsec), nil
}

// Result is the payload a worker emits when it stops
type Result struct {
	Nonce    int64
	ZeroBits int
	SearchID string
}

// Found reports whether the result carries a nonce rather than exhaustion
func (r Result) Found() bool {
	return r.Nonce != miner.NotFound
}

// Meets reports whether the result is an acceptable solution for difficulty
func (r Result) Meets(difficulty int) bool {
	return r.Found() && miner.MeetsDifficulty(r.ZeroBits, difficulty)
}

// Body renders the message body
func (r Result) Body() string {
	return fmt.Sprintf(resultFormat, r.Nonce, r.ZeroBits)
}

func (r Result) Attributes() map[string]string {
	return map[string]string{
		IDAttribute: r.SearchID,
	}
}

// AttributesFor returns the message attributes for a result produced by the
// given partition
func (r Result) AttributesFor(partition miner.Partition) map[string]string {
	ret := r.Attributes()
	ret[StartAttribute] = strconv.FormatUint(uint64(partition.Start), 10)
	return ret
}

// PartitionStart returns the partition start carried by the attributes. The
// second return is false when it is missing or unparsable
func PartitionStart(attributes map[string]string) (uint32, bool) {
	tmp, ok := attributes[StartAttribute]
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseUint(tmp, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(start), true
}

func (r Result) String() string {
	if !r.Found() {
		return fmt.Sprintf("no nonce found (search %s)", r.SearchID)
	}
	return fmt.Sprintf(
		"Found nonce %d with %d leading zeros",
		r.Nonce,
		r.ZeroBits,
	)
}

// ParseResult decodes a message body and its attributes
func ParseResult(body string, attributes map[string]string) (Result, error) {
	var ret Result
	n, err := fmt.Sscanf(strings.TrimSpace(body), resultFormat, &ret.Nonce, &ret.ZeroBits)
	if err != nil || n != 2 {
		return Result{}, fmt.Errorf("%w: %q", ErrMalformedResult, body)
	}
	if ret.Nonce < miner.NotFound || ret.Nonce >= int64(miner.NonceSpace) || ret.ZeroBits < 0 {
		return Result{}, fmt.Errorf("%w: %q", ErrMalformedResult, body)
	}
	ret.SearchID = attributes[IDAttribute]
	return ret, nil
}
