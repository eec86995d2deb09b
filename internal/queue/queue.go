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

// Package queue provides the message channel that workers publish results to
// and the coordinator consumes from. Every backend offers the same
// publish/receive/delete contract with string attributes and long polling
package queue

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("queue closed")

// Message is a received message. Handle identifies this particular delivery
// and is what Delete needs
type Message struct {
	ID         string            `cbor:"1,keyasint"`
	Body       string            `cbor:"2,keyasint"`
	Attributes map[string]string `cbor:"3,keyasint,omitempty"`
	Handle     string            `cbor:"4,keyasint,omitempty"`
}

// Channel is the shared result channel
type Channel interface {
	// Publish adds a message
	Publish(ctx context.Context, body string, attributes map[string]string) error
	// Receive waits up to maxWait for messages and returns whatever arrived,
	// which may be nothing. Received messages stay invisible to other
	// receivers until deleted or until the backend's visibility timeout
	Receive(ctx context.Context, maxWait time.Duration) ([]Message, error)
	// Delete acknowledges a received message
	Delete(ctx context.Context, msg Message) error
	Close() error
}
