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

package queue

import (
	"context"
	"maps"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process channel used by the inproc provisioner and tests
type Memory struct {
	mu       sync.Mutex
	messages []*memoryMessage
	notify   chan struct{}
	nextID   uint64
	closed   bool
	// Visibility is how long a received message stays hidden
	Visibility time.Duration
	// Now is swappable for tests
	Now func() time.Time
}

type memoryMessage struct {
	msg          Message
	invisibleTil time.Time
	deliveries   int
}

func NewMemory(visibility time.Duration) *Memory {
	return &Memory{
		notify:     make(chan struct{}),
		Visibility: visibility,
		Now:        time.Now,
	}
}

func (m *Memory) Publish(ctx context.Context, body string, attributes map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.nextID++
	m.messages = append(
		m.messages,
		&memoryMessage{
			msg: Message{
				ID:         strconv.FormatUint(m.nextID, 10),
				Body:       body,
				Attributes: maps.Clone(attributes),
			},
		},
	)
	// Wake up any waiting receivers
	close(m.notify)
	m.notify = make(chan struct{})
	return nil
}

func (m *Memory) Receive(ctx context.Context, maxWait time.Duration) ([]Message, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		ret := m.collect()
		notify := m.notify
		m.mu.Unlock()
		if len(ret) > 0 {
			return ret, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
		}
	}
}

// collect leases every visible message. Caller holds the lock
func (m *Memory) collect() []Message {
	var ret []Message
	now := m.Now()
	for _, tmp := range m.messages {
		if now.Before(tmp.invisibleTil) {
			continue
		}
		tmp.deliveries++
		tmp.invisibleTil = now.Add(m.Visibility)
		msg := tmp.msg
		msg.Attributes = maps.Clone(tmp.msg.Attributes)
		msg.Handle = msg.ID + "." + strconv.Itoa(tmp.deliveries)
		ret = append(ret, msg)
	}
	return ret
}

func (m *Memory) Delete(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for idx, tmp := range m.messages {
		if tmp.msg.ID != msg.ID {
			continue
		}
		// A stale handle from an earlier delivery does not delete
		if msg.Handle != tmp.msg.ID+"."+strconv.Itoa(tmp.deliveries) {
			return nil
		}
		m.messages = append(m.messages[:idx], m.messages[idx+1:]...)
		return nil
	}
	return nil
}

// Len returns the number of messages not yet deleted
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.notify)
	}
	return nil
}
