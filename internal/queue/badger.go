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
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/blinklabs-io/goldnonce/internal/storage"
)

// Badger is a durable queue on top of the badger store. Messages survive a
// restart; leases do not, so anything received but not deleted before a
// restart is delivered again
type Badger struct {
	store      *storage.Storage
	name       string
	visibility time.Duration
	mu         sync.Mutex
	leases     map[uint64]lease
	notify     chan struct{}
	closed     bool
}

type lease struct {
	handle string
	until  time.Time
}

type badgerRecord struct {
	Body       string            `cbor:"1,keyasint"`
	Attributes map[string]string `cbor:"2,keyasint,omitempty"`
	Published  int64             `cbor:"3,keyasint"`
}

func NewBadger(store *storage.Storage, name string, visibility time.Duration) *Badger {
	return &Badger{
		store:      store,
		name:       name,
		visibility: visibility,
		leases:     make(map[uint64]lease),
		notify:     make(chan struct{}),
	}
}

func (b *Badger) Publish(ctx context.Context, body string, attributes map[string]string) error {
	if b.isClosed() {
		return ErrClosed
	}
	data, err := cbor.Marshal(
		badgerRecord{
			Body:       body,
			Attributes: attributes,
			Published:  time.Now().UnixMilli(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	id, err := b.store.NextMessageID(b.name)
	if err != nil {
		return fmt.Errorf("failed to allocate message ID: %w", err)
	}
	if err := b.store.PutMessage(b.name, id, data); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		// Wake up any waiting receivers
		close(b.notify)
		b.notify = make(chan struct{})
	}
	return nil
}

func (b *Badger) Receive(ctx context.Context, maxWait time.Duration) ([]Message, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		notify := b.notify
		b.mu.Unlock()
		ret, err := b.collect()
		if err != nil {
			return nil, err
		}
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

func (b *Badger) collect() ([]Message, error) {
	stored, err := b.store.GetMessages(b.name)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	var ret []Message
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tmp := range stored {
		if l, ok := b.leases[tmp.ID]; ok && now.Before(l.until) {
			continue
		}
		var record badgerRecord
		if err := cbor.Unmarshal(tmp.Data, &record); err != nil {
			// Leave undecodable records in place but don't hand them out
			slog.Warn(
				fmt.Sprintf("skipping undecodable message %d: %s", tmp.ID, err),
			)
			continue
		}
		id := strconv.FormatUint(tmp.ID, 10)
		handle := fmt.Sprintf("%s.%d", id, now.UnixNano())
		b.leases[tmp.ID] = lease{handle: handle, until: now.Add(b.visibility)}
		ret = append(
			ret,
			Message{
				ID:         id,
				Body:       record.Body,
				Attributes: record.Attributes,
				Handle:     handle,
			},
		)
	}
	return ret, nil
}

func (b *Badger) Delete(ctx context.Context, msg Message) error {
	idStr, _, _ := strings.Cut(msg.Handle, ".")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid receipt handle %q: %w", msg.Handle, err)
	}
	b.mu.Lock()
	l, ok := b.leases[id]
	if !ok || l.handle != msg.Handle {
		b.mu.Unlock()
		// Stale delivery, someone else owns the message now
		return nil
	}
	delete(b.leases, id)
	b.mu.Unlock()
	return b.store.DeleteMessage(b.name, id)
}

func (b *Badger) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close stops receivers. The underlying store is owned by the caller
func (b *Badger) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.notify)
	}
	return nil
}
