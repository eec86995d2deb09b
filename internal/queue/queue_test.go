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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/blinklabs-io/goldnonce/internal/storage"
)

const testVisibility = 200 * time.Millisecond

type channelFactory func(t *testing.T) Channel

func newMemoryChannel(t *testing.T) Channel {
	return NewMemory(testVisibility)
}

func newBadgerChannel(t *testing.T) Channel {
	store := &storage.Storage{}
	require.NoError(t, store.Load(""))
	t.Cleanup(func() {
		_ = store.Close()
	})
	return NewBadger(store, "results", testVisibility)
}

// newGRPCChannel serves a memory channel over an in-memory listener
func newGRPCChannel(t *testing.T) Channel {
	lis := bufconn.Listen(1024 * 1024)
	server := NewServer(NewMemory(testVisibility))
	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(server.Stop)
	client, err := DialGRPC(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	return client
}

var channelFactories = map[string]channelFactory{
	"memory": newMemoryChannel,
	"badger": newBadgerChannel,
	"grpc":   newGRPCChannel,
}

func TestChannelContract(t *testing.T) {
	for name, factory := range channelFactories {
		t.Run(name, func(t *testing.T) {
			t.Run("publish and receive", func(t *testing.T) {
				testPublishReceive(t, factory(t))
			})
			t.Run("received messages are hidden", func(t *testing.T) {
				testVisibilityTimeout(t, factory(t))
			})
			t.Run("delete", func(t *testing.T) {
				testDelete(t, factory(t))
			})
			t.Run("stale handle", func(t *testing.T) {
				testStaleHandle(t, factory(t))
			})
			t.Run("empty wait", func(t *testing.T) {
				testEmptyWait(t, factory(t))
			})
			t.Run("wakes on publish", func(t *testing.T) {
				testWakeOnPublish(t, factory(t))
			})
			t.Run("cancelled", func(t *testing.T) {
				testReceiveCancelled(t, factory(t))
			})
		})
	}
}

func testPublishReceive(t *testing.T, ch Channel) {
	defer ch.Close()
	ctx := context.Background()
	require.NoError(t, ch.Publish(ctx, "FOUND 161 with 9", map[string]string{"SearchID": "abc"}))
	require.NoError(t, ch.Publish(ctx, "FOUND 58 with 4", nil))

	msgs, err := ch.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "FOUND 161 with 9", msgs[0].Body)
	assert.Equal(t, "abc", msgs[0].Attributes["SearchID"])
	assert.NotEmpty(t, msgs[0].ID)
	assert.NotEmpty(t, msgs[0].Handle)
	assert.Equal(t, "FOUND 58 with 4", msgs[1].Body)
	assert.Empty(t, msgs[1].Attributes)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

func testVisibilityTimeout(t *testing.T, ch Channel) {
	defer ch.Close()
	ctx := context.Background()
	require.NoError(t, ch.Publish(ctx, "body", nil))
	msgs, err := ch.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msgs, err = ch.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Undeleted messages come back once the lease runs out
	time.Sleep(testVisibility + 50*time.Millisecond)
	msgs, err = ch.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "body", msgs[0].Body)
}

func testDelete(t *testing.T, ch Channel) {
	defer ch.Close()
	ctx := context.Background()
	require.NoError(t, ch.Publish(ctx, "body", nil))
	msgs, err := ch.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, ch.Delete(ctx, msgs[0]))

	time.Sleep(testVisibility + 50*time.Millisecond)
	msgs, err = ch.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func testStaleHandle(t *testing.T, ch Channel) {
	defer ch.Close()
	ctx := context.Background()
	require.NoError(t, ch.Publish(ctx, "body", nil))
	first, err := ch.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Len(t, first, 1)

	time.Sleep(testVisibility + 50*time.Millisecond)
	second, err := ch.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.NotEqual(t, first[0].Handle, second[0].Handle)

	// The first delivery no longer owns the message
	require.NoError(t, ch.Delete(ctx, first[0]))
	require.NoError(t, ch.Delete(ctx, second[0]))
	time.Sleep(testVisibility + 50*time.Millisecond)
	msgs, err := ch.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func testEmptyWait(t *testing.T, ch Channel) {
	defer ch.Close()
	start := time.Now()
	msgs, err := ch.Receive(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func testWakeOnPublish(t *testing.T, ch Channel) {
	defer ch.Close()
	ctx := context.Background()
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = ch.Publish(ctx, "late", nil)
	}()
	start := time.Now()
	msgs, err := ch.Receive(ctx, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "late", msgs[0].Body)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func testReceiveCancelled(t *testing.T, ch Channel) {
	defer ch.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ch.Receive(ctx, 5*time.Second)
	require.Error(t, err)
}

func TestMemoryClose(t *testing.T) {
	m := NewMemory(time.Second)
	done := make(chan error, 1)
	go func() {
		_, err := m.Receive(context.Background(), 5*time.Second)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Close())
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not return after close")
	}
	require.ErrorIs(t, m.Publish(context.Background(), "body", nil), ErrClosed)
	// Closing twice is harmless
	require.NoError(t, m.Close())
}

func TestMemoryVisibilityClock(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewMemory(30 * time.Second)
	m.Now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, m.Publish(ctx, "body", nil))
	msgs, err := m.Receive(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	now = now.Add(29 * time.Second)
	msgs, err = m.Receive(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	now = now.Add(2 * time.Second)
	msgs, err = m.Receive(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, m.Delete(ctx, msgs[0]))
	assert.Equal(t, 0, m.Len())
}

func TestBadgerRedeliversAfterRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store := &storage.Storage{}
	require.NoError(t, store.Load(dir))
	b := NewBadger(store, "results", time.Minute)
	require.NoError(t, b.Publish(ctx, "durable", map[string]string{"SearchID": "abc"}))
	msgs, err := b.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, b.Close())
	require.NoError(t, store.Close())

	// Leases are not persisted, so the undeleted message is visible again
	store = &storage.Storage{}
	require.NoError(t, store.Load(dir))
	defer store.Close()
	b = NewBadger(store, "results", time.Minute)
	defer b.Close()
	msgs, err = b.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "durable", msgs[0].Body)
	assert.Equal(t, "abc", msgs[0].Attributes["SearchID"])
}

func TestBadgerDeleteInvalidHandle(t *testing.T) {
	b := newBadgerChannel(t)
	defer b.Close()
	err := b.Delete(context.Background(), Message{ID: "1", Handle: "bogus"})
	require.Error(t, err)
}
