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
	"errors"
	"fmt"

	"github.com/blinklabs-io/goldnonce/internal/config"
	"github.com/blinklabs-io/goldnonce/internal/storage"
)

// Open returns the channel selected by the config. The memory backend only
// makes sense within one process
func Open(ctx context.Context, cfg *config.Config) (Channel, error) {
	switch cfg.Queue.Backend {
	case config.QueueSQS:
		return NewSQSFromRegion(ctx, cfg.AWS.Region, cfg.Queue.Name)
	case config.QueueBadger:
		store := storage.GetStorage()
		if err := store.Load(cfg.Queue.Directory); err != nil {
			return nil, fmt.Errorf("failed to open queue storage: %w", err)
		}
		return &ownedBadger{
			Badger: NewBadger(store, cfg.Queue.Name, cfg.Queue.VisibilityTimeout),
			store:  store,
		}, nil
	case config.QueueGRPC:
		return DialGRPC(cfg.Queue.Address)
	case config.QueueMemory:
		return NewMemory(cfg.Queue.VisibilityTimeout), nil
	default:
		return nil, fmt.Errorf("unknown queue backend: %s", cfg.Queue.Backend)
	}
}

// ownedBadger closes its store along with the queue
type ownedBadger struct {
	*Badger
	store *storage.Storage
}

func (o *ownedBadger) Close() error {
	return errors.Join(o.Badger.Close(), o.store.Close())
}
