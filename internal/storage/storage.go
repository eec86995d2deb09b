// Copyright 2023 Blink Labs Software
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

package storage

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

const (
	queueKeyPrefix    = "queue_"
	sequenceKeyPrefix = "seq_"
	sequenceBandwidth = 100
)

type Storage struct {
	sync.Mutex
	db        *badger.DB
	sequences map[string]*badger.Sequence
}

// StoredMessage is a raw queue record
type StoredMessage struct {
	ID   uint64
	Data []byte
}

var globalStorage = &Storage{}

// Load opens the database in dir. An empty dir opens an in-memory database
func (s *Storage) Load(dir string) error {
	badgerOpts := badger.DefaultOptions(dir).
		WithLogger(NewBadgerLogger()).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	if dir == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return err
	}
	s.db = db
	s.sequences = make(map[string]*badger.Sequence)
	return nil
}

func (s *Storage) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.db == nil {
		return nil
	}
	for name, seq := range s.sequences {
		if err := seq.Release(); err != nil {
			slog.Warn(
				fmt.Sprintf("failed to release sequence %s: %s", name, err),
			)
		}
	}
	s.sequences = nil
	err := s.db.Close()
	s.db = nil
	return err
}

// NextMessageID returns the next monotonically increasing ID for the queue
func (s *Storage) NextMessageID(queue string) (uint64, error) {
	s.Lock()
	defer s.Unlock()
	seq, ok := s.sequences[queue]
	if !ok {
		var err error
		seq, err = s.db.GetSequence([]byte(sequenceKeyPrefix+queue), sequenceBandwidth)
		if err != nil {
			return 0, err
		}
		s.sequences[queue] = seq
	}
	// Sequences start at zero, which we skip so that IDs are always non-zero
	for {
		id, err := seq.Next()
		if err != nil {
			return 0, err
		}
		if id > 0 {
			return id, nil
		}
	}
}

func (s *Storage) PutMessage(queue string, id uint64, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(queue, id), data); err != nil {
			return err
		}
		return nil
	})
	return err
}

// GetMessages returns all stored messages for the queue in ID order
func (s *Storage) GetMessages(queue string) ([]StoredMessage, error) {
	var ret []StoredMessage
	keyPrefix := []byte(queueKeyPrefix + queue + "_")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			item := it.Item()
			key := item.Key()
			// Skip keys belonging to a queue whose name extends this one
			if len(key) != len(keyPrefix)+8 {
				continue
			}
			id := binary.BigEndian.Uint64(key[len(keyPrefix):])
			err := item.Value(func(v []byte) error {
				// Create copy of value for use outside of transaction
				valCopy := append([]byte{}, v...)
				ret = append(ret, StoredMessage{ID: id, Data: valCopy})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Storage) DeleteMessage(queue string, id uint64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(messageKey(queue, id)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	}
	return nil
}

// Keys use a big-endian ID so that iteration order matches publish order
func messageKey(queue string, id uint64) []byte {
	key := []byte(queueKeyPrefix + queue + "_")
	return binary.BigEndian.AppendUint64(key, id)
}

func GetStorage() *Storage {
	return globalStorage
}

// BadgerLogger is a wrapper type to give our logger the expected interface
type BadgerLogger struct {
	logger *slog.Logger
}

func NewBadgerLogger() *BadgerLogger {
	return &BadgerLogger{
		logger: slog.Default().With("subsystem", "badger"),
	}
}

func (b *BadgerLogger) Errorf(msg string, args ...any) {
	b.logger.Error(fmt.Sprintf(msg, args...))
}

func (b *BadgerLogger) Warningf(msg string, args ...any) {
	b.logger.Warn(fmt.Sprintf(msg, args...))
}

func (b *BadgerLogger) Infof(msg string, args ...any) {
	b.logger.Info(fmt.Sprintf(msg, args...))
}

func (b *BadgerLogger) Debugf(msg string, args ...any) {
	b.logger.Debug(fmt.Sprintf(msg, args...))
}
