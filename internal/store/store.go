// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

// Package store is the persistence collaborator for normalized messages
// and conversation summaries, backed by Badger.
//
// Message upserts are idempotent by transport message id: the ingestion
// pipeline has no durable memory of past ids across restarts, so duplicate
// transport redeliveries are absorbed here.
package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// ErrNotFound is returned when a message or conversation does not exist.
var ErrNotFound = errors.New("record not found")

// Key prefixes. Messages are keyed by transport id; conversations by
// conversation id.
const (
	msgPrefix  = "msg/"
	convPrefix = "conv/"
)

// Conversation is a per-conversation summary kept up to date as messages
// arrive.
type Conversation struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	LastMessageID   string `json:"last_message_id"`
	LastBody        string `json:"last_body"`
	LastTimestampMs int64  `json:"last_timestamp_ms"`
	MessageCount    int64  `json:"message_count"`
}

// Store wraps a Badger database.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open message store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertMessage stores a normalized message payload under its transport
// message id. Returns created=false when the id was already present; the
// stored record is left untouched in that case, so redelivery of the same
// id results in exactly one record.
func (s *Store) UpsertMessage(id string, payload []byte) (created bool, err error) {
	key := []byte(msgPrefix + id)

	err = s.db.Update(func(txn *badger.Txn) error {
		_, getErr := txn.Get(key)
		if getErr == nil {
			return nil
		}
		if !errors.Is(getErr, badger.ErrKeyNotFound) {
			return getErr
		}
		created = true
		return txn.Set(key, payload)
	})
	if err != nil {
		return false, fmt.Errorf("upsert message %s: %w", id, err)
	}
	return created, nil
}

// GetMessage returns the stored payload for a transport message id.
func (s *Store) GetMessage(id string) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(msgPrefix + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// UpsertConversation merges a summary update into the stored conversation.
// A redelivered message (same LastMessageID) does not bump the counter.
func (s *Store) UpsertConversation(update Conversation) error {
	key := []byte(convPrefix + update.ID)

	err := s.db.Update(func(txn *badger.Txn) error {
		existing := Conversation{ID: update.ID}

		item, getErr := txn.Get(key)
		switch {
		case getErr == nil:
			if valErr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); valErr != nil {
				return valErr
			}
		case !errors.Is(getErr, badger.ErrKeyNotFound):
			return getErr
		}

		merged := mergeConversation(existing, update)
		data, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", update.ID, err)
	}
	return nil
}

// mergeConversation folds an update into an existing summary.
func mergeConversation(existing, update Conversation) Conversation {
	merged := existing

	if update.LastMessageID != existing.LastMessageID {
		merged.MessageCount++
	}
	if update.LastTimestampMs >= existing.LastTimestampMs {
		merged.LastMessageID = update.LastMessageID
		merged.LastBody = update.LastBody
		merged.LastTimestampMs = update.LastTimestampMs
		if update.DisplayName != "" {
			merged.DisplayName = update.DisplayName
		}
	}
	return merged
}

// GetConversation returns one conversation summary.
func (s *Store) GetConversation(id string) (Conversation, error) {
	var conv Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(convPrefix + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &conv)
		})
	})
	return conv, err
}

// ListConversations returns all conversation summaries.
func (s *Store) ListConversations() ([]Conversation, error) {
	var convs []Conversation

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(convPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var conv Conversation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &conv)
			}); err != nil {
				return err
			}
			convs = append(convs, conv)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}
