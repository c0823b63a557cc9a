// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/transport"
)

// ErrWriteFailed is returned when an attachment could not be persisted
// after the collision retry. Never fatal to the owning message.
var ErrWriteFailed = errors.New("media write failed")

// ErrTooLarge is returned when an attachment exceeds the configured size limit.
var ErrTooLarge = errors.New("media exceeds size limit")

// Descriptor describes one persisted attachment.
type Descriptor struct {
	StoredFilename string   `json:"stored_filename"`
	MimeType       string   `json:"mime_type"`
	SizeBytes      int64    `json:"size_bytes"`
	Category       Category `json:"category"`
	IsVoiceNote    bool     `json:"is_voice_note"`
}

// Store persists attachment bytes to a single flat directory.
type Store struct {
	dir     string
	maxSize int64
}

// NewStore creates the media directory if needed and returns a Store.
// maxSize of 0 disables the size limit.
func NewStore(dir string, maxSize int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create media dir %s: %w", dir, err)
	}
	return &Store{dir: dir, maxSize: maxSize}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Store classifies and persists one attachment. The filename combines a
// fresh UUID with the inbound message id so concurrent ingestion cannot
// collide; a write failure is retried exactly once with a regenerated name
// before giving up with ErrWriteFailed.
func (s *Store) Store(data []byte, declaredMime string, hint transport.MessageType, messageID string) (*Descriptor, error) {
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(data), s.maxSize)
	}

	cls := Classify(declaredMime, hint)

	name := s.filename(messageID, cls.Extension)
	if err := s.writeFile(name, data); err != nil {
		logging.Warn().Err(err).Str("filename", name).Msg("media write failed, retrying with regenerated name")
		name = s.filename(messageID, cls.Extension)
		if err = s.writeFile(name, data); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrWriteFailed, err)
		}
	}

	return &Descriptor{
		StoredFilename: name,
		MimeType:       normalizeMime(declaredMime),
		SizeBytes:      int64(len(data)),
		Category:       cls.Category,
		IsVoiceNote:    cls.IsVoiceNote,
	}, nil
}

// filename builds "<uuid>-<messageID>.<ext>" with the message id sanitized
// to a filesystem-safe token.
func (s *Store) filename(messageID, ext string) string {
	return uuid.NewString() + "-" + sanitizeToken(messageID) + "." + ext
}

// writeFile writes atomically-enough for a single writer: exclusive create
// so a name collision surfaces as an error instead of an overwrite.
func (s *Store) writeFile(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// sanitizeToken keeps alphanumerics, dash and underscore; everything else
// becomes an underscore. Transport message ids can contain '@' and ':'.
func sanitizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
