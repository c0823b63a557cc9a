// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package media

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/transport"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func TestStoreWritesDescriptor(t *testing.T) {
	st, err := NewStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	payload := []byte("voice-note-bytes")
	desc, err := st.Store(payload, "audio/ogg; codecs=opus", transport.MessageVoice, "true_123@c.us_ABC")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if !desc.IsVoiceNote {
		t.Error("expected voice note flag")
	}
	if desc.Category != CategoryAudio {
		t.Errorf("Category = %q, want %q", desc.Category, CategoryAudio)
	}
	if desc.MimeType != "audio/ogg" {
		t.Errorf("MimeType = %q, want audio/ogg", desc.MimeType)
	}
	if desc.SizeBytes != int64(len(payload)) {
		t.Errorf("SizeBytes = %d, want %d", desc.SizeBytes, len(payload))
	}
	if !strings.HasSuffix(desc.StoredFilename, ".ogg") {
		t.Errorf("StoredFilename = %q, want .ogg suffix", desc.StoredFilename)
	}
	// Message id separators must be sanitized out of the filename.
	if strings.ContainsAny(desc.StoredFilename, "@:") {
		t.Errorf("StoredFilename %q contains unsanitized characters", desc.StoredFilename)
	}

	data, err := os.ReadFile(filepath.Join(st.Dir(), desc.StoredFilename))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != string(payload) {
		t.Error("stored bytes differ from payload")
	}
}

func TestStoreUniqueNamesForSameMessage(t *testing.T) {
	st, err := NewStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	a, err := st.Store([]byte("one"), "image/jpeg", transport.MessageImage, "msg-1")
	if err != nil {
		t.Fatalf("first Store: %v", err)
	}
	b, err := st.Store([]byte("two"), "image/jpeg", transport.MessageImage, "msg-1")
	if err != nil {
		t.Fatalf("second Store: %v", err)
	}
	if a.StoredFilename == b.StoredFilename {
		t.Errorf("expected distinct filenames, both %q", a.StoredFilename)
	}
}

func TestStoreSizeLimit(t *testing.T) {
	st, err := NewStore(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if _, err := st.Store([]byte("12345678"), "text/plain", transport.MessageDocument, "ok"); err != nil {
		t.Errorf("payload at limit rejected: %v", err)
	}
	_, err = st.Store([]byte("123456789"), "text/plain", transport.MessageDocument, "big")
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestStoreWriteFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks are bypassed when running as root")
	}

	dir := t.TempDir()
	st, err := NewStore(dir, 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// Make the directory unwritable so both the write and its retry fail.
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o750) })

	_, err = st.Store([]byte("data"), "image/png", transport.MessageImage, "msg")
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("err = %v, want ErrWriteFailed", err)
	}
}
