// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package outbound

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/transport"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// fakeGate hands out a driver only when ready.
type fakeGate struct {
	drv   transport.Driver
	ready bool
}

func (g *fakeGate) DriverIfReady() (transport.Driver, bool) {
	if !g.ready {
		return nil, false
	}
	return g.drv, true
}

func testConfig() Config {
	return Config{
		DefaultCountryCode:  "1",
		TargetRatePerSecond: 1000,
		TargetBurst:         100,
	}
}

func TestSendTextNotReady(t *testing.T) {
	drv := transport.NewFakeDriver()
	d := New(testConfig(), &fakeGate{drv: drv, ready: false})

	res, err := d.SendText(context.Background(), "5551234567", "hello")
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
	if res != nil {
		t.Errorf("res = %+v, want nil", res)
	}
	// Fail-fast means zero transport calls.
	if n := len(drv.TextSends()); n != 0 {
		t.Errorf("driver saw %d sends, want 0", n)
	}
}

func TestSendTextSuccess(t *testing.T) {
	drv := transport.NewFakeDriver()
	d := New(testConfig(), &fakeGate{drv: drv, ready: true})

	res, err := d.SendText(context.Background(), "5551234567", "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if !res.Success || res.TransportMessageID == "" {
		t.Errorf("unexpected result: %+v", res)
	}

	sends := drv.TextSends()
	if len(sends) != 1 {
		t.Fatalf("driver saw %d sends, want 1", len(sends))
	}
	if sends[0].Target != "15551234567@c.us" {
		t.Errorf("target = %q, want normalized address", sends[0].Target)
	}
	if sends[0].Text != "hello" {
		t.Errorf("text = %q", sends[0].Text)
	}
}

func TestSendTextInvalidTarget(t *testing.T) {
	drv := transport.NewFakeDriver()
	d := New(testConfig(), &fakeGate{drv: drv, ready: true})

	if _, err := d.SendText(context.Background(), "garbage", "hi"); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("err = %v, want ErrInvalidTarget", err)
	}
	if n := len(drv.TextSends()); n != 0 {
		t.Errorf("driver saw %d sends, want 0", n)
	}
}

func TestSendTextTransportRejection(t *testing.T) {
	drv := transport.NewFakeDriver()
	drv.SendErr = errors.New("number not on network")
	d := New(testConfig(), &fakeGate{drv: drv, ready: true})

	res, err := d.SendText(context.Background(), "5551234567", "hello")
	if !errors.Is(err, ErrSendFailed) {
		t.Errorf("err = %v, want ErrSendFailed", err)
	}
	if res == nil || res.Success {
		t.Fatalf("expected failed result, got %+v", res)
	}
	if res.FailureReason == "" {
		t.Error("expected transport reason preserved in result")
	}
}

func TestSendVoiceSetsVoiceNoteFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.ogg")
	if err := os.WriteFile(path, []byte("opus-bytes"), 0o640); err != nil {
		t.Fatalf("write voice file: %v", err)
	}

	drv := transport.NewFakeDriver()
	d := New(testConfig(), &fakeGate{drv: drv, ready: true})

	if _, err := d.SendVoice(context.Background(), "5551234567", path); err != nil {
		t.Fatalf("SendVoice: %v", err)
	}

	sends := drv.MediaSends()
	if len(sends) != 1 {
		t.Fatalf("driver saw %d media sends, want 1", len(sends))
	}
	if !sends[0].Opts.VoiceNote {
		t.Error("voice send must set the voice-note flag")
	}
	if sends[0].MimeType != "audio/ogg; codecs=opus" {
		t.Errorf("mime = %q, want voice-note container mime", sends[0].MimeType)
	}
}

func TestSendFileCaptionAndMime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o640); err != nil {
		t.Fatalf("write file: %v", err)
	}

	drv := transport.NewFakeDriver()
	d := New(testConfig(), &fakeGate{drv: drv, ready: true})

	if _, err := d.SendFile(context.Background(), "5551234567", path, "holiday"); err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	sends := drv.MediaSends()
	if len(sends) != 1 {
		t.Fatalf("driver saw %d media sends, want 1", len(sends))
	}
	if sends[0].Opts.VoiceNote {
		t.Error("file send must not set the voice-note flag")
	}
	if sends[0].Opts.Caption != "holiday" {
		t.Errorf("caption = %q", sends[0].Opts.Caption)
	}
}

func TestSendFileConfinedToSendRoot(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "doc.pdf")
	if err := os.WriteFile(inside, []byte("pdf-bytes"), 0o640); err != nil {
		t.Fatalf("write file: %v", err)
	}
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("keep-out"), 0o640); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg := testConfig()
	cfg.SendRoot = root
	drv := transport.NewFakeDriver()
	d := New(cfg, &fakeGate{drv: drv, ready: true})

	if _, err := d.SendFile(context.Background(), "5551234567", inside, ""); err != nil {
		t.Fatalf("SendFile inside root: %v", err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"outside root", outside},
		{"traversal out of root", filepath.Join(root, "..", "escape.txt")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.SendFile(context.Background(), "5551234567", tt.path, ""); !errors.Is(err, ErrPathNotAllowed) {
				t.Errorf("err = %v, want ErrPathNotAllowed", err)
			}
		})
	}

	// Only the in-root payload reached the driver; nothing was read for
	// the rejected paths.
	if n := len(drv.MediaSends()); n != 1 {
		t.Errorf("driver saw %d media sends, want 1", n)
	}
}

func TestSendFileMissingPath(t *testing.T) {
	drv := transport.NewFakeDriver()
	d := New(testConfig(), &fakeGate{drv: drv, ready: true})

	if _, err := d.SendFile(context.Background(), "5551234567", "/does/not/exist.png", ""); err == nil {
		t.Error("expected error for missing payload file")
	}
	if n := len(drv.MediaSends()); n != 0 {
		t.Errorf("driver saw %d sends, want 0", n)
	}
}
