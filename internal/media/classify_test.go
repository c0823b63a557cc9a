// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package media

import (
	"testing"

	"github.com/parley-chat/parley/internal/transport"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		mime string
		hint transport.MessageType
		want Classification
	}{
		{
			name: "voice hint forces voice note with canonical extension",
			mime: "audio/ogg; codecs=opus",
			hint: transport.MessageVoice,
			want: Classification{Category: CategoryAudio, Extension: "ogg", IsVoiceNote: true},
		},
		{
			name: "voice hint wins even over a mislabeled container",
			mime: "application/octet-stream",
			hint: transport.MessageVoice,
			want: Classification{Category: CategoryAudio, Extension: "ogg", IsVoiceNote: true},
		},
		{
			name: "plain audio is not a voice note",
			mime: "audio/ogg",
			hint: transport.MessageAudio,
			want: Classification{Category: CategoryAudio, Extension: "ogg"},
		},
		{
			name: "jpeg maps to jpg",
			mime: "image/jpeg",
			hint: transport.MessageImage,
			want: Classification{Category: CategoryImage, Extension: "jpg"},
		},
		{
			name: "quicktime maps to mov",
			mime: "video/quicktime",
			hint: transport.MessageVideo,
			want: Classification{Category: CategoryVideo, Extension: "mov"},
		},
		{
			name: "mime parameters and case are normalized",
			mime: "Audio/MPEG; charset=binary",
			hint: transport.MessageAudio,
			want: Classification{Category: CategoryAudio, Extension: "mp3"},
		},
		{
			name: "pdf is a document",
			mime: "application/pdf",
			hint: transport.MessageDocument,
			want: Classification{Category: CategoryDocument, Extension: "pdf"},
		},
		{
			name: "unknown mime falls back to hint category and bin extension",
			mime: "application/octet-stream",
			hint: transport.MessageDocument,
			want: Classification{Category: CategoryDocument, Extension: "bin"},
		},
		{
			name: "unknown mime without useful hint is a generic file",
			mime: "application/octet-stream",
			hint: transport.MessageOther,
			want: Classification{Category: CategoryFile, Extension: "bin"},
		},
		{
			name: "unknown subtype short enough becomes the extension",
			mime: "image/bmp",
			hint: transport.MessageImage,
			want: Classification{Category: CategoryImage, Extension: "bmp"},
		},
		{
			name: "x- vendor prefix is stripped in fallback",
			mime: "audio/x-flac",
			hint: transport.MessageAudio,
			want: Classification{Category: CategoryAudio, Extension: "flac"},
		},
		{
			name: "empty mime with no hint",
			mime: "",
			hint: transport.MessageOther,
			want: Classification{Category: CategoryFile, Extension: "bin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.mime, tt.hint)
			if got != tt.want {
				t.Errorf("Classify(%q, %q) = %+v, want %+v", tt.mime, tt.hint, got, tt.want)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	first := Classify("audio/ogg; codecs=opus", transport.MessageVoice)
	for i := 0; i < 10; i++ {
		if got := Classify("audio/ogg; codecs=opus", transport.MessageVoice); got != first {
			t.Fatalf("classification not deterministic: %+v != %+v", got, first)
		}
	}
}

func TestNormalizeMime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"audio/ogg; codecs=opus", "audio/ogg"},
		{"  IMAGE/JPEG ", "image/jpeg"},
		{"video/mp4", "video/mp4"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeMime(tt.in); got != tt.want {
			t.Errorf("normalizeMime(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
