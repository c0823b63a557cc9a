// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

// Package media persists inbound attachments to disk and classifies them
// into categories with deterministic file extensions. Extensions are never
// trusted verbatim from the transport: transports routinely mislabel
// voice-note containers, so the mapping from (MIME type, message-type hint)
// to extension and category is a fixed table.
package media

import (
	"strings"

	"github.com/parley-chat/parley/internal/transport"
)

// Category is the derived storage category for an attachment.
type Category string

const (
	CategoryAudio    Category = "audio"
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryDocument Category = "document"
	CategoryFile     Category = "file"
)

// VoiceNoteExtension is the canonical container extension for voice notes.
// Any audio whose message-type hint marks it a voice note is forced to this
// extension regardless of the declared MIME type.
const VoiceNoteExtension = "ogg"

// Classification is the result of classifying one attachment.
type Classification struct {
	Category    Category
	Extension   string
	IsVoiceNote bool
}

// extensionTable maps normalized MIME types to canonical extensions.
// jpeg→jpg and quicktime→mov style corrections live here.
var extensionTable = map[string]string{
	"audio/ogg":  "ogg",
	"audio/opus": "ogg",
	"audio/mpeg": "mp3",
	"audio/mp3":  "mp3",
	"audio/mp4":  "m4a",
	"audio/aac":  "aac",
	"audio/wav":  "wav",
	"audio/webm": "weba",

	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",

	"video/mp4":        "mp4",
	"video/quicktime":  "mov",
	"video/webm":       "webm",
	"video/3gpp":       "3gp",
	"video/x-matroska": "mkv",

	"application/pdf":    "pdf",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.ms-excel": "xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.ms-powerpoint":                                             "ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"text/plain":      "txt",
	"text/csv":        "csv",
	"application/zip": "zip",
}

// documentMimes are MIME types stored under the document category.
var documentMimes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"application/vnd.ms-powerpoint":                                           true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"text/plain": true,
	"text/csv":   true,
}

// Classify derives the storage category, canonical extension and voice-note
// flag for an attachment. It is a pure function over the declared MIME type
// and the transport's message-type hint.
//
// The hint wins over MIME for the voice-note distinction: containers are
// ambiguous (voice notes and audio uploads share audio/ogg), but the
// transport knows which player the sender used.
func Classify(declaredMime string, hint transport.MessageType) Classification {
	mime := normalizeMime(declaredMime)

	if hint == transport.MessageVoice {
		return Classification{
			Category:    CategoryAudio,
			Extension:   VoiceNoteExtension,
			IsVoiceNote: true,
		}
	}

	ext, known := extensionTable[mime]
	if !known {
		ext = fallbackExtension(mime)
	}

	return Classification{
		Category:  categoryFor(mime, hint),
		Extension: ext,
	}
}

// normalizeMime lowercases and strips parameters: "audio/OGG; codecs=opus" → "audio/ogg".
func normalizeMime(mime string) string {
	mime = strings.TrimSpace(strings.ToLower(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}

// categoryFor derives the storage category from MIME with the hint as tiebreaker.
func categoryFor(mime string, hint transport.MessageType) Category {
	switch {
	case strings.HasPrefix(mime, "audio/"):
		return CategoryAudio
	case strings.HasPrefix(mime, "image/"):
		return CategoryImage
	case strings.HasPrefix(mime, "video/"):
		return CategoryVideo
	case documentMimes[mime]:
		return CategoryDocument
	}

	// MIME is unhelpful; fall back to what the transport declared.
	switch hint {
	case transport.MessageAudio:
		return CategoryAudio
	case transport.MessageImage:
		return CategoryImage
	case transport.MessageVideo:
		return CategoryVideo
	case transport.MessageDocument:
		return CategoryDocument
	default:
		return CategoryFile
	}
}

// fallbackExtension derives an extension for MIME types outside the table.
func fallbackExtension(mime string) string {
	if i := strings.IndexByte(mime, '/'); i >= 0 && i+1 < len(mime) {
		sub := mime[i+1:]
		// Strip vendor prefixes like "x-" and tree suffixes.
		sub = strings.TrimPrefix(sub, "x-")
		if len(sub) > 0 && len(sub) <= 5 && !strings.ContainsAny(sub, ".+-") {
			return sub
		}
	}
	return "bin"
}
