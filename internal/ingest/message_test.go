// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package ingest

import (
	"testing"

	"github.com/parley-chat/parley/internal/media"
	"github.com/parley-chat/parley/internal/transport"
)

func TestInboundMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     InboundMessage
		wantErr bool
	}{
		{
			name: "text message without media is valid",
			msg:  InboundMessage{ID: "m1", DeclaredType: transport.MessageText},
		},
		{
			name: "non-text with media is valid",
			msg: InboundMessage{
				ID:           "m2",
				DeclaredType: transport.MessageImage,
				Media:        &media.Descriptor{StoredFilename: "f.jpg"},
			},
		},
		{
			name: "non-text with recorded media error is valid",
			msg: InboundMessage{
				ID:           "m3",
				DeclaredType: transport.MessageVoice,
				MediaError:   "fetch failed",
			},
		},
		{
			name:    "non-text with neither media nor error is invalid",
			msg:     InboundMessage{ID: "m4", DeclaredType: transport.MessageImage},
			wantErr: true,
		},
		{
			name:    "empty id is invalid",
			msg:     InboundMessage{DeclaredType: transport.MessageText},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
