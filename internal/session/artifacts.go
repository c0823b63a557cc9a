// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// sessionIDFile holds the stable session identifier under the data dir.
const sessionIDFile = "session_id"

// artifacts manages the on-disk session artifact directory: one directory
// per session id, wiped wholesale, never partially recovered.
type artifacts struct {
	root string
}

func newArtifacts(root string) (*artifacts, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create session data dir %s: %w", root, err)
	}
	return &artifacts{root: root}, nil
}

// loadOrCreateID returns the persisted session id, creating one if absent.
func (a *artifacts) loadOrCreateID() (string, error) {
	path := filepath.Join(a.root, sessionIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read session id: %w", err)
	}

	return a.rotateID()
}

// rotateID generates and persists a fresh session id.
func (a *artifacts) rotateID() (string, error) {
	id := uuid.NewString()
	path := filepath.Join(a.root, sessionIDFile)
	if err := os.WriteFile(path, []byte(id+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("persist session id: %w", err)
	}
	return id, nil
}

// dir returns the artifact directory for a session id.
func (a *artifacts) dir(sessionID string) string {
	return filepath.Join(a.root, sessionID)
}

// wipe removes the artifact directory for a session id and recreates it
// empty. Partial state is the dominant cause of initialization hangs, so
// there is deliberately no partial-file recovery.
func (a *artifacts) wipe(sessionID string) error {
	dir := a.dir(sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("wipe session artifacts %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("recreate session artifacts %s: %w", dir, err)
	}
	return nil
}
