/*
Copyright 2023 The Squeaker Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const recentChangesDir = "recentchanges"

// recentChangesKept is how many audit-trail changes files survive pruning.
const recentChangesKept = 5

// RecordRecentChanges copies a changes file produced by an interactive run
// into the recentchanges/ audit trail, then prunes the trail to the most
// recent entries.
func (s *Store) RecordRecentChanges(changesPath string) (string, error) {
	dir := filepath.Join(s.root, recentChangesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", xerrors.Errorf("creating %s: %w", dir, err)
	}

	src, err := os.Open(changesPath)
	if err != nil {
		return "", xerrors.Errorf("opening %q: %w", changesPath, err)
	}
	defer src.Close()

	name := time.Now().UTC().Format("2006-01-02T15:04:05") + "Z.changes"
	destPath := filepath.Join(dir, name)
	dest, err := os.Create(destPath)
	if err != nil {
		return "", xerrors.Errorf("creating %q: %w", destPath, err)
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		return "", xerrors.Errorf("copying changes: %w", err)
	}
	if err := dest.Close(); err != nil {
		return "", xerrors.Errorf("closing %q: %w", destPath, err)
	}

	if err := s.pruneRecentChanges(dir); err != nil {
		return "", err
	}
	return destPath, nil
}

func (s *Store) pruneRecentChanges(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return xerrors.Errorf("listing %s: %w", dir, err)
	}

	names := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)

	for len(names) > recentChangesKept {
		victim := names[0]
		names = names[1:]
		logrus.Debugf("pruning old changes file %s", victim)
		if err := os.Remove(filepath.Join(dir, victim)); err != nil && !os.IsNotExist(err) {
			return xerrors.Errorf("pruning %s: %w", victim, err)
		}
	}
	return nil
}
