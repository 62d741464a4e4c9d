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

// Package store is the content-addressed on-disk cache. It has three
// namespaces under one root: images/ holds opaque blobs named by their own
// SHA-512, stages/ holds JSON stage records named by stage digest, and tags/
// holds JSON pointers named by human tag.
package store

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/OpenPeeDeeP/xdg"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/tonyg/squeaker/pkg/stage"
)

// Namespace selects one of the store's three sub-directories.
type Namespace string

const (
	// Images holds content-addressed image blobs.
	Images Namespace = "images"
	// Stages holds stage records.
	Stages Namespace = "stages"
	// Tags holds tag records.
	Tags Namespace = "tags"
)

// AmbiguousPrefixError reports a short reference matching more than one
// stored entry.
type AmbiguousPrefixError struct {
	Namespace Namespace
	Prefix    string
	Matches   []string
}

func (e *AmbiguousPrefixError) Error() string {
	return fmt.Sprintf("ambiguous %s prefix %q (%d matches)",
		e.Namespace, e.Prefix, len(e.Matches))
}

// Store is a single-writer cache rooted at one directory. Writes are
// file-granular; a partially written entry is repaired by the builder
// treating it as a cache miss.
type Store struct {
	root string
}

// New returns a store rooted at the given directory.
func New(root string) *Store {
	return &Store{root: root}
}

// Default returns the store under the user's XDG cache directory,
// <XDG_CACHE_HOME>/squeaker, falling back to <HOME>/.cache/squeaker.
func Default() *Store {
	return New(filepath.Join(xdg.CacheHome(), "squeaker"))
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) dir(ns Namespace) string {
	return filepath.Join(s.root, string(ns))
}

// Path returns the on-disk location of an entry. The entry need not exist.
func (s *Store) Path(ns Namespace, id string) string {
	return filepath.Join(s.dir(ns), id)
}

// PutBlob streams r into the images namespace, hashing while writing, and
// returns the blob's digest. The blob lands under its content hash, so an
// existing destination may be overwritten with equivalent bytes.
func (s *Store) PutBlob(r io.Reader) (string, error) {
	if err := os.MkdirAll(s.dir(Images), 0o755); err != nil {
		return "", xerrors.Errorf("creating images directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir(Images), "incoming-*")
	if err != nil {
		return "", xerrors.Errorf("creating temp blob: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	h := sha512.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		tmp.Close()
		return "", xerrors.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", xerrors.Errorf("closing temp blob: %w", err)
	}

	d := hex.EncodeToString(h.Sum(nil))
	if err := os.Rename(tmpName, s.Path(Images, d)); err != nil {
		return "", xerrors.Errorf("promoting blob %s: %w", d, err)
	}
	logrus.Debugf("stored blob %s", d)
	return d, nil
}

// PutBlobFromFile is PutBlob reading from a local file.
func (s *Store) PutBlobFromFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", xerrors.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()
	return s.PutBlob(f)
}

// HasBlob reports whether the images namespace contains the given digest.
func (s *Store) HasBlob(d string) bool {
	_, err := os.Stat(s.Path(Images, d))
	return err == nil
}

// OpenBlob opens an image blob for reading.
func (s *Store) OpenBlob(d string) (io.ReadCloser, error) {
	return os.Open(s.Path(Images, d))
}

// LoadStage reads a stage record. A missing record returns (nil, nil): the
// cache is a hint, and absence is an ordinary answer.
func (s *Store) LoadStage(d string) (*stage.Record, error) {
	raw, err := os.ReadFile(s.Path(Stages, d))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("reading stage %s: %w", d, err)
	}

	rec := &stage.Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, xerrors.Errorf("decoding stage %s: %w", d, err)
	}
	return rec, nil
}

// WriteStage stores a stage record under its stage digest.
func (s *Store) WriteStage(rec *stage.Record) error {
	if err := rec.Validate(); err != nil {
		return xerrors.Errorf("refusing to store invalid stage: %w", err)
	}
	return s.writeJSON(Stages, rec.StageDigest, rec)
}

// LoadTag reads a tag record, returning (nil, nil) when the tag does not
// exist.
func (s *Store) LoadTag(name string) (*stage.Tag, error) {
	raw, err := os.ReadFile(s.Path(Tags, name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("reading tag %q: %w", name, err)
	}

	t := &stage.Tag{}
	if err := json.Unmarshal(raw, t); err != nil {
		return nil, xerrors.Errorf("decoding tag %q: %w", name, err)
	}
	return t, nil
}

// WriteTag stores a tag record, overwriting any previous pointer.
func (s *Store) WriteTag(t *stage.Tag) error {
	return s.writeJSON(Tags, t.Name, t)
}

func (s *Store) writeJSON(ns Namespace, id string, v interface{}) error {
	if err := os.MkdirAll(s.dir(ns), 0o755); err != nil {
		return xerrors.Errorf("creating %s directory: %w", ns, err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return xerrors.Errorf("encoding %s/%s: %w", ns, id, err)
	}
	if err := os.WriteFile(s.Path(ns, id), raw, 0o644); err != nil {
		return xerrors.Errorf("writing %s/%s: %w", ns, id, err)
	}
	return nil
}

// List enumerates the ids stored in a namespace, sorted.
func (s *Store) List(ns Namespace) ([]string, error) {
	entries, err := os.ReadDir(s.dir(ns))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("listing %s: %w", ns, err)
	}

	ids := []string{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), "incoming-") {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes an entry. Deleting a missing entry succeeds silently.
func (s *Store) Delete(ns Namespace, id string) error {
	err := os.Remove(s.Path(ns, id))
	if err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("deleting %s/%s: %w", ns, id, err)
	}
	return nil
}

// ResolvePrefix expands a short id against a namespace. Zero matches return
// the empty string; more than one match is an AmbiguousPrefixError.
func (s *Store) ResolvePrefix(ns Namespace, prefix string) (string, error) {
	ids, err := s.List(ns)
	if err != nil {
		return "", err
	}

	matches := []string{}
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousPrefixError{Namespace: ns, Prefix: prefix, Matches: matches}
	}
}
