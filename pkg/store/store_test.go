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

package store_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonyg/squeaker/pkg/digest"
	"github.com/tonyg/squeaker/pkg/stage"
	"github.com/tonyg/squeaker/pkg/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(filepath.Join(t.TempDir(), "squeaker"))
}

func TestPutBlobRoundTrip(t *testing.T) {
	s := newStore(t)

	d, err := s.PutBlob(strings.NewReader("blob contents"))
	require.NoError(t, err)
	require.Equal(t, digest.OfString("blob contents"), d)
	require.True(t, s.HasBlob(d))

	r, err := s.OpenBlob(d)
	require.NoError(t, err)
	defer r.Close()

	raw, err := os.ReadFile(s.Path(store.Images, d))
	require.NoError(t, err)
	require.Equal(t, "blob contents", string(raw))

	// Content-addressed: storing the same bytes again is a no-op digestwise.
	again, err := s.PutBlob(strings.NewReader("blob contents"))
	require.NoError(t, err)
	require.Equal(t, d, again)
}

func TestStageRoundTrip(t *testing.T) {
	s := newStore(t)

	rec := &stage.Record{
		Type:        stage.TypeURL,
		Key:         "http://example.com/base.zip",
		StageDigest: digest.ForStage("url", "http://example.com/base.zip"),
		ImageDigest: digest.OfString("fake image"),
		URL:         "http://example.com/base.zip",
	}
	require.NoError(t, s.WriteStage(rec))

	got, err := s.LoadStage(rec.StageDigest)
	require.NoError(t, err)
	require.Equal(t, rec, got)

	// Records are stored as indented JSON.
	raw, err := os.ReadFile(s.Path(store.Stages, rec.StageDigest))
	require.NoError(t, err)
	require.Contains(t, string(raw), "\n  \"stage_type\"")
}

func TestLoadStageMissing(t *testing.T) {
	s := newStore(t)
	rec, err := s.LoadStage(digest.OfString("no such stage"))
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestWriteStageRejectsInvalid(t *testing.T) {
	s := newStore(t)
	err := s.WriteStage(&stage.Record{Type: "bogus"})
	require.Error(t, err)
}

func TestTagOverwrite(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.WriteTag(&stage.Tag{Name: "dev", StageDigest: "aa", ImageDigest: "bb"}))
	require.NoError(t, s.WriteTag(&stage.Tag{Name: "dev", StageDigest: "cc", ImageDigest: "dd"}))

	got, err := s.LoadTag("dev")
	require.NoError(t, err)
	require.Equal(t, "cc", got.StageDigest)
	require.Equal(t, "dd", got.ImageDigest)

	missing, err := s.LoadTag("nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestDeleteIdempotent(t *testing.T) {
	s := newStore(t)

	d, err := s.PutBlob(strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(store.Images, d))
	require.False(t, s.HasBlob(d))
	require.NoError(t, s.Delete(store.Images, d))
}

func TestListEmptyNamespace(t *testing.T) {
	s := newStore(t)
	ids, err := s.List(store.Stages)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestResolvePrefix(t *testing.T) {
	s := newStore(t)

	d1, err := s.PutBlob(strings.NewReader("one"))
	require.NoError(t, err)
	d2, err := s.PutBlob(strings.NewReader("two"))
	require.NoError(t, err)
	require.NotEqual(t, d1[0:8], d2[0:8])

	got, err := s.ResolvePrefix(store.Images, d1[0:8])
	require.NoError(t, err)
	require.Equal(t, d1, got)

	got, err = s.ResolvePrefix(store.Images, "ffffffffffffffff")
	require.NoError(t, err)
	require.Empty(t, got)

	// Every digest matches the empty prefix.
	_, err = s.ResolvePrefix(store.Images, "")
	require.Error(t, err)
	ambiguous := &store.AmbiguousPrefixError{}
	require.ErrorAs(t, err, &ambiguous)
	require.Len(t, ambiguous.Matches, 2)
}

func TestRecordRecentChangesPrunes(t *testing.T) {
	s := newStore(t)

	src := filepath.Join(t.TempDir(), "squeak.changes")
	require.NoError(t, os.WriteFile(src, []byte("changes"), 0o644))

	var last string
	for i := 0; i < 7; i++ {
		p, err := s.RecordRecentChanges(src)
		require.NoError(t, err)
		last = p
	}

	entries, err := os.ReadDir(filepath.Join(s.Root(), "recentchanges"))
	require.NoError(t, err)
	require.LessOrEqual(t, len(entries), 5)

	raw, err := os.ReadFile(last)
	require.NoError(t, err)
	require.Equal(t, "changes", string(raw))
	require.True(t, strings.HasSuffix(last, "Z.changes"))
}

func TestResolveImageRef(t *testing.T) {
	s := newStore(t)

	d, err := s.PutBlob(strings.NewReader("tip"))
	require.NoError(t, err)
	require.NoError(t, s.WriteTag(&stage.Tag{Name: "rel", StageDigest: "aa", ImageDigest: d}))

	// Exact tag wins.
	got, tag, err := s.ResolveImageRef("rel")
	require.NoError(t, err)
	require.Equal(t, d, got)
	require.NotNil(t, tag)

	// Digest prefix.
	got, tag, err = s.ResolveImageRef(d[:10])
	require.NoError(t, err)
	require.Equal(t, d, got)
	require.Nil(t, tag)

	// Unknown reference.
	_, _, err = s.ResolveImageRef("zzzz")
	require.Error(t, err)
}
