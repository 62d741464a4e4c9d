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

// Package builder is the stage resolver: it derives image blobs from parent
// stages, materializing work only on cache miss and repairing stage records
// whose blobs have been collected. Stored records are hints, not authority;
// whenever reality disagrees with a record, the record loses.
package builder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tonyg/squeaker/pkg/digest"
	"github.com/tonyg/squeaker/pkg/fetch"
	"github.com/tonyg/squeaker/pkg/stage"
	"github.com/tonyg/squeaker/pkg/store"
	"github.com/tonyg/squeaker/pkg/zipimage"
)

// Runner applies a Smalltalk chunk to the extracted image in workDir using
// the VM at vmPath. The production implementation spawns the VM child
// process; tests substitute a deterministic transformation.
type Runner interface {
	Apply(workDir, vmPath, chunk string) error
}

// Progress receives transfer updates; expected is -1 when the total is
// unknown. The builder reports, the caller renders.
type Progress interface {
	Update(current, expected int64, label string)
}

// CacheMissError reports a stage record whose parent record is gone, making
// a rebuild impossible.
type CacheMissError struct {
	Stage  string
	Parent string
}

func (e *CacheMissError) Error() string {
	return fmt.Sprintf("stage %s refers to parent %s, which is not in the cache",
		Short(e.Stage), Short(e.Parent))
}

// Builder resolves stages against a cache store. A single Builder assumes a
// single writer per store root; stages are resolved strictly sequentially.
type Builder struct {
	Store  *store.Store
	Runner Runner
	// VMPath identifies the VM binary; it is part of every chunk stage's
	// identity, so switching VMs invalidates downstream stages.
	VMPath string
	// NoCache lists stage types whose cached records are ignored for this
	// build. It does not propagate to ancestors.
	NoCache map[stage.Type]bool
	// Progress, when non-nil, receives download updates.
	Progress Progress
}

// Short abbreviates a digest for log and display purposes.
func Short(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// resolve is the pattern common to all three stage types: compute a
// prospective key, consult the cache, and on a miss run ifAbsent and store a
// record under the key recomputed afterwards. The recomputation matters:
// ifAbsent may rebind the parent stage (self-repair can change the parent's
// image digest), and the stored record must describe what actually happened.
func (b *Builder) resolve(
	t stage.Type,
	keyFn func() (string, error),
	ifAbsent func() (string, error),
	fill func(rec *stage.Record),
) (*stage.Record, error) {
	key, err := keyFn()
	if err != nil {
		return nil, err
	}

	stageDigest := digest.ForStage(string(t), key)
	cached, err := b.Store.LoadStage(stageDigest)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		if b.NoCache[t] {
			logrus.Infof("ignoring cached %s stage %s (no-cache)", t, Short(stageDigest))
		} else {
			logrus.Debugf("cache hit for %s stage %s", t, Short(stageDigest))
			return cached, nil
		}
	}

	imageDigest, err := ifAbsent()
	if err != nil {
		return nil, err
	}

	// The parent slot may have moved under us; rehash.
	key, err = keyFn()
	if err != nil {
		return nil, err
	}

	rec := &stage.Record{
		Type:        t,
		Key:         key,
		StageDigest: digest.ForStage(string(t), key),
		ImageDigest: imageDigest,
	}
	fill(rec)
	if err := b.Store.WriteStage(rec); err != nil {
		return nil, err
	}
	logrus.Debugf("built %s stage %s -> image %s", t, Short(rec.StageDigest), Short(imageDigest))
	return rec, nil
}

// FetchURL resolves a url stage, downloading the image archive on miss.
func (b *Builder) FetchURL(url string) (*stage.Record, error) {
	return b.resolve(stage.TypeURL,
		func() (string, error) { return url, nil },
		func() (string, error) { return b.download(url) },
		func(rec *stage.Record) { rec.URL = url },
	)
}

func (b *Builder) download(url string) (string, error) {
	logrus.Infof("fetching %s", url)

	src := &fetch.Source{URL: url}
	body, expected, err := src.Open()
	if err != nil {
		return "", err
	}
	defer body.Close()

	reader := newProgressReader(body, expected, url, b.Progress)
	d, err := b.Store.PutBlob(reader)
	if err != nil {
		return "", errors.Wrapf(err, "storing download of %s", url)
	}
	return d, nil
}

// ApplyChunk resolves a stage that applies a Smalltalk chunk to parent's
// image with the builder's configured VM.
func (b *Builder) ApplyChunk(parent *stage.Record, chunk string) (*stage.Record, error) {
	if b.VMPath == "" {
		return nil, errors.New("no Smalltalk VM configured; set SQUEAK_VM or pass --vm")
	}
	return b.applyChunk(parent, chunk, b.VMPath)
}

func (b *Builder) applyChunk(p *stage.Record, chunk, vmPath string) (*stage.Record, error) {
	// parent is the rebindable slot shared by key computation and rebuild:
	// self-repair below may replace it, and the final key hashes the
	// replacement.
	parent := p
	var inputs []string

	keyFn := func() (string, error) {
		inputs = []string{
			parent.StageDigest,
			parent.ImageDigest,
			digest.OfString(vmPath),
			digest.OfString(chunk),
		}
		return digest.OfDigests(inputs)
	}

	ifAbsent := func() (string, error) {
		materialized, err := b.EnsureImagePresent(parent)
		if err != nil {
			return "", err
		}
		parent = materialized
		return b.runChunk(parent, chunk, vmPath)
	}

	return b.resolve(stage.TypeChunk, keyFn, ifAbsent, func(rec *stage.Record) {
		rec.Parent = parent.StageDigest
		rec.Chunk = chunk
		rec.VM = vmPath
		rec.DigestInputs = inputs
	})
}

func (b *Builder) runChunk(parent *stage.Record, chunk, vmPath string) (string, error) {
	workDir := filepath.Join(os.TempDir(), "squeaker-build-"+uuid.NewString())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating working directory %q", workDir)
	}
	defer os.RemoveAll(workDir)

	if err := zipimage.Extract(b.Store.Path(store.Images, parent.ImageDigest), workDir); err != nil {
		return "", err
	}

	if err := b.Runner.Apply(workDir, vmPath, chunk); err != nil {
		return "", err
	}

	archivePath := filepath.Join(workDir, "result.zip")
	out, err := os.Create(archivePath)
	if err != nil {
		return "", errors.Wrapf(err, "creating %q", archivePath)
	}
	err = zipimage.Pack(out,
		filepath.Join(workDir, zipimage.ImageName),
		filepath.Join(workDir, zipimage.ChangesName))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", errors.Wrap(err, "archiving result image")
	}

	d, err := b.Store.PutBlobFromFile(archivePath)
	if err != nil {
		return "", errors.Wrap(err, "storing result image")
	}
	return d, nil
}

// DependOnResource resolves a stage that fingerprints a local file. The
// resulting image is the parent's image unchanged; the point is that a later
// chunk consuming the file inherits its fingerprint through the stage chain.
// An absent file is a valid state whose key simply omits the fingerprint.
func (b *Builder) DependOnResource(p *stage.Record, resourcePath string) (*stage.Record, error) {
	parent := p
	var inputs []string
	var resourceDigest string

	keyFn := func() (string, error) {
		inputs = []string{parent.StageDigest, parent.ImageDigest}
		resourceDigest = ""
		if _, err := os.Stat(resourcePath); err == nil {
			d, err := digest.OfFile(resourcePath)
			if err != nil {
				return "", err
			}
			resourceDigest = d
			inputs = append(inputs, d)
		}
		return digest.OfDigests(inputs)
	}

	ifAbsent := func() (string, error) {
		materialized, err := b.EnsureImagePresent(parent)
		if err != nil {
			return "", err
		}
		parent = materialized
		return parent.ImageDigest, nil
	}

	return b.resolve(stage.TypeResource, keyFn, ifAbsent, func(rec *stage.Record) {
		rec.Parent = parent.StageDigest
		rec.ResourcePath = resourcePath
		rec.ResourceDigest = resourceDigest
		rec.DigestInputs = inputs
	})
}

// EnsureImagePresent guarantees that rec's blob exists on disk, replaying
// the stage's operation if it was collected. The returned record supersedes
// rec: a replay that is not bit-identical to the lost blob produces a record
// with different digests, and rec itself is deleted before the replay so no
// caller can observe the stale image pointer.
func (b *Builder) EnsureImagePresent(rec *stage.Record) (*stage.Record, error) {
	if b.Store.HasBlob(rec.ImageDigest) {
		return rec, nil
	}

	logrus.Infof("image %s for stage %s is gone; rebuilding",
		Short(rec.ImageDigest), Short(rec.StageDigest))
	if err := b.Store.Delete(store.Stages, rec.StageDigest); err != nil {
		return nil, err
	}

	switch rec.Type {
	case stage.TypeURL:
		return b.FetchURL(rec.URL)
	case stage.TypeChunk:
		parent, err := b.loadParent(rec)
		if err != nil {
			return nil, err
		}
		return b.applyChunk(parent, rec.Chunk, rec.VM)
	case stage.TypeResource:
		parent, err := b.loadParent(rec)
		if err != nil {
			return nil, err
		}
		return b.DependOnResource(parent, rec.ResourcePath)
	default:
		return nil, errors.Errorf("unknown stage type %q in stored record %s",
			rec.Type, Short(rec.StageDigest))
	}
}

func (b *Builder) loadParent(rec *stage.Record) (*stage.Record, error) {
	parent, err := b.Store.LoadStage(rec.Parent)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, &CacheMissError{Stage: rec.StageDigest, Parent: rec.Parent}
	}
	return parent, nil
}

// Tag ensures rec's image is materialized and points name at it, returning
// the record the tag actually refers to.
func (b *Builder) Tag(name string, rec *stage.Record) (*stage.Record, error) {
	rec, err := b.EnsureImagePresent(rec)
	if err != nil {
		return nil, err
	}
	err = b.Store.WriteTag(&stage.Tag{
		Name:        name,
		StageDigest: rec.StageDigest,
		ImageDigest: rec.ImageDigest,
	})
	if err != nil {
		return nil, err
	}
	logrus.Infof("tagged %s as %q", Short(rec.ImageDigest), name)
	return rec, nil
}
