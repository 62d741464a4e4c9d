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

package recipe_test

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonyg/squeaker/pkg/builder"
	"github.com/tonyg/squeaker/pkg/digest"
	"github.com/tonyg/squeaker/pkg/recipe"
	"github.com/tonyg/squeaker/pkg/stage"
	"github.com/tonyg/squeaker/pkg/store"
)

type scriptedRunner struct {
	chunks []string
}

func (r *scriptedRunner) Apply(workDir, vmPath, chunk string) error {
	r.chunks = append(r.chunks, chunk)
	imgPath := filepath.Join(workDir, "squeak.image")
	raw, err := os.ReadFile(imgPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(imgPath, []byte(fmt.Sprintf("%s|%s", raw, chunk)), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workDir, "squeak.changes"), []byte("chg"), 0o644)
}

func newInterpreter(t *testing.T) (*recipe.Interpreter, *scriptedRunner, string) {
	t.Helper()
	runner := &scriptedRunner{}
	dir := t.TempDir()
	in := &recipe.Interpreter{
		Builder: &builder.Builder{
			Store:  store.New(filepath.Join(t.TempDir(), "cache")),
			Runner: runner,
			VMPath: "/usr/bin/squeak",
		},
		Dir: dir,
	}
	return in, runner, dir
}

func baseArchiveURL(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "base.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("a.image")
	require.NoError(t, err)
	_, err = w.Write([]byte("IMG"))
	require.NoError(t, err)
	w, err = zw.Create("a.changes")
	require.NoError(t, err)
	_, err = w.Write([]byte("CHG"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return "file:" + p
}

func TestRunFetchOnly(t *testing.T) {
	in, runner, _ := newInterpreter(t)
	url := baseArchiveURL(t)

	final, err := in.Run(strings.NewReader("from: '" + url + "'!"))
	require.NoError(t, err)
	require.Equal(t, stage.TypeURL, final.Type)
	require.Empty(t, runner.chunks)

	raw, err := os.ReadFile(url[len("file:"):])
	require.NoError(t, err)
	require.Equal(t, digest.OfString(string(raw)), final.ImageDigest)
}

func TestRunCommandChunks(t *testing.T) {
	in, runner, _ := newInterpreter(t)
	url := baseArchiveURL(t)

	final, err := in.Run(strings.NewReader("from: '" + url + "'! X! Y!"))
	require.NoError(t, err)
	require.Equal(t, stage.TypeChunk, final.Type)
	require.Equal(t, []string{"X", "Y"}, runner.chunks)
}

func TestRunFromTag(t *testing.T) {
	in, _, _ := newInterpreter(t)
	url := baseArchiveURL(t)

	base, err := in.Builder.FetchURL(url)
	require.NoError(t, err)
	_, err = in.Builder.Tag("base", base)
	require.NoError(t, err)

	final, err := in.Run(strings.NewReader("from: #'base'!"))
	require.NoError(t, err)
	require.Equal(t, base.StageDigest, final.StageDigest)
}

func TestRunFromUnknownTag(t *testing.T) {
	in, _, _ := newInterpreter(t)
	_, err := in.Run(strings.NewReader("from: #'nope'!"))
	require.Error(t, err)
	parseErr := &recipe.ParseError{}
	require.ErrorAs(t, err, &parseErr)
}

func TestRunResource(t *testing.T) {
	in, _, dir := newInterpreter(t)
	url := baseArchiveURL(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.txt"), []byte("v1"), 0o644))

	final, err := in.Run(strings.NewReader("from: '" + url + "'! resource: 'data.txt'!"))
	require.NoError(t, err)
	require.Equal(t, stage.TypeResource, final.Type)
	require.Equal(t, filepath.Join(dir, "data.txt"), final.ResourcePath)
	require.Equal(t, digest.OfString("v1"), final.ResourceDigest)
}

func TestRunResourceAbsentIsLegal(t *testing.T) {
	in, _, _ := newInterpreter(t)
	url := baseArchiveURL(t)

	final, err := in.Run(strings.NewReader("from: '" + url + "'! resource: 'data.txt'!"))
	require.NoError(t, err)
	require.Empty(t, final.ResourceDigest)
}

func TestRunFileIn(t *testing.T) {
	in, runner, dir := newInterpreter(t)
	url := baseArchiveURL(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "code.st"), []byte("code"), 0o644))

	final, err := in.Run(strings.NewReader("from: '" + url + "'! fileIn: 'code.st'!"))
	require.NoError(t, err)
	require.Equal(t, stage.TypeChunk, final.Type)
	require.Equal(t, []string{"Installer installFile: 'code.st'"}, runner.chunks)

	// The fileIn pipeline threads a resource stage before the chunk.
	parent, err := in.Builder.Store.LoadStage(final.Parent)
	require.NoError(t, err)
	require.Equal(t, stage.TypeResource, parent.Type)
}

func TestRunFileInMissingIsFatal(t *testing.T) {
	in, _, _ := newInterpreter(t)
	url := baseArchiveURL(t)

	_, err := in.Run(strings.NewReader("from: '" + url + "'! fileIn: 'missing.st'!"))
	require.Error(t, err)
	missing := &recipe.ResourceMissingError{}
	require.ErrorAs(t, err, &missing)
}

func TestRunCommandBeforeFrom(t *testing.T) {
	in, _, _ := newInterpreter(t)
	_, err := in.Run(strings.NewReader("Transcript showln: 'too early'!"))
	require.Error(t, err)
	parseErr := &recipe.ParseError{}
	require.ErrorAs(t, err, &parseErr)
}

func TestRunMalformedLiteral(t *testing.T) {
	in, _, _ := newInterpreter(t)
	_, err := in.Run(strings.NewReader("from: 'unterminated!"))
	require.Error(t, err)
	parseErr := &recipe.ParseError{}
	require.ErrorAs(t, err, &parseErr)
}

func TestRunEmptyChunksAreSkipped(t *testing.T) {
	in, runner, _ := newInterpreter(t)
	url := baseArchiveURL(t)

	final, err := in.Run(strings.NewReader("from: '" + url + "'!\n\n! X!\n!"))
	require.NoError(t, err)
	require.Equal(t, []string{"X"}, runner.chunks)
	require.Equal(t, stage.TypeChunk, final.Type)
}

func TestRunEmptyRecipe(t *testing.T) {
	in, _, _ := newInterpreter(t)
	_, err := in.Run(strings.NewReader(""))
	require.Error(t, err)
}

func TestRunWarmCacheIsIdempotent(t *testing.T) {
	in, runner, dir := newInterpreter(t)
	url := baseArchiveURL(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.txt"), []byte("v1"), 0o644))
	src := "from: '" + url + "'! resource: 'data.txt'! do-something!"

	first, err := in.Run(strings.NewReader(src))
	require.NoError(t, err)

	blobs, err := in.Builder.Store.List(store.Images)
	require.NoError(t, err)
	stages, err := in.Builder.Store.List(store.Stages)
	require.NoError(t, err)

	second, err := in.Run(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, first.ImageDigest, second.ImageDigest)
	require.Equal(t, 1, len(runner.chunks))

	blobs2, err := in.Builder.Store.List(store.Images)
	require.NoError(t, err)
	stages2, err := in.Builder.Store.List(store.Stages)
	require.NoError(t, err)
	require.Equal(t, blobs, blobs2)
	require.Equal(t, stages, stages2)
}
