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

package recipe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tonyg/squeaker/pkg/builder"
	"github.com/tonyg/squeaker/pkg/stage"
)

// DefaultFileName is the recipe looked for in a project directory.
const DefaultFileName = "Squeakerfile.st"

// ResourceMissingError reports a fileIn: of a file that does not exist. A
// plain resource: of an absent file is legal; a fileIn: is not, because the
// image would fail to load it.
type ResourceMissingError struct {
	Path string
}

func (e *ResourceMissingError) Error() string {
	return fmt.Sprintf("fileIn: target %q does not exist", e.Path)
}

// Interpreter threads a single current stage through the chunks of a recipe.
type Interpreter struct {
	Builder *builder.Builder
	// Dir is the project directory; relative resource paths resolve
	// against it.
	Dir string

	current *stage.Record
}

// Run consumes the recipe and returns the final stage.
func (in *Interpreter) Run(r io.Reader) (*stage.Record, error) {
	cr := NewChunkReader(r)
	for {
		chunk, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := in.step(chunk); err != nil {
			return nil, err
		}
	}

	if in.current == nil {
		return nil, &ParseError{Chunk: "", Reason: "recipe produced no stages (missing from:?)"}
	}
	return in.current, nil
}

func (in *Interpreter) step(raw string) error {
	chunk := strings.TrimSpace(raw)
	switch {
	case chunk == "":
		return nil
	case strings.HasPrefix(chunk, "from:"):
		return in.stepFrom(strings.TrimSpace(chunk[len("from:"):]))
	case strings.HasPrefix(chunk, "resource:"):
		return in.stepResource(chunk, strings.TrimSpace(chunk[len("resource:"):]))
	case strings.HasPrefix(chunk, "fileIn:"):
		return in.stepFileIn(chunk, strings.TrimSpace(chunk[len("fileIn:"):]))
	default:
		return in.stepCommand(chunk)
	}
}

func (in *Interpreter) stepFrom(arg string) error {
	if strings.HasPrefix(arg, "#") {
		name, err := ParseSymbolLiteral(arg)
		if err != nil {
			return &ParseError{Chunk: arg, Reason: err.Error()}
		}
		return in.loadTag(name)
	}

	url, err := ParseStringLiteral(arg)
	if err != nil {
		return &ParseError{Chunk: arg, Reason: err.Error()}
	}
	rec, err := in.Builder.FetchURL(url)
	if err != nil {
		return err
	}
	in.current = rec
	return nil
}

// loadTag starts the build from an already-tagged stage, without rebuilding
// anything.
func (in *Interpreter) loadTag(name string) error {
	tag, err := in.Builder.Store.LoadTag(name)
	if err != nil {
		return err
	}
	if tag == nil {
		return &ParseError{Chunk: "#'" + name + "'", Reason: "no such tag"}
	}

	rec, err := in.Builder.Store.LoadStage(tag.StageDigest)
	if err != nil {
		return err
	}
	if rec == nil {
		return &builder.CacheMissError{Stage: "tag " + name, Parent: tag.StageDigest}
	}
	logrus.Debugf("starting from tag %q (stage %s)", name, builder.Short(rec.StageDigest))
	in.current = rec
	return nil
}

func (in *Interpreter) stepResource(chunk, arg string) error {
	if in.current == nil {
		return &ParseError{Chunk: chunk, Reason: "resource: before any from:"}
	}
	path, err := ParseStringLiteral(arg)
	if err != nil {
		return &ParseError{Chunk: chunk, Reason: err.Error()}
	}

	rec, err := in.Builder.DependOnResource(in.current, in.resolvePath(path))
	if err != nil {
		return err
	}
	in.current = rec
	return nil
}

func (in *Interpreter) stepFileIn(chunk, arg string) error {
	if in.current == nil {
		return &ParseError{Chunk: chunk, Reason: "fileIn: before any from:"}
	}
	path, err := ParseStringLiteral(arg)
	if err != nil {
		return &ParseError{Chunk: chunk, Reason: err.Error()}
	}

	resolved := in.resolvePath(path)
	if _, err := os.Stat(resolved); err != nil {
		return &ResourceMissingError{Path: resolved}
	}

	rec, err := in.Builder.DependOnResource(in.current, resolved)
	if err != nil {
		return err
	}
	in.current = rec

	rec, err = in.Builder.ApplyChunk(in.current, "Installer installFile: "+arg)
	if err != nil {
		return err
	}
	in.current = rec
	return nil
}

func (in *Interpreter) stepCommand(chunk string) error {
	if in.current == nil {
		return &ParseError{Chunk: chunk, Reason: "command chunk before any from:"}
	}
	rec, err := in.Builder.ApplyChunk(in.current, chunk)
	if err != nil {
		return err
	}
	in.current = rec
	return nil
}

func (in *Interpreter) resolvePath(path string) string {
	if filepath.IsAbs(path) || in.Dir == "" {
		return path
	}
	return filepath.Join(in.Dir, path)
}
