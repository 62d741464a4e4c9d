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

// Package recipe parses `!`-delimited chunk files and drives the builder
// with the operations they describe.
package recipe

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// ParseError reports a chunk the interpreter could not make sense of.
type ParseError struct {
	Chunk  string
	Reason string
}

func (e *ParseError) Error() string {
	c := e.Chunk
	if len(c) > 60 {
		c = c[:60] + "..."
	}
	return fmt.Sprintf("bad recipe chunk %q: %s", c, e.Reason)
}

// ChunkReader yields `!`-terminated chunks from a byte stream. A doubled
// `!!` inside a chunk decodes to a single literal `!`. A trailing
// unterminated non-empty chunk is still yielded.
type ChunkReader struct {
	r *bufio.Reader
}

// NewChunkReader wraps r in a chunk decoder.
func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{r: bufio.NewReader(r)}
}

// Next returns the next chunk, or io.EOF when the input is exhausted.
func (cr *ChunkReader) Next() (string, error) {
	var buf bytes.Buffer
	for {
		b, err := cr.r.ReadByte()
		if err == io.EOF {
			if buf.Len() > 0 {
				return buf.String(), nil
			}
			return "", io.EOF
		}
		if err != nil {
			return "", errors.Wrap(err, "reading recipe")
		}

		if b != '!' {
			buf.WriteByte(b)
			continue
		}

		next, err := cr.r.ReadByte()
		if err == io.EOF {
			return buf.String(), nil
		}
		if err != nil {
			return "", errors.Wrap(err, "reading recipe")
		}
		if next == '!' {
			buf.WriteByte('!')
			continue
		}
		if err := cr.r.UnreadByte(); err != nil {
			return "", errors.Wrap(err, "reading recipe")
		}
		return buf.String(), nil
	}
}

// Chunks decodes the whole stream.
func Chunks(r io.Reader) ([]string, error) {
	cr := NewChunkReader(r)
	out := []string{}
	for {
		chunk, err := cr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)
	}
}

// EncodeChunk renders a chunk back into wire form, doubling embedded `!` and
// appending the terminator.
func EncodeChunk(chunk string) string {
	return strings.ReplaceAll(chunk, "!", "!!") + "!"
}

// ParseStringLiteral decodes a Smalltalk string literal: outer quotes with
// '' collapsing to a single quote. Anything after the closing quote is an
// error.
func ParseStringLiteral(s string) (string, error) {
	if len(s) < 2 || s[0] != '\'' {
		return "", errors.Errorf("expected Smalltalk string literal, got %q", s)
	}

	var buf strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		if c != '\'' {
			buf.WriteByte(c)
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == '\'' {
			buf.WriteByte('\'')
			i += 2
			continue
		}
		if i != len(s)-1 {
			return "", errors.Errorf("trailing junk after string literal in %q", s)
		}
		return buf.String(), nil
	}
	return "", errors.Errorf("unterminated string literal %q", s)
}

// ParseSymbolLiteral decodes a Smalltalk symbol written as # followed by a
// string literal, e.g. #'name'.
func ParseSymbolLiteral(s string) (string, error) {
	if len(s) < 1 || s[0] != '#' {
		return "", errors.Errorf("expected Smalltalk symbol literal, got %q", s)
	}
	return ParseStringLiteral(s[1:])
}
