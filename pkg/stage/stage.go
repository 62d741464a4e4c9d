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

// Package stage defines the records that make up the derivation DAG. The DAG
// is never held in memory; it exists through parent pointers in stored
// records and is walked on demand.
package stage

import "github.com/pkg/errors"

// Type discriminates the three kinds of stage record.
type Type string

const (
	// TypeURL is a stage whose image was fetched from a URL.
	TypeURL Type = "url"
	// TypeChunk is a stage produced by applying a Smalltalk chunk to its
	// parent's image.
	TypeChunk Type = "stage"
	// TypeResource is a stage that fingerprints a local file without
	// changing its parent's image.
	TypeResource Type = "resource"
)

// Record is one node of the derivation DAG. The header fields are common to
// all types; the remainder are populated per type.
type Record struct {
	Type        Type   `json:"stage_type"`
	Key         string `json:"stage_key"`
	StageDigest string `json:"stage_digest"`
	ImageDigest string `json:"image_digest"`

	// TypeURL only.
	URL string `json:"url,omitempty"`

	// TypeChunk and TypeResource.
	Parent       string   `json:"parent,omitempty"`
	DigestInputs []string `json:"digest_inputs,omitempty"`

	// TypeChunk only.
	Chunk string `json:"chunk,omitempty"`
	VM    string `json:"vm,omitempty"`

	// TypeResource only. ResourceDigest is empty exactly when the file was
	// absent at build time; absence is a valid, cacheable state.
	ResourcePath   string `json:"resource_path,omitempty"`
	ResourceDigest string `json:"resource_digest,omitempty"`
}

// Validate checks the structural invariants a stored record must satisfy.
func (r *Record) Validate() error {
	switch r.Type {
	case TypeURL:
		if r.URL == "" {
			return errors.New("url stage missing url")
		}
	case TypeChunk:
		if r.Parent == "" {
			return errors.New("chunk stage missing parent")
		}
	case TypeResource:
		if r.Parent == "" {
			return errors.New("resource stage missing parent")
		}
	default:
		return errors.Errorf("unknown stage type %q", r.Type)
	}
	if r.StageDigest == "" || r.ImageDigest == "" {
		return errors.New("stage record missing digests")
	}
	return nil
}

// Tag is a mutable, human-named pointer at a stage. Tags are the roots for
// garbage collection.
type Tag struct {
	Name        string `json:"tag"`
	StageDigest string `json:"stage_digest"`
	ImageDigest string `json:"image_digest"`
}
