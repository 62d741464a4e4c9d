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
	"golang.org/x/xerrors"

	"github.com/tonyg/squeaker/pkg/stage"
)

// ResolveImageRef resolves a user-facing reference to an image digest and,
// when the reference was a tag, the tag record. Exact tag names win;
// otherwise the reference is treated as an image digest prefix.
func (s *Store) ResolveImageRef(ref string) (string, *stage.Tag, error) {
	tag, err := s.LoadTag(ref)
	if err != nil {
		return "", nil, err
	}
	if tag != nil {
		return tag.ImageDigest, tag, nil
	}

	full, err := s.ResolvePrefix(Images, ref)
	if err != nil {
		return "", nil, err
	}
	if full == "" {
		return "", nil, xerrors.Errorf("no tag or image matches %q", ref)
	}
	return full, nil, nil
}
