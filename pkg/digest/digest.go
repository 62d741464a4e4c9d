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

// Package digest implements the SHA-512 digest scheme that gives stages and
// image blobs their identities. All digests are lowercase hex.
package digest

import (
	"crypto/sha512"
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
)

// blockSize is the buffer used when streaming file contents through the hash.
const blockSize = 512 * 1024

// OfString returns the SHA-512 digest of the UTF-8 bytes of s.
func OfString(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

// OfReader streams r through SHA-512 and returns the digest.
func OfReader(r io.Reader) (string, error) {
	h := sha512.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", errors.Wrap(err, "hashing stream")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// OfFile returns the SHA-512 digest of the contents of the file at path.
func OfFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "opening %q for hashing", path)
	}
	defer f.Close()

	d, err := OfReader(f)
	if err != nil {
		return "", errors.Wrapf(err, "hashing %q", path)
	}
	return d, nil
}

// OfDigests returns the SHA-512 digest of the concatenated raw bytes of the
// given hex digests, in order. Order matters: this is a list digest, not a
// set digest.
func OfDigests(digests []string) (string, error) {
	h := sha512.New()
	for _, d := range digests {
		raw, err := hex.DecodeString(d)
		if err != nil {
			return "", errors.Wrapf(err, "decoding digest %q", d)
		}
		h.Write(raw)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ForStage derives a stage digest from the stage type and its canonical key.
func ForStage(stageType, stageKey string) string {
	return OfString(stageType + "\n" + stageKey)
}
