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

// Package zipimage reads and writes the image blob format: a ZIP archive
// holding exactly one *.image entry and a *.changes entry with the same stem.
package zipimage

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// ImageName is the file name images are extracted under in a working
	// directory.
	ImageName = "squeak.image"
	// ChangesName is the companion changes file name.
	ChangesName = "squeak.changes"
)

// MalformedError reports a blob that is not a valid image archive.
type MalformedError struct {
	Path   string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed image archive %s: %s", e.Path, e.Reason)
}

// findPair locates the first *.image entry and its matching *.changes entry.
func findPair(r *zip.ReadCloser, path string) (image, changes *zip.File, err error) {
	for _, f := range r.File {
		if strings.HasSuffix(f.Name, ".image") {
			image = f
			break
		}
	}
	if image == nil {
		return nil, nil, &MalformedError{Path: path, Reason: "no *.image entry"}
	}

	stem := strings.TrimSuffix(image.Name, ".image")
	for _, f := range r.File {
		if f.Name == stem+".changes" {
			changes = f
			break
		}
	}
	if changes == nil {
		return nil, nil, &MalformedError{
			Path:   path,
			Reason: fmt.Sprintf("no %s.changes entry matching %s", stem, image.Name),
		}
	}
	return image, changes, nil
}

// Extract unpacks the blob at zipPath into workDir as squeak.image and
// squeak.changes. Files already present under those names are left alone
// with a warning.
func Extract(zipPath, workDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return errors.Wrapf(err, "opening archive %q", zipPath)
	}
	defer r.Close()

	image, changes, err := findPair(r, zipPath)
	if err != nil {
		return err
	}

	if err := extractEntry(image, filepath.Join(workDir, ImageName)); err != nil {
		return err
	}
	return extractEntry(changes, filepath.Join(workDir, ChangesName))
}

// ExtractOriginal unpacks the image/changes pair under their archived entry
// names, for use outside the builder.
func ExtractOriginal(zipPath, destDir string) (imageName string, err error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", errors.Wrapf(err, "opening archive %q", zipPath)
	}
	defer r.Close()

	image, changes, err := findPair(r, zipPath)
	if err != nil {
		return "", err
	}

	if err := extractEntry(image, filepath.Join(destDir, filepath.Base(image.Name))); err != nil {
		return "", err
	}
	if err := extractEntry(changes, filepath.Join(destDir, filepath.Base(changes.Name))); err != nil {
		return "", err
	}
	return filepath.Base(image.Name), nil
}

func extractEntry(f *zip.File, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		logrus.Warnf("not overwriting existing file %s", dest)
		return nil
	}

	src, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "opening archive entry %q", f.Name)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "creating %q", dest)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return errors.Wrapf(err, "extracting %q", f.Name)
	}
	return errors.Wrapf(out.Close(), "closing %q", dest)
}

// Pack archives an image/changes pair into a new ZIP written to w, under the
// canonical squeak.* entry names.
func Pack(w io.Writer, imagePath, changesPath string) error {
	zw := zip.NewWriter(w)

	if err := packEntry(zw, ImageName, imagePath); err != nil {
		return err
	}
	if err := packEntry(zw, ChangesName, changesPath); err != nil {
		return err
	}
	return errors.Wrap(zw.Close(), "finishing archive")
}

func packEntry(zw *zip.Writer, name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %q", path)
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return errors.Wrapf(err, "creating archive entry %q", name)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, "archiving %q", path)
	}
	return nil
}
