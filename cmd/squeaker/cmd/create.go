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

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tonyg/squeaker/pkg/builder"
	"github.com/tonyg/squeaker/pkg/store"
	"github.com/tonyg/squeaker/pkg/vm"
	"github.com/tonyg/squeaker/pkg/zipimage"
)

var createCmd = &cobra.Command{
	Use:   "create IMAGE DIR",
	Short: "Extract a cached image into a directory for standalone use",
	Long: `squeaker create - export an image out of the cache

Extracts the image and changes files for IMAGE (a tag or digest prefix)
into DIR under their original names, detaching the copy from the cache
entirely.
`,
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(
			runCreate(args[0], args[1]),
			"run `squeaker create`",
		)
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
}

func runCreate(ref, dir string) error {
	s := openStore()
	imageDigest, tag, err := s.ResolveImageRef(ref)
	if err != nil {
		return err
	}

	if tag != nil {
		rec, err := s.LoadStage(tag.StageDigest)
		if err != nil {
			return err
		}
		if rec == nil {
			return errors.Errorf("tag %q names missing stage %s", tag.Name, builder.Short(tag.StageDigest))
		}
		// Replays reuse each stage's recorded VM, headless.
		b := &builder.Builder{
			Store:    s,
			Runner:   &vm.Runner{Headless: true},
			Progress: newTerminalProgress(),
		}
		if rec, err = b.EnsureImagePresent(rec); err != nil {
			return err
		}
		imageDigest = rec.ImageDigest
	} else if !s.HasBlob(imageDigest) {
		return errors.Errorf("image %s is not in the cache", builder.Short(imageDigest))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}

	imageName, err := zipimage.ExtractOriginal(s.Path(store.Images, imageDigest), dir)
	if err != nil {
		return err
	}

	fmt.Println(filepath.Join(dir, imageName))
	return nil
}
