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
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tonyg/squeaker/pkg/builder"
	"github.com/tonyg/squeaker/pkg/store"
	"github.com/tonyg/squeaker/pkg/vm"
	"github.com/tonyg/squeaker/pkg/zipimage"
)

var runCmd = &cobra.Command{
	Use:   "run IMAGE [-- VM-ARGS...]",
	Short: "Run a cached image interactively",
	Long: `squeaker run - start a VM on a throwaway copy of a cached image

IMAGE is a tag name or an image digest prefix. The image is extracted to a
fresh scratch directory, so the cached copy is never mutated. When the VM
exits, the session's changes file is kept in the cache's recentchanges/
audit trail.
`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(
			runRun(cmd, runOpts, args[0], args[1:]),
			"run `squeaker run`",
		)
	},
}

type runOptions struct {
	root string
	vmOptions
}

var runOpts = &runOptions{}

func init() {
	runCmd.PersistentFlags().StringVar(
		&runOpts.root,
		"root",
		"",
		"project directory made visible to the image (default: the current directory)",
	)

	runOpts.addFlags(runCmd, false)
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, opts *runOptions, ref string, extra []string) error {
	vmPath, headless, err := opts.resolve(cmd)
	if err != nil {
		return err
	}
	if vmPath == "" {
		return errors.New("no VM configured and autodetection failed; use --vm")
	}

	s := openStore()
	imageDigest, tag, err := s.ResolveImageRef(ref)
	if err != nil {
		return err
	}

	root := opts.root
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return errors.Wrap(err, "getting working directory")
		}
	}

	// A tag carries enough provenance to rebuild a lost blob; a bare digest
	// does not, so it must still be present. Replays reuse each stage's
	// recorded VM, so the builder only needs a runner.
	if tag != nil {
		rec, err := s.LoadStage(tag.StageDigest)
		if err != nil {
			return err
		}
		if rec == nil {
			return errors.Errorf("tag %q names missing stage %s", tag.Name, builder.Short(tag.StageDigest))
		}
		b := &builder.Builder{
			Store:    s,
			Runner:   &vm.Runner{Headless: headless, Directory: root},
			Progress: newTerminalProgress(),
		}
		rec, err = b.EnsureImagePresent(rec)
		if err != nil {
			return err
		}
		imageDigest = rec.ImageDigest
	} else if !s.HasBlob(imageDigest) {
		return errors.Errorf("image %s is not in the cache", builder.Short(imageDigest))
	}

	workDir := filepath.Join(os.TempDir(), "squeaker-run-"+uuid.NewString())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", workDir)
	}
	defer os.RemoveAll(workDir)

	if err := zipimage.Extract(s.Path(store.Images, imageDigest), workDir); err != nil {
		return err
	}

	logrus.Infof("running image %s in %s", builder.Short(imageDigest), workDir)
	r := &vm.Runner{Headless: headless, Directory: root}
	runErr := r.Interactive(workDir, vmPath, extra)

	changesPath := filepath.Join(workDir, zipimage.ChangesName)
	if _, statErr := os.Stat(changesPath); statErr == nil {
		kept, recErr := s.RecordRecentChanges(changesPath)
		if recErr != nil {
			logrus.Warnf("could not preserve changes file: %v", recErr)
		} else {
			logrus.Infof("session changes preserved as %s", kept)
		}
	}

	return runErr
}
