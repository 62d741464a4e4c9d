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
	"github.com/tonyg/squeaker/pkg/recipe"
	"github.com/tonyg/squeaker/pkg/stage"
	"github.com/tonyg/squeaker/pkg/vm"
)

var buildCmd = &cobra.Command{
	Use:   "build DIR",
	Short: "Build an image from the recipe in DIR",
	Long: `squeaker build - derive an image from a recipe

Reads the !-delimited recipe (DIR/Squeakerfile.st unless -f is given),
resolves each stage against the cache, and prints the final image digest.
`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(
			runBuild(cmd, buildOpts, args[0]),
			"run `squeaker build`",
		)
	},
}

type buildOptions struct {
	file          string
	tag           string
	noCacheURLs   bool
	noCacheStages bool
	vmOptions
}

var buildOpts = &buildOptions{}

func init() {
	buildCmd.PersistentFlags().StringVarP(
		&buildOpts.file,
		"file",
		"f",
		"",
		fmt.Sprintf("recipe file (default: DIR/%s)", recipe.DefaultFileName),
	)

	buildCmd.PersistentFlags().StringVarP(
		&buildOpts.tag,
		"tag",
		"t",
		"",
		"tag to apply to the final stage",
	)

	buildCmd.PersistentFlags().BoolVar(
		&buildOpts.noCacheURLs,
		"no-cache-urls",
		false,
		"refetch URLs even when a cached download exists",
	)

	buildCmd.PersistentFlags().BoolVar(
		&buildOpts.noCacheStages,
		"no-cache-stages",
		false,
		"rerun command stages even when a cached result exists",
	)

	buildOpts.addFlags(buildCmd, true)
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, opts *buildOptions, dir string) error {
	vmPath, headless, err := opts.resolve(cmd)
	if err != nil {
		return err
	}

	recipePath := opts.file
	if recipePath == "" {
		recipePath = filepath.Join(dir, recipe.DefaultFileName)
	}
	f, err := os.Open(recipePath)
	if err != nil {
		return errors.Wrapf(err, "opening recipe %q", recipePath)
	}
	defer f.Close()

	noCache := map[stage.Type]bool{}
	if opts.noCacheURLs {
		noCache[stage.TypeURL] = true
	}
	if opts.noCacheStages {
		noCache[stage.TypeChunk] = true
	}

	b := &builder.Builder{
		Store:    openStore(),
		Runner:   &vm.Runner{Headless: headless, Directory: dir},
		VMPath:   vmPath,
		NoCache:  noCache,
		Progress: newTerminalProgress(),
	}

	in := &recipe.Interpreter{Builder: b, Dir: dir}
	final, err := in.Run(f)
	if err != nil {
		return err
	}

	if opts.tag != "" {
		final, err = b.Tag(opts.tag, final)
		if err != nil {
			return err
		}
	}

	fmt.Println(final.ImageDigest)
	return nil
}
