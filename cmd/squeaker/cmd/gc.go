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

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tonyg/squeaker/pkg/gc"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete cache entries unreachable from any tag",
	Long: `squeaker gc - mark-and-sweep collection of the cache

Tags are the roots. Everything a tag can reach through parent links keeps
its stage record; image blobs are kept within --keep-intermediate steps of
each tag. Downloaded blobs are kept by default regardless of reachability.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(
			runGC(gcOpts),
			"run `squeaker gc`",
		)
	},
}

type gcOptions struct {
	dryRun                 bool
	keepIntermediate       int
	discardAllIntermediate bool
	deleteUnreferencedURLs bool
	deleteAllURLs          bool
}

var gcOpts = &gcOptions{}

func init() {
	gcCmd.PersistentFlags().BoolVarP(
		&gcOpts.dryRun,
		"dry-run",
		"n",
		false,
		"report what would be deleted without deleting anything",
	)

	gcCmd.PersistentFlags().IntVar(
		&gcOpts.keepIntermediate,
		"keep-intermediate",
		-1,
		"how many ancestors of each tag keep their image blob (negative: all)",
	)

	gcCmd.PersistentFlags().BoolVar(
		&gcOpts.discardAllIntermediate,
		"discard-all-intermediate",
		false,
		"keep only tagged tip images (same as --keep-intermediate 0)",
	)

	gcCmd.PersistentFlags().BoolVar(
		&gcOpts.deleteUnreferencedURLs,
		"delete-unreferenced-urls",
		false,
		"delete downloaded blobs no tag can reach",
	)

	gcCmd.PersistentFlags().BoolVar(
		&gcOpts.deleteAllURLs,
		"delete-all-urls",
		false,
		"delete every downloaded blob, keeping records for refetch on demand",
	)

	rootCmd.AddCommand(gcCmd)
}

func runGC(opts *gcOptions) error {
	keep := opts.keepIntermediate
	if opts.discardAllIntermediate {
		keep = 0
	}

	urls := gc.URLKeep
	switch {
	case opts.deleteAllURLs:
		urls = gc.URLDeleteAll
	case opts.deleteUnreferencedURLs:
		urls = gc.URLDeleteUnreferenced
	}

	res, err := gc.Run(openStore(), gc.Options{
		KeepIntermediate: keep,
		URLs:             urls,
		DryRun:           opts.dryRun,
	})
	if err != nil {
		return err
	}

	verb := "deleted"
	if opts.dryRun {
		verb = "would delete"
	}
	fmt.Printf("%s %d image blobs, %d stage records\n",
		verb, len(res.DoomedImages), len(res.DoomedStages))
	return nil
}
