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

	"github.com/tonyg/squeaker/pkg/builder"
	"github.com/tonyg/squeaker/pkg/store"
)

var tagsCmd = &cobra.Command{
	Use:           "tags",
	Short:         "List tags and the images they name",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(runTags(), "run `squeaker tags`")
	},
}

var resolveTagCmd = &cobra.Command{
	Use:           "resolve-tag TAG",
	Short:         "Print the image digest a tag names",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(runResolveTag(args[0]), "run `squeaker resolve-tag`")
	},
}

var untagCmd = &cobra.Command{
	Use:   "untag TAG...",
	Short: "Remove tags",
	Long: `squeaker untag - remove tags from the cache

The stages and images the tags named are untouched; a later gc reclaims
whatever became unreachable.
`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(runUntag(args), "run `squeaker untag`")
	},
}

var unstageCmd = &cobra.Command{
	Use:   "unstage DIGEST...",
	Short: "Remove stage records by digest prefix",
	Long: `squeaker unstage - forget cached derivations

Each DIGEST is a (possibly abbreviated) stage digest. The record is
removed so the next build replays the stage; the image blob it pointed at
is left for gc.
`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(runUnstage(args), "run `squeaker unstage`")
	},
}

func init() {
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(resolveTagCmd)
	rootCmd.AddCommand(untagCmd)
	rootCmd.AddCommand(unstageCmd)
}

func runTags() error {
	s := openStore()
	names, err := s.List(store.Tags)
	if err != nil {
		return err
	}

	for _, name := range names {
		tag, err := s.LoadTag(name)
		if err != nil {
			return err
		}
		if tag == nil {
			continue
		}
		fmt.Printf("%s\t%s\n", tag.Name, builder.Short(tag.ImageDigest))
	}
	return nil
}

func runResolveTag(name string) error {
	s := openStore()
	tag, err := s.LoadTag(name)
	if err != nil {
		return err
	}
	if tag == nil {
		return errors.Errorf("no tag named %q", name)
	}
	fmt.Println(tag.ImageDigest)
	return nil
}

func runUntag(names []string) error {
	s := openStore()
	for _, name := range names {
		tag, err := s.LoadTag(name)
		if err != nil {
			return err
		}
		if tag == nil {
			return errors.Errorf("no tag named %q", name)
		}
		if err := s.Delete(store.Tags, name); err != nil {
			return err
		}
		fmt.Printf("untagged %s (was %s)\n", name, builder.Short(tag.ImageDigest))
	}
	return nil
}

func runUnstage(prefixes []string) error {
	s := openStore()
	for _, prefix := range prefixes {
		full, err := s.ResolvePrefix(store.Stages, prefix)
		if err != nil {
			return err
		}
		if full == "" {
			return errors.Errorf("no stage matches %q", prefix)
		}
		if err := s.Delete(store.Stages, full); err != nil {
			return err
		}
		fmt.Printf("unstaged %s\n", builder.Short(full))
	}
	return nil
}
