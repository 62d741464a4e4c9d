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

// Package cmd binds the squeaker CLI surface to the engine packages.
package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"sigs.k8s.io/release-utils/log"

	"github.com/tonyg/squeaker/pkg/store"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "squeaker",
	Short: "Build and cache Smalltalk images from declarative recipes",
	Long: `squeaker - a Docker-style builder for Smalltalk images

A recipe derives a customized image from a base image plus a sequence of
in-image Smalltalk expressions; every intermediate derivation is cached by
content digest so repeated builds are incremental.
`,
	PersistentPreRunE: initLogging,
}

type rootOptions struct {
	logLevel string
	cacheDir string
}

var rootOpts = &rootOptions{}

// Execute adds all child commands to the root command and sets flags.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&rootOpts.logLevel,
		"log-level",
		"info",
		fmt.Sprintf("the logging verbosity, either %s", log.LevelNames()),
	)

	rootCmd.PersistentFlags().StringVar(
		&rootOpts.cacheDir,
		"cache-dir",
		"",
		"cache directory (default: <XDG_CACHE_HOME>/squeaker)",
	)
}

func initLogging(*cobra.Command, []string) error {
	return log.SetupGlobalLogger(rootOpts.logLevel)
}

// openStore returns the cache store selected by the persistent flags.
func openStore() *store.Store {
	if rootOpts.cacheDir != "" {
		return store.New(rootOpts.cacheDir)
	}
	return store.Default()
}
