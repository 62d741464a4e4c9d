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
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tonyg/squeaker/pkg/builder"
	"github.com/tonyg/squeaker/pkg/stage"
	"github.com/tonyg/squeaker/pkg/store"
)

var dotCmd = &cobra.Command{
	Use:   "dot",
	Short: "Dump the cached derivation graph in Graphviz format",
	Long: `squeaker dot - render the cache as a graph

Writes the stage DAG and tags to stdout in Graphviz DOT syntax. Pipe it
through dot(1):

    squeaker dot | dot -Tsvg > cache.svg

Stages whose image blob has gone missing are drawn dashed.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(runDot(), "run `squeaker dot`")
	},
}

func init() {
	rootCmd.AddCommand(dotCmd)
}

func runDot() error {
	s := openStore()
	stageIDs, err := s.List(store.Stages)
	if err != nil {
		return err
	}
	tagNames, err := s.List(store.Tags)
	if err != nil {
		return err
	}

	w := os.Stdout
	fmt.Fprintln(w, "digraph cache {")
	fmt.Fprintln(w, "  rankdir=LR;")
	fmt.Fprintln(w, "  node [fontname=\"monospace\"];")

	for _, id := range stageIDs {
		rec, err := s.LoadStage(id)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}

		attrs := fmt.Sprintf("label=%q, shape=box", dotLabel(rec))
		if !s.HasBlob(rec.ImageDigest) {
			attrs += ", style=dashed"
		}
		fmt.Fprintf(w, "  %q [%s];\n", dotNode(rec.StageDigest), attrs)
		if rec.Parent != "" {
			fmt.Fprintf(w, "  %q -> %q;\n", dotNode(rec.StageDigest), dotNode(rec.Parent))
		}
	}

	for _, name := range tagNames {
		tag, err := s.LoadTag(name)
		if err != nil {
			return err
		}
		if tag == nil {
			continue
		}
		fmt.Fprintf(w, "  %q [label=%q, shape=ellipse];\n", "tag:"+tag.Name, tag.Name)
		fmt.Fprintf(w, "  %q -> %q;\n", "tag:"+tag.Name, dotNode(tag.StageDigest))
	}

	fmt.Fprintln(w, "}")
	return nil
}

func dotNode(stageDigest string) string {
	return builder.Short(stageDigest)
}

func dotLabel(rec *stage.Record) string {
	switch rec.Type {
	case stage.TypeURL:
		return rec.URL
	case stage.TypeResource:
		return "resource " + rec.ResourcePath
	default:
		return firstLine(rec.Chunk)
	}
}

func firstLine(chunk string) string {
	line := strings.TrimSpace(chunk)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i] + " ..."
	}
	const max = 60
	if len(line) > max {
		line = line[:max] + "..."
	}
	return line
}
