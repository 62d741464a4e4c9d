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

// Package gc reclaims cache space by marking stages and image blobs from tag
// roots and sweeping the rest. Stage records reachable from a tag always
// survive; their blobs survive according to the keep-intermediate depth and
// the URL policy.
package gc

import (
	"github.com/sirupsen/logrus"

	"github.com/tonyg/squeaker/pkg/builder"
	"github.com/tonyg/squeaker/pkg/stage"
	"github.com/tonyg/squeaker/pkg/store"
)

// URLPolicy controls what happens to the blobs of url stages no tag depends
// on.
type URLPolicy int

const (
	// URLKeep protects every downloaded blob, tagged or not. The default:
	// downloads are expensive and rarely worth repeating.
	URLKeep URLPolicy = iota
	// URLDeleteUnreferenced keeps blobs only for url stages some tag walk
	// reached.
	URLDeleteUnreferenced
	// URLDeleteAll deletes every downloaded blob, even tagged ones. Their
	// records survive if tag-reachable, and self-repair refetches on
	// demand.
	URLDeleteAll
)

// Options tunes one collection.
type Options struct {
	// KeepIntermediate is how many parent steps from each tag keep their
	// image blob. Negative keeps every reachable blob; zero keeps only
	// the tagged tip.
	KeepIntermediate int
	URLs             URLPolicy
	DryRun           bool
}

// Result lists what the sweep removed (or would remove, under DryRun).
type Result struct {
	DoomedImages []string
	DoomedStages []string
}

// Run performs a mark-and-sweep collection over the store.
func Run(s *store.Store, opts Options) (*Result, error) {
	stageIDs, err := s.List(store.Stages)
	if err != nil {
		return nil, err
	}

	records := map[string]*stage.Record{}
	for _, id := range stageIDs {
		rec, err := s.LoadStage(id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records[id] = rec
		}
	}

	markedStages := map[string]bool{}
	markedImages := map[string]bool{}

	// walk marks the chain from start towards its roots, keeping image
	// blobs down to the keep-intermediate depth.
	walk := func(start *stage.Record) {
		depth := 0
		for cur := start; cur != nil; {
			markedStages[cur.StageDigest] = true
			if opts.KeepIntermediate < 0 || depth <= opts.KeepIntermediate {
				markedImages[cur.ImageDigest] = true
			}
			if cur.Parent == "" {
				break
			}
			next, ok := records[cur.Parent]
			if !ok {
				// Dangling parents are recoverable here: the chain
				// beyond them is already unreachable.
				logrus.Warnf("stage %s refers to missing parent %s",
					builder.Short(cur.StageDigest), builder.Short(cur.Parent))
				break
			}
			cur = next
			depth++
		}
	}

	tagNames, err := s.List(store.Tags)
	if err != nil {
		return nil, err
	}
	for _, name := range tagNames {
		tag, err := s.LoadTag(name)
		if err != nil {
			return nil, err
		}
		if tag == nil {
			continue
		}
		markedImages[tag.ImageDigest] = true
		if rec, ok := records[tag.StageDigest]; ok {
			walk(rec)
		} else {
			logrus.Warnf("tag %q refers to missing stage %s",
				name, builder.Short(tag.StageDigest))
		}
	}

	switch opts.URLs {
	case URLKeep:
		for _, rec := range records {
			if rec.Type == stage.TypeURL {
				walk(rec)
			}
		}
	case URLDeleteUnreferenced:
		for _, rec := range records {
			if rec.Type == stage.TypeURL && markedStages[rec.StageDigest] {
				markedImages[rec.ImageDigest] = true
			}
		}
	case URLDeleteAll:
		for _, rec := range records {
			if rec.Type == stage.TypeURL {
				delete(markedImages, rec.ImageDigest)
			}
		}
	}

	imageIDs, err := s.List(store.Images)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, id := range imageIDs {
		if !markedImages[id] {
			res.DoomedImages = append(res.DoomedImages, id)
		}
	}
	for _, id := range stageIDs {
		if !markedStages[id] {
			res.DoomedStages = append(res.DoomedStages, id)
		}
	}

	if opts.DryRun {
		for _, id := range res.DoomedImages {
			logrus.Infof("would delete image %s", builder.Short(id))
		}
		for _, id := range res.DoomedStages {
			logrus.Infof("would delete stage %s", builder.Short(id))
		}
		return res, nil
	}

	for _, id := range res.DoomedImages {
		if err := s.Delete(store.Images, id); err != nil {
			return nil, err
		}
		logrus.Debugf("deleted image %s", builder.Short(id))
	}
	for _, id := range res.DoomedStages {
		if err := s.Delete(store.Stages, id); err != nil {
			return nil, err
		}
		logrus.Debugf("deleted stage %s", builder.Short(id))
	}
	return res, nil
}
