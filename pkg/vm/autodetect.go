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

package vm

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// pathNames are binary names tried on $PATH, most specific first.
var pathNames = []string{"squeak", "squeakvm"}

// appGlobs are well-known install locations tried after $PATH.
var appGlobs = []string{
	"/Applications/Squeak*.app/Contents/MacOS/Squeak",
	"/usr/local/lib/squeak/*/squeak",
	"/usr/lib/squeak/*/squeak",
	"/opt/squeak*/bin/squeak",
}

// Autodetect locates a usable Smalltalk VM. The SQUEAK_VM environment
// variable wins outright; otherwise $PATH and well-known install locations
// are searched. When a glob matches several installs the newest-sorting path
// is taken.
func Autodetect() (string, error) {
	if env := os.Getenv("SQUEAK_VM"); env != "" {
		return env, nil
	}

	for _, name := range pathNames {
		if p, err := exec.LookPath(name); err == nil {
			logrus.Debugf("autodetected VM %s on PATH", p)
			return p, nil
		}
	}

	for _, pattern := range appGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil || len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		p := matches[len(matches)-1]
		logrus.Debugf("autodetected VM %s via %s", p, pattern)
		return p, nil
	}

	return "", errors.New("no Smalltalk VM found; set SQUEAK_VM or pass --vm")
}
