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

// Package config reads the optional user configuration file, which supplies
// defaults for flags that would otherwise need repeating on every build.
package config

import (
	"os"
	"path/filepath"

	"github.com/OpenPeeDeeP/xdg"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Config holds user-level defaults. All fields are optional; flags always
// win over the file.
type Config struct {
	// VM is the default Smalltalk VM executable.
	VM string `json:"vm,omitempty"`
	// Headless, when set, is the default for the --headless flag.
	Headless *bool `json:"headless,omitempty"`
}

// Path returns the location of the user configuration file.
func Path() string {
	return filepath.Join(xdg.ConfigHome(), "squeaker", "config.yaml")
}

// Load reads the user configuration. A missing file is not an error and
// yields the zero Config.
func Load() (*Config, error) {
	return loadFrom(Path())
}

func loadFrom(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %q", path)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %q", path)
	}
	return cfg, nil
}
