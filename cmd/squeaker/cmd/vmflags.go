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
	"github.com/spf13/cobra"

	"github.com/tonyg/squeaker/pkg/config"
	"github.com/tonyg/squeaker/pkg/vm"
)

// vmOptions are the VM-selection flags shared by build, run and create.
type vmOptions struct {
	vmPath     string
	headless   bool
	noHeadless bool
}

func (o *vmOptions) addFlags(cmd *cobra.Command, defaultHeadless bool) {
	cmd.PersistentFlags().StringVar(
		&o.vmPath,
		"vm",
		"",
		"path to the Smalltalk VM executable (default: config file, then autodetection)",
	)

	cmd.PersistentFlags().BoolVar(
		&o.headless,
		"headless",
		defaultHeadless,
		"run the VM headless",
	)

	cmd.PersistentFlags().BoolVar(
		&o.noHeadless,
		"no-headless",
		false,
		"run the VM with its display, overriding --headless",
	)
}

// resolve settles the VM path and headless mode from flags, the user config
// file, and autodetection, in that order. A missing VM is only an error for
// operations that actually spawn one, so the path may come back empty
// alongside a nil error.
func (o *vmOptions) resolve(cmd *cobra.Command) (vmPath string, headless bool, err error) {
	cfg, err := config.Load()
	if err != nil {
		return "", false, err
	}

	headless = o.headless
	if !cmd.Flags().Changed("headless") && cfg.Headless != nil {
		headless = *cfg.Headless
	}
	if o.noHeadless {
		headless = false
	}

	vmPath = o.vmPath
	if vmPath == "" {
		vmPath = cfg.VM
	}
	if vmPath == "" {
		vmPath, _ = vm.Autodetect()
	}
	return vmPath, headless, nil
}
