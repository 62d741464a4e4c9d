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

	"github.com/tonyg/squeaker/pkg/vm"
)

var printAutodetectCmd = &cobra.Command{
	Use:   "print-autodetect",
	Short: "Print the VM executable autodetection would pick",
	Long: `squeaker print-autodetect - show which VM would be used

Prints the path selected by the SQUEAK_VM environment variable, the
config file, or a search of PATH and the usual install locations.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(runPrintAutodetect(), "run `squeaker print-autodetect`")
	},
}

func init() {
	rootCmd.AddCommand(printAutodetectCmd)
}

func runPrintAutodetect() error {
	path, err := vm.Autodetect()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
