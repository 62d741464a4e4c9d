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

// Package vm spawns the Smalltalk virtual machine as an opaque child process
// with a scripted payload. The engine only cares about the exit code and the
// files the image leaves behind in the working directory.
package vm

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"sigs.k8s.io/release-utils/command"

	"github.com/tonyg/squeaker/pkg/zipimage"
)

const headlessFlag = "-headless"

// scriptName is the payload file handed to the VM on its command line.
const scriptName = "squeaker-payload.st"

// directoryFile tells code inside the image where the user's project
// directory lives.
const directoryFile = "squeakerDirectory"

// The payload wraps the user's chunk: in-image standard streams go to
// output.txt / errors.txt, a Smalltalk exception dumps a backtrace and
// quits with exit code 1, and success snapshots and quits cleanly.
const scriptTemplate = `| squeakerLog |
FileStream startUp: true.
squeakerLog := StandardFileStream forceNewFileNamed: 'output.txt'.
[[%s
] on: Error do: [:err |
	| trace |
	trace := StandardFileStream forceNewFileNamed: 'errors.txt'.
	err printVerboseOn: trace.
	trace close.
	squeakerLog close.
	Smalltalk snapshot: true andQuitWithExitCode: 1]] value.
squeakerLog close.
Smalltalk snapshot: true andQuit: true.
`

// FailureError reports a VM child that exited nonzero, carrying whatever the
// in-image error trap managed to dump.
type FailureError struct {
	VM       string
	ErrorLog string
	Cause    error
}

func (e *FailureError) Error() string {
	if e.ErrorLog != "" {
		return fmt.Sprintf("vm %s failed: %v\n%s", e.VM, e.Cause, e.ErrorLog)
	}
	return fmt.Sprintf("vm %s failed: %v", e.VM, e.Cause)
}

func (e *FailureError) Unwrap() error { return e.Cause }

// Runner invokes a VM over an extracted image in a working directory.
type Runner struct {
	// Headless adds the VM's headless flag to the invocation.
	Headless bool
	// Directory, when set, is recorded in the working directory for the
	// image to find (the project directory the user supplied).
	Directory string
}

// Apply runs the VM at vmPath against workDir/squeak.image with the given
// Smalltalk chunk as payload. The script snapshots and quits, so on success
// the working directory holds the updated image and changes files.
func (r *Runner) Apply(workDir, vmPath, chunk string) error {
	if r.Directory != "" {
		abs, err := filepath.Abs(r.Directory)
		if err != nil {
			return errors.Wrapf(err, "resolving %q", r.Directory)
		}
		if err := os.WriteFile(filepath.Join(workDir, directoryFile), []byte(abs), 0o644); err != nil {
			return errors.Wrap(err, "writing squeakerDirectory")
		}
	}

	scriptPath := filepath.Join(workDir, scriptName)
	script := fmt.Sprintf(scriptTemplate, chunk)
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return errors.Wrap(err, "writing payload script")
	}
	defer os.Remove(scriptPath)

	args := []string{}
	if r.Headless {
		args = append(args, headlessFlag)
	}
	args = append(args, zipimage.ImageName, scriptPath)

	cmd := command.NewWithWorkDir(workDir, vmPath, args...)
	logrus.Debugf("executing %s", cmd.String())

	if err := cmd.RunSuccess(); err != nil {
		return &FailureError{
			VM:       vmPath,
			ErrorLog: readErrorLog(workDir),
			Cause:    err,
		}
	}

	logOutput(workDir)
	return nil
}

// Interactive runs the VM without a payload script, for `squeaker run`.
// Extra args are passed through to the VM after the image name.
func (r *Runner) Interactive(workDir, vmPath string, extra []string) error {
	if r.Directory != "" {
		abs, err := filepath.Abs(r.Directory)
		if err != nil {
			return errors.Wrapf(err, "resolving %q", r.Directory)
		}
		if err := os.WriteFile(filepath.Join(workDir, directoryFile), []byte(abs), 0o644); err != nil {
			return errors.Wrap(err, "writing squeakerDirectory")
		}
	}

	args := []string{}
	if r.Headless {
		args = append(args, headlessFlag)
	}
	args = append(args, zipimage.ImageName)
	args = append(args, extra...)

	cmd := command.NewWithWorkDir(workDir, vmPath, args...)
	logrus.Debugf("executing %s", cmd.String())

	if err := cmd.RunSuccess(); err != nil {
		return &FailureError{VM: vmPath, Cause: err}
	}
	return nil
}

func readErrorLog(workDir string) string {
	raw, err := os.ReadFile(filepath.Join(workDir, "errors.txt"))
	if err != nil {
		return ""
	}
	return string(raw)
}

func logOutput(workDir string) {
	raw, err := os.ReadFile(filepath.Join(workDir, "output.txt"))
	if err != nil || len(raw) == 0 {
		return
	}
	logrus.Debugf("vm output:\n%s", raw)
}
