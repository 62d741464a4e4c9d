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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAutodetectHonorsEnv(t *testing.T) {
	t.Setenv("SQUEAK_VM", "/opt/squeak/bin/squeak")
	p, err := Autodetect()
	require.NoError(t, err)
	require.Equal(t, "/opt/squeak/bin/squeak", p)
}

func TestFailureErrorCarriesLog(t *testing.T) {
	cause := errors.New("exit status 1")
	err := &FailureError{VM: "/usr/bin/squeak", ErrorLog: "ZeroDivide", Cause: cause}

	require.Contains(t, err.Error(), "/usr/bin/squeak")
	require.Contains(t, err.Error(), "ZeroDivide")
	require.ErrorIs(t, err, cause)

	bare := &FailureError{VM: "/usr/bin/squeak", Cause: cause}
	require.NotContains(t, bare.Error(), "\n")
}

func TestApplyFailureReadsErrorLog(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(workDir, "errors.txt"), []byte("MessageNotUnderstood"), 0o644))

	r := &Runner{Headless: true}
	err := r.Apply(workDir, filepath.Join(workDir, "no-such-vm"), "1 + 1.")
	require.Error(t, err)

	failure := &FailureError{}
	require.ErrorAs(t, err, &failure)
	require.Contains(t, failure.ErrorLog, "MessageNotUnderstood")

	// The payload script is cleaned up even on failure.
	_, statErr := os.Stat(filepath.Join(workDir, scriptName))
	require.True(t, os.IsNotExist(statErr))
}

func TestApplyRecordsProjectDirectory(t *testing.T) {
	workDir := t.TempDir()
	project := t.TempDir()

	r := &Runner{Directory: project}
	// The VM path does not exist, so the invocation fails, but the
	// directory file is written first.
	_ = r.Apply(workDir, filepath.Join(workDir, "no-such-vm"), "1 + 1.")

	raw, err := os.ReadFile(filepath.Join(workDir, directoryFile))
	require.NoError(t, err)
	abs, err := filepath.Abs(project)
	require.NoError(t, err)
	require.Equal(t, abs, strings.TrimSpace(string(raw)))
}
