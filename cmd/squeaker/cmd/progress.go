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
	"time"
)

// terminalProgress renders transfer progress as inline carriage-return
// updates on stderr, throttled so large downloads do not flood the
// terminal.
type terminalProgress struct {
	last time.Time
}

func newTerminalProgress() *terminalProgress {
	return &terminalProgress{}
}

func (p *terminalProgress) Update(current, expected int64, label string) {
	now := time.Now()
	if now.Sub(p.last) < 100*time.Millisecond && current != expected {
		return
	}
	p.last = now

	if expected > 0 {
		fmt.Fprintf(os.Stderr, "\r%s: %s / %s (%d%%)",
			label, humanBytes(current), humanBytes(expected), current*100/expected)
	} else {
		fmt.Fprintf(os.Stderr, "\r%s: %s", label, humanBytes(current))
	}
	if current == expected {
		fmt.Fprintln(os.Stderr)
	}
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
