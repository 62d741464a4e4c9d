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

package builder

import "io"

// progressReader counts bytes flowing through a transfer and forwards the
// running total to a Progress reporter.
type progressReader struct {
	r        io.Reader
	total    int64
	expected int64
	label    string
	progress Progress
}

func newProgressReader(r io.Reader, expected int64, label string, p Progress) io.Reader {
	if p == nil {
		return r
	}
	return &progressReader{r: r, expected: expected, label: label, progress: p}
}

func (pr *progressReader) Read(buf []byte) (int, error) {
	n, err := pr.r.Read(buf)
	if n > 0 {
		pr.total += int64(n)
		pr.progress.Update(pr.total, pr.expected, pr.label)
	}
	return n, err
}
