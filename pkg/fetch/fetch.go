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

// Package fetch turns a URL into a byte stream with an optional length hint.
// It understands http, https and file URLs; the engine treats all three the
// same way.
package fetch

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/pkg/errors"
)

// FailedError reports a fetch that reached the server but did not yield a
// usable body.
type FailedError struct {
	URL        string
	Status     string
	StatusCode int
	Header     http.Header
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("fetching %s: %s", e.URL, e.Status)
}

// Source produces the bytes behind one URL.
type Source struct {
	URL string
}

// Open returns the body stream and a content-length hint, or -1 when the
// length is unknown. The caller owns the returned reader.
func (s *Source) Open() (io.ReadCloser, int64, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, -1, errors.Wrapf(err, "parsing URL %q", s.URL)
	}

	switch u.Scheme {
	case "file":
		return s.openFile(u)
	case "http", "https":
		return s.openHTTP()
	default:
		return nil, -1, errors.Errorf("unsupported URL scheme %q in %q", u.Scheme, s.URL)
	}
}

func (s *Source) openFile(u *url.URL) (io.ReadCloser, int64, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, -1, errors.Wrapf(err, "opening %q", s.URL)
	}

	size := int64(-1)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	return f, size, nil
}

func (s *Source) openHTTP() (io.ReadCloser, int64, error) {
	// No client timeout: image downloads can be arbitrarily large, and the
	// engine layers no retry or deadline policy over the transport.
	res, err := http.Get(s.URL)
	if err != nil {
		return nil, -1, errors.Wrapf(err, "fetching %s", s.URL)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return nil, -1, &FailedError{
			URL:        s.URL,
			Status:     res.Status,
			StatusCode: res.StatusCode,
			Header:     res.Header,
		}
	}
	return res.Body, res.ContentLength, nil
}
