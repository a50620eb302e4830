// Copyright (C) 2025 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package session

import (
	"io"
	"net/http"
	"strings"
)

// Response is the observable outcome of one HTTP round trip after redirects were followed.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string

	// Redirects holds the Location of every redirect hop, oldest first.
	Redirects []string
}

// Snippet returns up to n bytes of the body with whitespace collapsed.
func (r *Response) Snippet(n int) string {
	if r == nil {
		return ""
	}

	text := strings.Join(strings.Fields(string(r.Body)), " ")
	if len(text) > n {
		return text[:n] + "..."
	}

	return text
}

func newResponse(resp *http.Response, maxBody int64) (*Response, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Redirects:  redirectChain(resp),
	}

	if resp.Request != nil && resp.Request.URL != nil {
		out.URL = resp.Request.URL.String()
	}

	return out, nil
}

// redirectChain walks the responses that led to resp. The client keeps each redirect
// response on the follow-up request, so the chain is reconstructed newest first.
func redirectChain(resp *http.Response) []string {
	var chain []string

	for req := resp.Request; req != nil && req.Response != nil; req = req.Response.Request {
		if location := req.Response.Header.Get("Location"); location != "" {
			chain = append(chain, location)
		}
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	// A redirect the client did not follow is still part of the chain.
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if location := resp.Header.Get("Location"); location != "" {
			chain = append(chain, location)
		}
	}

	return chain
}
