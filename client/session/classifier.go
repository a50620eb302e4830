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
	"bytes"
	"net/http"
	"strings"
)

// State is the session state observed in a response.
type State int

const (
	Authenticated State = iota
	Expired
	Fatal
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "fatal"
	}
}

// Classifier decides whether a response was produced inside a live session.
type Classifier interface {
	Classify(resp *Response) State
}

// Markers configures MarkerClassifier. All entries are matched case-insensitively.
type Markers struct {
	LoginPathIndicators  []string
	LoginPageMarkers     []string
	AuthenticatedMarkers []string

	// ExpiredPhrases is a list of alternatives; each alternative matches when all of its
	// words occur in the body.
	ExpiredPhrases [][]string
}

// MarkerClassifier detects silent session loss from status codes, redirects and page text.
type MarkerClassifier struct {
	loginPaths    []string
	loginMarkers  [][]byte
	authMarkers   [][]byte
	expiredGroups [][][]byte
}

var _ Classifier = (*MarkerClassifier)(nil)

func NewMarkerClassifier(m Markers) *MarkerClassifier {
	c := &MarkerClassifier{
		loginMarkers: lowerAll(m.LoginPageMarkers),
		authMarkers:  lowerAll(m.AuthenticatedMarkers),
	}

	for _, path := range m.LoginPathIndicators {
		if path = strings.TrimSpace(path); path != "" {
			c.loginPaths = append(c.loginPaths, strings.ToLower(path))
		}
	}

	for _, group := range m.ExpiredPhrases {
		if words := lowerAll(group); len(words) > 0 {
			c.expiredGroups = append(c.expiredGroups, words)
		}
	}

	return c
}

// Classify applies the checks in order: auth status codes, redirects to a login path, a login
// page without an authenticated marker, then explicit expiry phrases.
func (c *MarkerClassifier) Classify(resp *Response) State {
	if resp == nil {
		return Fatal
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Expired
	}

	for _, location := range resp.Redirects {
		if containsAnyString(strings.ToLower(location), c.loginPaths) {
			return Expired
		}
	}

	body := bytes.ToLower(resp.Body)

	if containsAny(body, c.loginMarkers) && !containsAny(body, c.authMarkers) {
		return Expired
	}

	for _, group := range c.expiredGroups {
		if containsAll(body, group) {
			return Expired
		}
	}

	return Authenticated
}

// LoginAccepted reports whether a login response looks like an established session.
func (c *MarkerClassifier) LoginAccepted(body []byte) bool {
	lower := bytes.ToLower(body)

	if containsAny(lower, c.authMarkers) {
		return true
	}

	return !containsAny(lower, c.loginMarkers)
}

func lowerAll(in []string) [][]byte {
	out := make([][]byte, 0, len(in))

	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, []byte(strings.ToLower(s)))
		}
	}

	return out
}

func containsAny(body []byte, needles [][]byte) bool {
	for _, needle := range needles {
		if bytes.Contains(body, needle) {
			return true
		}
	}

	return false
}

func containsAll(body []byte, needles [][]byte) bool {
	for _, needle := range needles {
		if !bytes.Contains(body, needle) {
			return false
		}
	}

	return true
}

func containsAnyString(s string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}

	return false
}
