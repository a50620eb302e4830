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
	"testing"

	"github.com/stretchr/testify/assert"
)

const welcome = "Selamat datang di Sistem Informasi Tuberkulosis"

func testMarkers() Markers {
	return Markers{
		LoginPathIndicators:  []string{"login"},
		LoginPageMarkers:     []string{"login"},
		AuthenticatedMarkers: []string{welcome},
		ExpiredPhrases:       [][]string{{"session expired"}, {"sesi", "expired"}},
	}
}

func TestMarkerClassifier(t *testing.T) {
	classifier := NewMarkerClassifier(testMarkers())

	cases := []struct {
		name string
		resp *Response
		want State
	}{
		{name: "nil response", resp: nil, want: Fatal},
		{name: "unauthorized", resp: &Response{StatusCode: 401}, want: Expired},
		{name: "forbidden", resp: &Response{StatusCode: 403, Body: []byte(welcome)}, want: Expired},
		{name: "redirect to login", resp: &Response{StatusCode: 200, Redirects: []string{"/dashboard", "/auth/LOGIN?next=/pasien"}, Body: []byte("ok")}, want: Expired},
		{name: "redirect elsewhere", resp: &Response{StatusCode: 200, Redirects: []string{"/pasien/list"}, Body: []byte("ok")}, want: Authenticated},
		{name: "login page", resp: &Response{StatusCode: 200, Body: []byte("<form action=/login>Please Login</form>")}, want: Expired},
		{name: "login word inside app page", resp: &Response{StatusCode: 200, Body: []byte("<h1>" + welcome + "</h1><a href=/login>switch</a>")}, want: Authenticated},
		{name: "explicit phrase", resp: &Response{StatusCode: 200, Body: []byte("Your SESSION EXPIRED, sorry")}, want: Expired},
		{name: "word group", resp: &Response{StatusCode: 200, Body: []byte("Sesi anda telah expired")}, want: Expired},
		{name: "partial word group", resp: &Response{StatusCode: 200, Body: []byte("Sesi berhasil disimpan")}, want: Authenticated},
		{name: "plain success", resp: &Response{StatusCode: 200, Body: []byte(`{"status":"ok"}`)}, want: Authenticated},
		{name: "server error is not expiry", resp: &Response{StatusCode: 500, Body: []byte("internal error")}, want: Authenticated},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifier.Classify(tc.resp))
		})
	}
}

func TestLoginAccepted(t *testing.T) {
	classifier := NewMarkerClassifier(testMarkers())

	assert.True(t, classifier.LoginAccepted([]byte(welcome)))
	assert.True(t, classifier.LoginAccepted([]byte("dashboard")))
	assert.False(t, classifier.LoginAccepted([]byte("Login gagal")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "authenticated", Authenticated.String())
	assert.Equal(t, "expired", Expired.String())
	assert.Equal(t, "fatal", Fatal.String())
}

func TestResponseSnippet(t *testing.T) {
	resp := &Response{Body: []byte("  a\n\n b   c ")}

	assert.Equal(t, "a b c", resp.Snippet(10))
	assert.Equal(t, "a b...", resp.Snippet(3))
	assert.Empty(t, (*Response)(nil).Snippet(3))
}
