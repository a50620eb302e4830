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

// Package session owns the authenticated HTTP session of one batch: login, form submission
// and detection of sessions that died without an error status.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/croessner/batchpost/client/definitions"
	"github.com/croessner/batchpost/client/errors"
	"github.com/croessner/batchpost/client/log/level"

	"github.com/segmentio/ksuid"
	"golang.org/x/net/publicsuffix"
)

const (
	snippetLength = 200
	drainLimit    = 64 << 10
)

// Session is one authenticated identity. It is replaced, never repaired.
type Session struct {
	ID      string
	Started time.Time

	client *http.Client
}

// Options configures a Manager.
type Options struct {
	LoginURL      string
	Username      string
	Password      string
	UsernameField string
	PasswordField string

	Timeout           time.Duration
	UserAgent         string
	LoginAcceptStatus []int
	MaxBodyBytes      int64

	Classifier Classifier
	Transport  http.RoundTripper
	Logger     *slog.Logger
}

// Manager holds at most one live Session.
type Manager struct {
	opts Options

	mu      sync.Mutex
	current *Session
	logins  int
}

// loginJudge is implemented by classifiers that can also judge a login page.
type loginJudge interface {
	LoginAccepted(body []byte) bool
}

func NewManager(opts Options) *Manager {
	if opts.Transport == nil {
		opts.Transport = NewTransport(true, false)
	}

	if opts.Classifier == nil {
		opts.Classifier = NewMarkerClassifier(Markers{})
	}

	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	if opts.UsernameField == "" {
		opts.UsernameField = "username"
	}

	if opts.PasswordField == "" {
		opts.PasswordField = "password"
	}

	if len(opts.LoginAcceptStatus) == 0 {
		opts.LoginAcceptStatus = []int{http.StatusOK, http.StatusFound}
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Manager{opts: opts}
}

// Login discards the current session and authenticates a new one.
func (m *Manager) Login(ctx context.Context) error {
	m.mu.Lock()
	m.current = nil
	m.logins++
	attempt := m.logins
	m.mu.Unlock()

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrAuth, err)
	}

	sess := &Session{
		ID:      ksuid.New().String(),
		Started: time.Now(),
		client: &http.Client{
			Jar:       jar,
			Transport: m.opts.Transport,
			Timeout:   m.opts.Timeout,
		},
	}

	form := url.Values{}
	form.Set(m.opts.UsernameField, m.opts.Username)
	form.Set(m.opts.PasswordField, m.opts.Password)

	resp, err := m.post(ctx, sess, m.opts.LoginURL, form)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrAuth, err)
	}

	if !slices.Contains(m.opts.LoginAcceptStatus, resp.StatusCode) || !m.loginAccepted(resp) {
		return errors.NewDetailedError(fmt.Errorf("%w: status %d", errors.ErrAuth, resp.StatusCode)).
			WithDetail(resp.Snippet(snippetLength))
	}

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()

	level.Info(m.opts.Logger).Log(
		definitions.LogKeyMsg, "login succeeded",
		definitions.LogKeySession, sess.ID,
		definitions.LogKeyAttempt, attempt,
		definitions.LogKeyStatus, resp.StatusCode,
	)

	return nil
}

// Submit posts payload as an urlencoded form within the current session. Only transport
// failures are errors; the response is never judged here.
func (m *Manager) Submit(ctx context.Context, endpoint string, payload url.Values) (*Response, error) {
	sess := m.Current()
	if sess == nil {
		return nil, errors.ErrNoSession
	}

	return m.post(ctx, sess, endpoint, payload)
}

// Get fetches target within the current session.
func (m *Manager) Get(ctx context.Context, target string) (*Response, error) {
	sess := m.Current()
	if sess == nil {
		return nil, errors.ErrNoSession
	}

	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrFatal, err)
	}

	return m.do(sess, req)
}

// Classify delegates to the configured Classifier.
func (m *Manager) Classify(resp *Response) State {
	return m.opts.Classifier.Classify(resp)
}

// Invalidate drops the current session.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current
}

// Logins returns the number of login attempts made so far.
func (m *Manager) Logins() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.logins
}

// post detaches the request from ctx cancellation. An operator stop must never abort a
// submission whose outcome would then be unknown; the client timeout still applies.
func (m *Manager) post(ctx context.Context, sess *Session, target string, form url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrFatal, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return m.do(sess, req)
}

func (m *Manager) do(sess *Session, req *http.Request) (*Response, error) {
	if m.opts.UserAgent != "" {
		req.Header.Set("User-Agent", m.opts.UserAgent)
	}

	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	httpResp, err := sess.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrTransport, err)
	}

	defer func() {
		_, _ = io.CopyN(io.Discard, httpResp.Body, drainLimit)
		_ = httpResp.Body.Close()
	}()

	resp, err := newResponse(httpResp, m.opts.MaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrTransport, err)
	}

	level.Debug(m.opts.Logger).Log(
		definitions.LogKeyMsg, "response received",
		definitions.LogKeySession, sess.ID,
		definitions.LogKeyEndpoint, req.URL.String(),
		definitions.LogKeyStatus, resp.StatusCode,
		"redirects", len(resp.Redirects),
	)

	return resp, nil
}

func (m *Manager) loginAccepted(resp *Response) bool {
	if judge, ok := m.opts.Classifier.(loginJudge); ok {
		return judge.LoginAccepted(resp.Body)
	}

	return m.opts.Classifier.Classify(resp) == Authenticated
}
