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

package mapper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/croessner/batchpost/client/config"
	"github.com/croessner/batchpost/client/errors"

	"github.com/patrickmn/go-cache"
)

// Doer sends one HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// option is one entry of a LookupData answer.
type option struct {
	Value flexString `json:"value"`
	Text  string     `json:"text"`
}

// RemoteLookup resolves names against a LookupData endpoint of the remote service. Answers are
// cached per parent id.
type RemoteLookup struct {
	src    config.LookupSource
	client Doer
	cache  *cache.Cache
}

var _ Resolver = (*RemoteLookup)(nil)

// NewRemoteLookup returns a resolver for src.
func NewRemoteLookup(src config.LookupSource, client Doer) *RemoteLookup {
	if src.ValueField == "" {
		src.ValueField = "id"
	}

	if src.TextField == "" {
		src.TextField = "nama"
	}

	if src.CacheTTL <= 0 {
		src.CacheTTL = time.Hour
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &RemoteLookup{
		src:    src,
		client: client,
		cache:  cache.New(src.CacheTTL, 2*src.CacheTTL),
	}
}

func (r *RemoteLookup) Resolve(ctx context.Context, parent, name string) (string, error) {
	options, err := r.options(ctx, parent)
	if err != nil {
		return "", err
	}

	if id, ok := options[normalizeName(name)]; ok {
		return id, nil
	}

	return "", fmt.Errorf("%w: %q below %s=%s", errors.ErrLookupMiss, name, r.src.ParentField, parent)
}

func (r *RemoteLookup) options(ctx context.Context, parent string) (map[string]string, error) {
	if cached, found := r.cache.Get(parent); found {
		return cached.(map[string]string), nil
	}

	form := url.Values{}
	form.Set("item[value]", r.src.ValueField)
	form.Set("item[text]", r.src.TextField)
	form.Set("parent["+r.src.ParentField+"]", parent)
	form.Set("order["+r.src.TextField+"]", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.src.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %s: %w", errors.ErrTransport, r.src.URL, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("lookup %s: unexpected status %d", r.src.URL, resp.StatusCode)

		// Gateway and throttling answers are worth another try.
		if resp.StatusCode >= http.StatusInternalServerError ||
			resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
			err = fmt.Errorf("%w: %w", errors.ErrTransport, err)
		}

		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %s: %w", errors.ErrTransport, r.src.URL, err)
	}

	var answer []option

	if err = json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", r.src.URL, err)
	}

	options := make(map[string]string, len(answer))

	for _, opt := range answer {
		if opt.Value == "" || opt.Text == "" {
			continue
		}

		options[normalizeName(opt.Text)] = string(opt.Value)
	}

	r.cache.SetDefault(parent, options)

	return options, nil
}
