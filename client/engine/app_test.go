package engine

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/croessner/batchpost/client/checkpoint"
	"github.com/croessner/batchpost/client/config"
	"github.com/croessner/batchpost/client/definitions"
	"github.com/croessner/batchpost/client/errors"
	"github.com/croessner/batchpost/client/governor"
	"github.com/croessner/batchpost/client/mapper"
	"github.com/croessner/batchpost/client/source"
	"github.com/croessner/batchpost/client/stats"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dashboard = "<h1>Selamat datang di Sistem Informasi Tuberkulosis</h1><a href=/logout>Logout</a>"

// portal imitates the remote web application: cookie sessions, a login form and a data form.
type portal struct {
	mu        sync.Mutex
	valid     map[string]bool
	logins    int
	posted    []url.Values
	pageViews int

	// expireAfter ends the sessions after that many page views since the last login when
	// positive.
	expireAfter int
}

func (p *portal) authorized(r *http.Request) bool {
	cookie, err := r.Cookie("sid")

	return err == nil && p.valid[cookie.Value]
}

func (p *portal) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<form action=/login>Username Password</form>"))
	})

	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		if r.PostForm.Get("user") != "operator" || r.PostForm.Get("pass") != "secret" {
			_, _ = w.Write([]byte("<form action=/login>Login gagal</form>"))

			return
		}

		p.mu.Lock()
		p.logins++
		p.pageViews = 0
		id := "sid-" + time.Now().Format(time.RFC3339Nano)
		p.valid[id] = true
		p.mu.Unlock()

		http.SetCookie(w, &http.Cookie{Name: "sid", Value: id, Path: "/"})
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})

	mux.HandleFunc("GET /dashboard", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(dashboard))
	})

	mux.HandleFunc("GET /pasien", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()

		p.pageViews++

		if !p.authorized(r) || (p.expireAfter > 0 && p.pageViews > p.expireAfter) {
			http.Redirect(w, r, "/login", http.StatusFound)

			return
		}

		_, _ = w.Write([]byte(dashboard))
	})

	mux.HandleFunc("POST /add", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		p.mu.Lock()
		defer p.mu.Unlock()

		if !p.authorized(r) {
			http.Redirect(w, r, "/login", http.StatusFound)

			return
		}

		p.posted = append(p.posted, r.PostForm)

		if r.PostForm.Get("nama") == "bad" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte("nama tidak valid"))

			return
		}

		_, _ = w.Write([]byte("Data berhasil disimpan"))
	})

	return mux
}

func (p *portal) submissions() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]url.Values(nil), p.posted...)
}

func newPortal(t *testing.T) (*portal, *httptest.Server) {
	t.Helper()

	p := &portal{valid: map[string]bool{}}
	server := httptest.NewServer(p.handler())
	t.Cleanup(server.Close)

	return p, server
}

func testConfig(serverURL string) *config.Config {
	return &config.Config{
		LoginURL:  serverURL + "/login",
		TargetURL: serverURL + "/add",
		Username:  "operator",
		Password:  "secret",
		Instance:  "test",
		Mode:      definitions.ModeSubmit,
		Session: config.SessionSection{
			UsernameField:        "user",
			PasswordField:        "pass",
			RequestTimeout:       5 * time.Second,
			TLSVerify:            true,
			LoginAcceptStatus:    []int{200, 302},
			SubmitAcceptStatus:   []int{200, 201},
			LoginPathIndicators:  []string{"/login"},
			LoginPageMarkers:     []string{"<form"},
			AuthenticatedMarkers: []string{"logout"},
			ExpiredPhrases:       [][]string{{"session", "expired"}},
			MaxBodyBytes:         1 << 20,
		},
		Rate: config.RateSection{
			NetworkRetries: 1,
			BackoffInitial: time.Millisecond,
			BackoffMax:     time.Millisecond,
		},
		Probe: config.ProbeSection{Count: 5},
	}
}

func appBatch(t *testing.T, name, target string, names ...string) Batch {
	t.Helper()

	records := make([]source.Record, 0, len(names))
	for _, n := range names {
		records = append(records, source.Record{"Nama Pasien": n})
	}

	fieldMapper, err := mapper.NewRuleMapper([]config.FieldRule{
		{Name: "nama", Column: "nama pasien", Required: true},
		{Name: "kegiatan", Value: "{row}"},
	}, nil)
	require.NoError(t, err)

	return Batch{Name: name, Target: target, Source: source.FromRecords(records), Mapper: fieldMapper}
}

func newTestApp(t *testing.T, cfg *config.Config, batches ...Batch) (*App, checkpoint.Store, *prometheus.Registry) {
	t.Helper()

	store, err := checkpoint.OpenFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	app := NewApp(cfg, nil, store, batches, stats.New(reg))
	app.NewPacer = func() *governor.Governor {
		return governor.New(governor.Options{
			BackoffInitial: time.Millisecond,
			Sleep:          func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		})
	}

	return app, store, reg
}

func TestAppRunsAllBatches(t *testing.T) {
	p, server := newPortal(t)
	cfg := testConfig(server.URL)

	app, store, reg := newTestApp(t, cfg,
		appBatch(t, "DATA 1.csv", cfg.TargetURL, "Budi", "Siti"),
		appBatch(t, "DATA 2.csv", cfg.TargetURL, "Ani"),
	)

	require.NoError(t, app.Run(context.Background()))

	reports := app.Reports()
	require.Len(t, reports, 2)

	for _, report := range reports {
		assert.Equal(t, ReasonCompleted, report.Reason, report.Batch)
		assert.Equal(t, app.RunID, report.RunID)
	}

	assert.Equal(t, definitions.ExitOK, app.ExitCode())
	assert.Equal(t, 2, p.logins)

	posted := p.submissions()
	require.Len(t, posted, 3)
	assert.Equal(t, "Budi", posted[0].Get("nama"))
	assert.Equal(t, "2", posted[1].Get("kegiatan"))

	cp, err := store.Load(context.Background(), "DATA 1.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Index)

	count, err := testutil.GatherAndCount(reg, "batchpost_submissions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAppRecoversFromSilentExpiry(t *testing.T) {
	p, server := newPortal(t)
	cfg := testConfig(server.URL)

	app, _, _ := newTestApp(t, cfg, appBatch(t, "DATA 1.csv", cfg.TargetURL, "Budi", "Siti"))

	// Drop all sessions after the first record has been stored.
	app.Recorder = expireAfterFirst{p: p, Recorder: app.Recorder}

	require.NoError(t, app.Run(context.Background()))

	report := app.Reports()[0]
	assert.Equal(t, ReasonCompleted, report.Reason)
	assert.Equal(t, 1, report.Relogins)
	assert.Equal(t, 2, p.logins)
	assert.Len(t, p.submissions(), 2)
}

// expireAfterFirst invalidates every portal session once the first checkpoint is written.
type expireAfterFirst struct {
	stats.Recorder
	p *portal
}

func (e expireAfterFirst) Checkpoint(batch string, index int) {
	e.Recorder.Checkpoint(batch, index)

	if index == 1 {
		e.p.mu.Lock()
		clear(e.p.valid)
		e.p.mu.Unlock()
	}
}

func TestAppHaltedBatchSetsExitCode(t *testing.T) {
	p, server := newPortal(t)
	cfg := testConfig(server.URL)

	app, store, _ := newTestApp(t, cfg,
		appBatch(t, "DATA 1.csv", cfg.TargetURL, "Budi", "bad", "Siti"),
		appBatch(t, "DATA 2.csv", cfg.TargetURL, "Ani"),
	)

	require.NoError(t, app.Run(context.Background()))

	reports := app.Reports()
	require.Len(t, reports, 2)

	assert.Equal(t, ReasonRejected, reports[0].Reason)
	assert.Equal(t, 1, reports[0].FinalIndex)
	assert.Equal(t, "nama tidak valid", reports[0].Detail)
	assert.Equal(t, ReasonCompleted, reports[1].Reason)
	assert.Equal(t, definitions.ExitHalted, app.ExitCode())
	assert.Len(t, p.submissions(), 3)

	cp, err := store.Load(context.Background(), "DATA 1.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Index)
}

func TestAppStopBeforeRun(t *testing.T) {
	_, server := newPortal(t)
	cfg := testConfig(server.URL)

	app, _, _ := newTestApp(t, cfg, appBatch(t, "DATA 1.csv", cfg.TargetURL, "Budi"))

	app.Stop()
	app.Stop()

	require.NoError(t, app.Run(context.Background()))

	assert.Empty(t, app.Reports())
	assert.Equal(t, definitions.ExitHalted, app.ExitCode())
}

func TestProbeMeasuresSessionLifetime(t *testing.T) {
	p, server := newPortal(t)
	p.expireAfter = 2

	cfg := testConfig(server.URL)
	cfg.Mode = definitions.ModeProbe
	cfg.TargetURL = server.URL + "/pasien"

	app, _, _ := newTestApp(t, cfg)

	require.NoError(t, app.Run(context.Background()))

	reports := app.ProbeReports()
	require.Len(t, reports, 1)

	report := reports[0]
	assert.Equal(t, 5, report.Count)
	assert.Equal(t, 3, report.ExpiredAt)
	assert.Equal(t, 2, report.Authenticated)
	assert.Equal(t, 3, report.Requests)
	assert.Equal(t, 1, report.Expired)
	assert.Zero(t, report.ReloginSuccess)
	assert.NoError(t, report.Err)
	assert.Equal(t, definitions.ExitOK, app.ExitCode())
}

func TestProbeSeriesWithRelogin(t *testing.T) {
	p, server := newPortal(t)
	p.expireAfter = 2

	cfg := testConfig(server.URL)
	cfg.Mode = definitions.ModeProbe
	cfg.TargetURL = server.URL + "/pasien"
	cfg.Probe.Counts = []int{2, 5}
	cfg.Probe.Relogin = true

	app, _, _ := newTestApp(t, cfg)

	require.NoError(t, app.Run(context.Background()))

	reports := app.ProbeReports()
	require.Len(t, reports, 2)

	assert.Equal(t, 2, reports[0].Count)
	assert.Equal(t, 2, reports[0].Authenticated)
	assert.Zero(t, reports[0].ExpiredAt)

	// Page views restart with every login, so the second run expires at its third request,
	// logs in again and finishes.
	assert.Equal(t, 5, reports[1].Count)
	assert.Equal(t, 5, reports[1].Requests)
	assert.Equal(t, 3, reports[1].ExpiredAt)
	assert.Equal(t, 1, reports[1].Expired)
	assert.Equal(t, 1, reports[1].ReloginSuccess)
	assert.Equal(t, 4, reports[1].Authenticated)
	assert.NoError(t, reports[1].Err)

	assert.Equal(t, 3, p.logins)
	assert.Equal(t, definitions.ExitOK, app.ExitCode())
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer

	printer := NewPrinter(&buf, false)
	printer.Batches([]*Report{
		{Batch: "DATA 1.csv", Reason: ReasonCompleted, FinalIndex: 3, Total: 3, RunID: "r"},
		{Batch: "DATA 2.csv", Reason: ReasonRejected, FinalIndex: 1, Total: 5, Detail: "NIK tidak valid"},
	})
	printer.Probe([]*ProbeReport{
		{Count: 10, Requests: 4, ExpiredAt: 4, Expired: 1, Lifetime: 90 * time.Second},
		{Count: 3, Err: errors.ErrAuth},
	})

	out := buf.String()

	assert.Contains(t, out, "completed DATA 1.csv checkpoint=3/3")
	assert.Contains(t, out, "rejected DATA 2.csv checkpoint=1/5")
	assert.Contains(t, out, "response: NIK tidak valid")
	assert.Contains(t, out, "session expired count=10 after 1m30s (request 4 of 4)")
	assert.Contains(t, out, "attempted=4 expired=1 relogin_success=0 relogin_failed=0")
	assert.Contains(t, out, "probe failed count=3")
	assert.NotContains(t, out, "\x1b[")
}
