package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/croessner/batchpost/client/checkpoint"
	"github.com/croessner/batchpost/client/config"
	"github.com/croessner/batchpost/client/errors"
	"github.com/croessner/batchpost/client/governor"
	"github.com/croessner/batchpost/client/mapper"
	"github.com/croessner/batchpost/client/session"
	"github.com/croessner/batchpost/client/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one scripted answer of the remote service.
type step struct {
	status int
	body   string
	state  session.State
	err    error
}

var (
	confirmed = step{status: http.StatusOK, body: "Data berhasil disimpan", state: session.Authenticated}
	expired   = step{status: http.StatusOK, body: "<form>login</form>", state: session.Expired}
	rejected  = step{status: http.StatusUnprocessableEntity, body: "NIK tidak valid", state: session.Authenticated}
	timeout   = step{err: errors.ErrTransport}
)

// scriptedSession answers submissions from a fixed script.
type scriptedSession struct {
	mu        sync.Mutex
	steps     []step
	loginErrs []error
	logins    int
	payloads  []url.Values
	states    map[*session.Response]session.State
}

func newScriptedSession(steps ...step) *scriptedSession {
	return &scriptedSession{steps: steps, states: map[*session.Response]session.State{}}
}

func (s *scriptedSession) Login(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logins++

	if len(s.loginErrs) > 0 {
		err := s.loginErrs[0]
		s.loginErrs = s.loginErrs[1:]

		return err
	}

	return nil
}

func (s *scriptedSession) Submit(_ context.Context, _ string, payload url.Values) (*session.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payloads = append(s.payloads, payload)

	if len(s.steps) == 0 {
		return nil, errors.ErrFatal
	}

	next := s.steps[0]
	s.steps = s.steps[1:]

	if next.err != nil {
		return nil, next.err
	}

	resp := &session.Response{StatusCode: next.status, Body: []byte(next.body)}
	s.states[resp] = next.state

	return resp, nil
}

func (s *scriptedSession) Classify(resp *session.Response) session.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.states[resp]
}

// submittedIndexes returns the record index of every submission in order.
func (s *scriptedSession) submittedIndexes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.payloads))

	for _, payload := range s.payloads {
		out = append(out, payload.Get("no"))
	}

	return out
}

// crashStore fails to persist one checkpoint index, as if the process died during Save.
type crashStore struct {
	checkpoint.Store
	failAt int
}

func (c *crashStore) Save(ctx context.Context, cp checkpoint.Checkpoint) error {
	if cp.Index == c.failAt {
		return stderrors.New("simulated crash")
	}

	return c.Store.Save(ctx, cp)
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (l *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	l.mu.Lock()
	l.delays = append(l.delays, d)
	l.mu.Unlock()

	return ctx.Err()
}

func newStore(t *testing.T) checkpoint.Store {
	t.Helper()

	store, err := checkpoint.OpenFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	return store
}

func newBatch(t *testing.T, n int) Batch {
	t.Helper()

	records := make([]source.Record, n)
	for i := range records {
		records[i] = source.Record{"nama": "pasien"}
	}

	fieldMapper, err := mapper.NewRuleMapper([]config.FieldRule{
		{Name: "no", Value: "{index}"},
		{Name: "nama", Column: "nama", Required: true},
	}, nil)
	require.NoError(t, err)

	return Batch{Name: "DATA 1.csv", Target: "http://portal/add", Source: source.FromRecords(records), Mapper: fieldMapper}
}

func newPacer(log *sleepLog, burst int, pause time.Duration) *governor.Governor {
	return governor.New(governor.Options{
		BurstSize:      burst,
		BurstPause:     pause,
		BackoffInitial: time.Second,
		BackoffMax:     4 * time.Second,
		Sleep:          log.sleep,
	})
}

func newTestDriver(sess Sessioner, store checkpoint.Store, pacer Pacer) *Driver {
	return NewDriver(sess, store, pacer, DriverOptions{
		RunID:          "run-1",
		RejectMarkers:  [][]byte{[]byte("Gagal Menyimpan")},
		NetworkRetries: 3,
		ReloginDelay:   time.Second,
	})
}

func loadIndex(t *testing.T, store checkpoint.Store, batch string) int {
	t.Helper()

	cp, err := store.Load(context.Background(), batch)
	require.NoError(t, err)

	return cp.Index
}

func TestScenarioExpiryThenRejection(t *testing.T) {
	sess := newScriptedSession(confirmed, expired, confirmed, rejected)
	store := newStore(t)
	batch := newBatch(t, 3)

	report := newTestDriver(sess, store, newPacer(&sleepLog{}, 0, 0)).Run(context.Background(), batch)

	assert.Equal(t, ReasonRejected, report.Reason)
	assert.Equal(t, 2, report.FinalIndex)
	assert.Equal(t, 2, loadIndex(t, store, batch.Name))
	assert.Equal(t, 1, report.Relogins)
	assert.Equal(t, 2, sess.logins)
	assert.Equal(t, []string{"0", "1", "1", "2"}, sess.submittedIndexes())
	assert.ErrorIs(t, report.Err, errors.ErrRejected)
	assert.Equal(t, "NIK tidak valid", report.Detail)
	assert.True(t, report.Halted())

	var detailed *errors.DetailedError
	require.ErrorAs(t, report.Err, &detailed)
	assert.Equal(t, "run-1", detailed.GetGUID())
}

func TestExpiryRecoveryIsBounded(t *testing.T) {
	sess := newScriptedSession(expired, expired, confirmed)
	store := newStore(t)

	report := newTestDriver(sess, store, newPacer(&sleepLog{}, 0, 0)).Run(context.Background(), newBatch(t, 1))

	assert.Equal(t, ReasonExpired, report.Reason)
	assert.Equal(t, 2, sess.logins)
	assert.Equal(t, 1, report.Relogins)
	assert.Equal(t, 2, report.Attempts)
	assert.Equal(t, 0, report.FinalIndex)
	assert.ErrorIs(t, report.Err, errors.ErrSessionExpired)
}

func TestReloginFailureHalts(t *testing.T) {
	sess := newScriptedSession(expired)
	sess.loginErrs = []error{nil, errors.ErrAuth}

	report := newTestDriver(sess, newStore(t), newPacer(&sleepLog{}, 0, 0)).Run(context.Background(), newBatch(t, 1))

	assert.Equal(t, ReasonExpired, report.Reason)
	assert.ErrorIs(t, report.Err, errors.ErrAuth)
	assert.Equal(t, 1, report.Attempts)
}

func TestIdempotentResume(t *testing.T) {
	store := newStore(t)
	batch := newBatch(t, 3)

	first := newScriptedSession(confirmed, confirmed, confirmed)
	report := newTestDriver(first, store, newPacer(&sleepLog{}, 0, 0)).Run(context.Background(), batch)
	require.Equal(t, ReasonCompleted, report.Reason)
	require.Equal(t, 3, report.FinalIndex)

	second := newScriptedSession()
	report = newTestDriver(second, store, newPacer(&sleepLog{}, 0, 0)).Run(context.Background(), batch)

	assert.Equal(t, ReasonCompleted, report.Reason)
	assert.Equal(t, 0, second.logins)
	assert.Empty(t, second.submittedIndexes())
	assert.Equal(t, 3, report.StartIndex)
	assert.False(t, report.Halted())
}

func TestCrashBeforeSaveResubmitsOnlyThatRecord(t *testing.T) {
	store := newStore(t)
	batch := newBatch(t, 4)

	first := newScriptedSession(confirmed, confirmed, confirmed, confirmed)
	report := newTestDriver(first, &crashStore{Store: store, failAt: 2}, newPacer(&sleepLog{}, 0, 0)).
		Run(context.Background(), batch)

	require.Equal(t, ReasonFatal, report.Reason)
	require.Equal(t, 1, loadIndex(t, store, batch.Name))
	assert.Equal(t, []string{"0", "1"}, first.submittedIndexes())

	second := newScriptedSession(confirmed, confirmed, confirmed)
	report = newTestDriver(second, store, newPacer(&sleepLog{}, 0, 0)).Run(context.Background(), batch)

	assert.Equal(t, ReasonCompleted, report.Reason)
	assert.Equal(t, []string{"1", "2", "3"}, second.submittedIndexes())
	assert.Equal(t, 4, loadIndex(t, store, batch.Name))
}

func TestNetworkRetriesExhausted(t *testing.T) {
	sleeps := &sleepLog{}
	sess := newScriptedSession(timeout, timeout, timeout, timeout, confirmed)

	report := newTestDriver(sess, newStore(t), newPacer(sleeps, 0, 0)).Run(context.Background(), newBatch(t, 2))

	assert.Equal(t, ReasonNetworkExhausted, report.Reason)
	assert.Equal(t, 4, report.Attempts)
	assert.Equal(t, 4, report.NetworkErrors)
	assert.Equal(t, 0, report.FinalIndex)
	assert.ErrorIs(t, report.Err, errors.ErrTransport)
	assert.Len(t, sleeps.delays, 3)
}

func TestNetworkErrorRecovers(t *testing.T) {
	gateway := step{status: http.StatusServiceUnavailable, body: "busy", state: session.Authenticated}
	sess := newScriptedSession(gateway, confirmed, confirmed)

	report := newTestDriver(sess, newStore(t), newPacer(&sleepLog{}, 0, 0)).Run(context.Background(), newBatch(t, 2))

	assert.Equal(t, ReasonCompleted, report.Reason)
	assert.Equal(t, 1, report.NetworkErrors)
	assert.Equal(t, []string{"0", "0", "1"}, sess.submittedIndexes())
}

func TestRejectMarkerInBody(t *testing.T) {
	marked := step{status: http.StatusOK, body: "<div>GAGAL MENYIMPAN data</div>", state: session.Authenticated}
	sess := newScriptedSession(marked)

	report := newTestDriver(sess, newStore(t), newPacer(&sleepLog{}, 0, 0)).Run(context.Background(), newBatch(t, 1))

	assert.Equal(t, ReasonRejected, report.Reason)
	assert.Equal(t, 1, report.Attempts)
}

func TestNewDriverLeavesCallerMarkersAlone(t *testing.T) {
	markers := [][]byte{[]byte("Gagal Menyimpan")}

	d := NewDriver(newScriptedSession(), newStore(t), newPacer(&sleepLog{}, 0, 0), DriverOptions{RejectMarkers: markers})

	assert.Equal(t, "Gagal Menyimpan", string(markers[0]))
	assert.Equal(t, "gagal menyimpan", string(d.opts.RejectMarkers[0]))
}

func TestLoginFailure(t *testing.T) {
	sess := newScriptedSession(confirmed)
	sess.loginErrs = []error{errors.NewDetailedError(errors.ErrAuth).WithDetail("Login gagal")}

	report := newTestDriver(sess, newStore(t), newPacer(&sleepLog{}, 0, 0)).Run(context.Background(), newBatch(t, 1))

	assert.Equal(t, ReasonAuthFailed, report.Reason)
	assert.Equal(t, "Login gagal", report.Detail)
	assert.Empty(t, sess.submittedIndexes())
}

func TestMappingFailureIsFatal(t *testing.T) {
	batch := newBatch(t, 2)
	batch.Source = source.FromRecords([]source.Record{{"nama": "a"}, {"nama": ""}})

	sess := newScriptedSession(confirmed, confirmed)
	store := newStore(t)

	report := newTestDriver(sess, store, newPacer(&sleepLog{}, 0, 0)).Run(context.Background(), batch)

	assert.Equal(t, ReasonFatal, report.Reason)
	assert.ErrorIs(t, report.Err, errors.ErrMissingField)
	assert.Equal(t, 1, loadIndex(t, store, batch.Name))
}

// flakyLookupBatch resolves its single lookup field through resolve.
func flakyLookupBatch(t *testing.T, resolve mapper.ResolverFunc) Batch {
	t.Helper()

	batch := newBatch(t, 1)

	fieldMapper, err := mapper.NewRuleMapper([]config.FieldRule{
		{Name: "no", Value: "{index}"},
		{Name: "kecamatan_id", Column: "nama", Lookup: "kecamatan"},
	}, map[string]mapper.Resolver{"kecamatan": resolve})
	require.NoError(t, err)

	batch.Mapper = fieldMapper

	return batch
}

func TestLookupTransportFailureIsRetried(t *testing.T) {
	calls := 0
	batch := flakyLookupBatch(t, func(context.Context, string, string) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("%w: connection reset", errors.ErrTransport)
		}

		return "7371020", nil
	})

	sess := newScriptedSession(confirmed)
	store := newStore(t)

	report := newTestDriver(sess, store, newPacer(&sleepLog{}, 0, 0)).Run(context.Background(), batch)

	assert.Equal(t, ReasonCompleted, report.Reason)
	assert.Equal(t, 1, report.NetworkErrors)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"0"}, sess.submittedIndexes())
	assert.Equal(t, 1, loadIndex(t, store, batch.Name))
}

func TestLookupTransportFailureExhaustsBudget(t *testing.T) {
	calls := 0
	batch := flakyLookupBatch(t, func(context.Context, string, string) (string, error) {
		calls++

		return "", fmt.Errorf("%w: connection reset", errors.ErrTransport)
	})

	sleeps := &sleepLog{}
	sess := newScriptedSession(confirmed)
	store := newStore(t)

	report := newTestDriver(sess, store, newPacer(sleeps, 0, 0)).Run(context.Background(), batch)

	assert.Equal(t, ReasonNetworkExhausted, report.Reason)
	assert.ErrorIs(t, report.Err, errors.ErrTransport)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, report.NetworkErrors)
	assert.Len(t, sleeps.delays, 3)
	assert.Empty(t, sess.submittedIndexes())
	assert.Equal(t, 0, loadIndex(t, store, batch.Name))
}

func TestStopBetweenRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pacer := governor.New(governor.Options{
		BurstSize:  1,
		BurstPause: time.Second,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()

			return ctx.Err()
		},
	})

	sess := newScriptedSession(confirmed, confirmed, confirmed)
	store := newStore(t)

	report := newTestDriver(sess, store, pacer).Run(ctx, newBatch(t, 3))

	assert.Equal(t, ReasonStopped, report.Reason)
	assert.Equal(t, 1, report.FinalIndex)
	assert.Equal(t, 1, loadIndex(t, store, "DATA 1.csv"))
	assert.Len(t, sess.submittedIndexes(), 1)
}

func TestBurstPauseAfterConfirmations(t *testing.T) {
	sleeps := &sleepLog{}
	sess := newScriptedSession(confirmed, confirmed, confirmed, confirmed)

	report := newTestDriver(sess, newStore(t), newPacer(sleeps, 2, 15*time.Second)).Run(context.Background(), newBatch(t, 4))

	require.Equal(t, ReasonCompleted, report.Reason)

	// The pause after the final record is skipped.
	assert.Equal(t, []time.Duration{15 * time.Second}, sleeps.delays)
}

func TestJudge(t *testing.T) {
	d := newTestDriver(newScriptedSession(), newStore(t), newPacer(&sleepLog{}, 0, 0))

	tests := []struct {
		name  string
		resp  *session.Response
		state session.State
		err   error
		want  Result
	}{
		{"created", &session.Response{StatusCode: http.StatusCreated}, session.Authenticated, nil, Confirmed},
		{"not found", &session.Response{StatusCode: http.StatusNotFound}, session.Authenticated, nil, Rejected},
		{"bad gateway", &session.Response{StatusCode: http.StatusBadGateway}, session.Authenticated, nil, NetworkError},
		{"throttled", &session.Response{StatusCode: http.StatusTooManyRequests}, session.Authenticated, nil, NetworkError},
		{"expired", &session.Response{StatusCode: http.StatusUnauthorized}, session.Expired, nil, Expired},
		{"unclassifiable", &session.Response{StatusCode: http.StatusOK}, session.Fatal, nil, Fatal},
		{"transport", nil, session.Fatal, errors.ErrTransport, NetworkError},
		{"no session", nil, session.Fatal, errors.ErrNoSession, Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newScriptedSession()
			if tt.resp != nil {
				sess.states[tt.resp] = tt.state
			}

			d.session = sess

			got, _ := d.judge(tt.resp, tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResultStrings(t *testing.T) {
	assert.Equal(t, "confirmed", Confirmed.String())
	assert.Equal(t, "network_error", NetworkError.String())
	assert.Equal(t, ReasonNetworkExhausted, haltFor(NetworkError))
	assert.Equal(t, ReasonFatal, haltFor(Fatal))
}
