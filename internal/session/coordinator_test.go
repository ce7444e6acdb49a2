package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/rvs-verify/internal/audit"
	"github.com/xela07ax/rvs-verify/internal/domain"
	"go.uber.org/zap"
)

const operator = "clerk01"

type loggedAction struct {
	actor   string
	action  string
	details any
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []loggedAction
	failOn  map[string]error
}

func (r *fakeRecorder) LogAction(_ context.Context, actor, action string, details any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failOn[action]; ok {
		return err
	}
	r.entries = append(r.entries, loggedAction{actor: actor, action: action, details: details})
	return nil
}

func (r *fakeRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.action)
	}
	return out
}

func (r *fakeRecorder) last() loggedAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

type fakeLookup struct {
	mu         sync.Mutex
	bySubject  func(domain.Subject) (*domain.VerificationRecord, error)
	byRef      func(string) (*domain.VerificationRecord, error)
	calls      int
	lastRef    string
	lastSubject domain.Subject
}

func (l *fakeLookup) FindBySubject(_ context.Context, s domain.Subject) (*domain.VerificationRecord, error) {
	l.mu.Lock()
	l.calls++
	l.lastSubject = s
	l.mu.Unlock()
	if l.bySubject == nil {
		return nil, domain.ErrNotFound
	}
	return l.bySubject(s)
}

func (l *fakeLookup) FindByReference(_ context.Context, ref string) (*domain.VerificationRecord, error) {
	l.mu.Lock()
	l.calls++
	l.lastRef = ref
	l.mu.Unlock()
	if l.byRef == nil {
		return nil, domain.ErrNotFound
	}
	return l.byRef(ref)
}

type fakeRelay struct {
	mu         sync.Mutex
	check      *RelayResponse
	checkErr   error
	query      *RelayResponse
	queryErr   error
	clears     int
	stored     []json.RawMessage
	queried    QueryFields
	qrValue    string
	livenessID string
}

func (r *fakeRelay) LivenessURL() string { return "http://relay.test/liveness" }

func (r *fakeRelay) CheckQR(_ context.Context, _ string) (*RelayResponse, error) {
	return r.check, r.checkErr
}

func (r *fakeRelay) QueryQR(_ context.Context, value, id string) (*RelayResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.qrValue, r.livenessID = value, id
	return r.query, r.queryErr
}

func (r *fakeRelay) Query(_ context.Context, q QueryFields, id string) (*RelayResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queried, r.livenessID = q, id
	return r.query, r.queryErr
}

func (r *fakeRelay) StoreVerification(_ context.Context, data json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored = append(r.stored, data)
	return nil
}

func (r *fakeRelay) ClearLiveness(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	return nil
}

func (r *fakeRelay) clearCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clears
}

// fakeWaiter либо сразу отдает id/err, либо (block) ждет отмены контекста.
type fakeWaiter struct {
	id      string
	err     error
	block   bool
	entered chan struct{}
	calls   int
}

func (w *fakeWaiter) Wait(ctx context.Context) (string, error) {
	w.calls++
	if w.entered != nil {
		close(w.entered)
		w.entered = nil
	}
	if w.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return w.id, w.err
}

type fakeBrowser struct {
	urls []string
}

func (b *fakeBrowser) Open(url string) error {
	b.urls = append(b.urls, url)
	return nil
}

type fixture struct {
	rec     *fakeRecorder
	lookup  *fakeLookup
	relay   *fakeRelay
	waiter  *fakeWaiter
	browser *fakeBrowser
	c       *Coordinator
}

func newFixture() *fixture {
	f := &fixture{
		rec:     &fakeRecorder{},
		lookup:  &fakeLookup{},
		relay:   &fakeRelay{},
		waiter:  &fakeWaiter{id: "liveness-1"},
		browser: &fakeBrowser{},
	}
	f.c = NewCoordinator(operator, f.rec, f.lookup, f.relay, f.waiter, f.browser, zap.NewNop())
	return f
}

func await(t *testing.T, out <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o, ok := <-out:
		require.True(t, ok, "outcome channel closed without result")
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return Outcome{}
	}
}

func strPtr(s string) *string { return &s }

func manualRequest() Request {
	return Request{
		Mode: domain.ModeManual,
		Subject: domain.Subject{
			FirstName:  "juan",
			MiddleName: strPtr("N/A"),
			LastName:   "dela cruz",
			BirthDate:  "1990-01-15",
		},
	}
}

func verifiedRecord(face *string) *domain.VerificationRecord {
	return &domain.VerificationRecord{
		FirstName: "JUAN",
		LastName:  "DELA CRUZ",
		Suffix:    strPtr("JR"),
		Gender:    "Male",
		FaceKey:   face,
	}
}

func okResponse(body string) *RelayResponse {
	return &RelayResponse{Status: http.StatusOK, Body: []byte(body)}
}

func TestCoordinator_LocalMatchShortCircuits(t *testing.T) {
	f := newFixture()
	f.lookup.bySubject = func(s domain.Subject) (*domain.VerificationRecord, error) {
		return verifiedRecord(strPtr("face.jpg")), nil
	}

	out, err := f.c.Start(context.Background(), manualRequest())
	require.NoError(t, err)
	o := await(t, out)

	assert.Equal(t, domain.ResultVerified, o.Result)
	assert.Equal(t, "JUAN DELA CRUZ JR", o.DisplayName)
	require.NotNil(t, o.Record)
	assert.NoError(t, o.Err)

	assert.Equal(t, []string{audit.ActionVerifyManualAttempt, audit.ActionVerifySuccess}, f.rec.actions())
	assert.Equal(t, map[string]string{"result": "JUAN DELA CRUZ JR already verified. Show Face Key"}, f.rec.last().details)
	assert.Equal(t, operator, f.rec.last().actor)

	assert.Zero(t, f.waiter.calls)
	assert.Equal(t, 1, f.relay.clearCount(), "cleanup clears the slot")
	assert.Equal(t, StateIdle, f.c.State())
	_, pending := f.c.Pending()
	assert.False(t, pending)

	// Нормализация: N/A в отчестве означает отсутствующее поле
	assert.Equal(t, "JUAN", f.lookup.lastSubject.FirstName)
	assert.Nil(t, f.lookup.lastSubject.MiddleName)
}

func TestCoordinator_LocalMatchWithoutFace(t *testing.T) {
	f := newFixture()
	f.lookup.bySubject = func(domain.Subject) (*domain.VerificationRecord, error) {
		return verifiedRecord(nil), nil
	}

	out, err := f.c.Start(context.Background(), manualRequest())
	require.NoError(t, err)
	o := await(t, out)

	assert.Equal(t, domain.ResultFailed, o.Result)
	assert.Equal(t, CategoryDatabase, o.Category)
	assert.ErrorIs(t, o.Err, domain.ErrMissingFaceImage)
	assert.Equal(t, []string{audit.ActionVerifyManualAttempt, audit.ActionVerifyFailed}, f.rec.actions())
	assert.Zero(t, f.waiter.calls)
}

func TestCoordinator_ManualFullFlow(t *testing.T) {
	f := newFixture()
	f.relay.query = okResponse(`{"data":{"verified":true,"first_name":"MARIA","middle_name":"SANTOS","last_name":"REYES","gender":"Female","marital_status":"Married"}}`)

	out, err := f.c.Start(context.Background(), manualRequest())
	require.NoError(t, err)
	o := await(t, out)

	assert.Equal(t, domain.ResultVerified, o.Result)
	assert.Equal(t, "MARIA SANTOS", o.DisplayName)

	assert.Equal(t, []string{
		audit.ActionVerifyManualAttempt,
		audit.ActionNotYetVerified,
		audit.ActionLivenessInitiated,
		audit.ActionLivenessSuccess,
		audit.ActionVerifySuccess,
	}, f.rec.actions())
	assert.Equal(t, map[string]string{"result": "MARIA SANTOS has a valid National ID"}, f.rec.last().details)

	assert.Equal(t, "liveness-1", f.relay.livenessID)
	assert.Equal(t, QueryFields{FirstName: "JUAN", LastName: "DELA CRUZ", BirthDate: "1990-01-15"}, f.relay.queried)
	assert.Equal(t, []string{"http://relay.test/liveness"}, f.browser.urls)
	require.Len(t, f.relay.stored, 1)
	assert.JSONEq(t, string(f.relay.query.Body), string(f.relay.stored[0]))
	// Стейл-ID перед ожиданием и очистка в конце
	assert.Equal(t, 2, f.relay.clearCount())
}

func TestCoordinator_FinalResultFailures(t *testing.T) {
	tests := []struct {
		name     string
		resp     *RelayResponse
		respErr  error
		category Category
		action   string
		details  map[string]string
	}{
		{
			name:     "not verified",
			resp:     okResponse(`{"data":{"verified":false}}`),
			category: CategoryNotVerified,
			action:   audit.ActionVerifyFailed,
			details:  map[string]string{"result": "no data found"},
		},
		{
			name:     "malformed",
			resp:     okResponse(`not json`),
			category: CategoryNotVerified,
			action:   audit.ActionVerifyFailed,
			details:  map[string]string{"result": "no data found"},
		},
		{
			name:     "unauthorized",
			resp:     &RelayResponse{Status: http.StatusUnauthorized, Body: []byte(`{"error":"Authentication failed."}`)},
			category: CategoryAuth,
			action:   audit.ActionVerifyFailed,
			details:  map[string]string{"result": "Invalid response from server."},
		},
		{
			name:     "server error",
			resp:     &RelayResponse{Status: http.StatusInternalServerError},
			category: CategoryNotVerified,
			action:   audit.ActionVerifyFailed,
			details:  map[string]string{"result": "Invalid response from server."},
		},
		{
			name:     "transport error",
			respErr:  errors.New("connection refused"),
			category: CategoryNotVerified,
			action:   audit.ActionVerifyError,
			details:  map[string]string{"error": "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.relay.query, f.relay.queryErr = tt.resp, tt.respErr

			out, err := f.c.Start(context.Background(), manualRequest())
			require.NoError(t, err)
			o := await(t, out)

			assert.Equal(t, domain.ResultFailed, o.Result)
			assert.Equal(t, tt.category, o.Category)
			assert.Equal(t, tt.action, f.rec.last().action)
			assert.Equal(t, tt.details, f.rec.last().details)
			assert.Empty(t, f.relay.stored)
			assert.Equal(t, 2, f.relay.clearCount())
		})
	}
}

func TestCoordinator_LookupDatabaseError(t *testing.T) {
	f := newFixture()
	f.lookup.bySubject = func(domain.Subject) (*domain.VerificationRecord, error) {
		return nil, errors.New("connection refused")
	}

	out, err := f.c.Start(context.Background(), manualRequest())
	require.NoError(t, err)
	o := await(t, out)

	assert.Equal(t, domain.ResultFailed, o.Result)
	assert.Equal(t, CategoryDatabase, o.Category)
	assert.Equal(t, audit.ActionDBError, f.rec.last().action)
	assert.Equal(t, map[string]string{"method": "manual_check", "error": "connection refused"}, f.rec.last().details)
	assert.Zero(t, f.waiter.calls)
}

func TestCoordinator_AuditFailureAbortsStep(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category Category
		target   error
	}{
		{"identity rejected", &audit.IdentityError{Actor: operator}, CategoryAuth, audit.ErrIdentityRejected},
		{"storage failed", &audit.StorageError{Attempts: 3, Err: errors.New("db down")}, CategoryDatabase, audit.ErrStorageFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.rec.failOn = map[string]error{audit.ActionVerifyManualAttempt: tt.err}

			out, err := f.c.Start(context.Background(), manualRequest())
			require.NoError(t, err)
			o := await(t, out)

			assert.Equal(t, domain.ResultFailed, o.Result)
			assert.Equal(t, tt.category, o.Category)
			assert.ErrorIs(t, o.Err, tt.target)
			assert.Zero(t, f.lookup.calls, "no lookup after failed audit")
			assert.Equal(t, 1, f.relay.clearCount())
		})
	}
}

func TestCoordinator_AuditFailureMidFlow(t *testing.T) {
	f := newFixture()
	f.rec.failOn = map[string]error{audit.ActionLivenessSuccess: &audit.StorageError{Attempts: 3, Err: errors.New("db down")}}

	out, err := f.c.Start(context.Background(), manualRequest())
	require.NoError(t, err)
	o := await(t, out)

	assert.ErrorIs(t, o.Err, audit.ErrStorageFailed)
	assert.Equal(t, QueryFields{}, f.relay.queried, "final query not sent")
}

func TestCoordinator_InvalidManualInput(t *testing.T) {
	f := newFixture()
	req := manualRequest()
	req.Subject.BirthDate = "15/01/1990"

	out, err := f.c.Start(context.Background(), req)
	require.NoError(t, err)
	o := await(t, out)

	assert.Equal(t, CategoryInvalidInput, o.Category)
	assert.ErrorIs(t, o.Err, domain.ErrInvalidInput)
	assert.Equal(t, []string{audit.ActionInvalidInput}, f.rec.actions())
	assert.Equal(t, map[string]string{
		"method": "manual_check",
		"error":  "invalid input: birth date must be YYYY-MM-DD",
	}, f.rec.last().details)
	assert.Zero(t, f.lookup.calls)
}

func TestCoordinator_InvalidManualInput_AuditFailure(t *testing.T) {
	f := newFixture()
	f.rec.failOn = map[string]error{audit.ActionInvalidInput: &audit.IdentityError{Actor: "ghost"}}
	req := manualRequest()
	req.Subject.FirstName = " "

	out, err := f.c.Start(context.Background(), req)
	require.NoError(t, err)
	o := await(t, out)

	assert.Equal(t, domain.ResultFailed, o.Result)
	assert.Equal(t, CategoryAuth, o.Category)
	assert.ErrorIs(t, o.Err, audit.ErrIdentityRejected)
	assert.Empty(t, f.rec.actions())
}

func TestCoordinator_QRInvalidPayload(t *testing.T) {
	f := newFixture()

	out, err := f.c.Start(context.Background(), Request{Mode: domain.ModeQR, QRPayload: `{"reference_code":`})
	require.NoError(t, err)
	o := await(t, out)

	assert.Equal(t, CategoryInvalidInput, o.Category)
	assert.ErrorIs(t, o.Err, domain.ErrInvalidQR)
	assert.Equal(t, []string{audit.ActionVerifyQRAttempt, audit.ActionInvalidQR}, f.rec.actions())
	assert.Zero(t, f.lookup.calls)
}

func TestCoordinator_QRNoData(t *testing.T) {
	f := newFixture()
	f.relay.check = okResponse(`{"data":{}}`)

	out, err := f.c.Start(context.Background(), Request{Mode: domain.ModeQR, QRPayload: "1234-5678"})
	require.NoError(t, err)
	o := await(t, out)

	assert.Equal(t, domain.ResultNotFound, o.Result)
	assert.Equal(t, "12345678", f.lookup.lastRef)
	assert.Equal(t, []string{
		audit.ActionVerifyQRAttempt,
		audit.ActionNotYetVerified,
		audit.ActionQRValidationFail,
	}, f.rec.actions())
	assert.Zero(t, f.waiter.calls)
}

func TestCoordinator_QRCheckRejected(t *testing.T) {
	f := newFixture()
	f.relay.check = &RelayResponse{Status: http.StatusBadRequest}

	out, err := f.c.Start(context.Background(), Request{Mode: domain.ModeQR, QRPayload: "1234-5678"})
	require.NoError(t, err)
	o := await(t, out)

	assert.Equal(t, domain.ResultFailed, o.Result)
	assert.Equal(t, audit.ActionInvalidQR, f.rec.last().action)
	assert.Equal(t, map[string]string{"error": "400"}, f.rec.last().details)
}

func TestCoordinator_QRFullFlow(t *testing.T) {
	f := newFixture()
	payload := `{"reference_code":"1234-5678-9012-3456"}`
	f.relay.check = okResponse(`{"data":{"reference":"1234567890123456"}}`)
	f.relay.query = okResponse(`{"data":{"verified":true,"first_name":"JOSE","last_name":"RIZAL","suffix":"III","gender":"Male"}}`)

	out, err := f.c.Start(context.Background(), Request{Mode: domain.ModeQR, QRPayload: payload})
	require.NoError(t, err)
	o := await(t, out)

	assert.Equal(t, domain.ResultVerified, o.Result)
	assert.Equal(t, "JOSE RIZAL III", o.DisplayName)
	assert.Equal(t, "1234567890123456", f.lookup.lastRef)
	assert.Equal(t, payload, f.relay.qrValue)
	assert.Equal(t, "liveness-1", f.relay.livenessID)
	assert.Equal(t, []string{
		audit.ActionVerifyQRAttempt,
		audit.ActionNotYetVerified,
		audit.ActionQRValidationOK,
		audit.ActionLivenessInitiated,
		audit.ActionLivenessSuccess,
		audit.ActionVerifySuccess,
	}, f.rec.actions())
	assert.Len(t, f.relay.stored, 1)
}

func TestCoordinator_LivenessTimeout(t *testing.T) {
	f := newFixture()
	f.waiter.id, f.waiter.err = "", ErrLivenessTimeout

	out, err := f.c.Start(context.Background(), manualRequest())
	require.NoError(t, err)
	o := await(t, out)

	assert.Equal(t, domain.ResultFailed, o.Result)
	assert.ErrorIs(t, o.Err, ErrLivenessTimeout)
	assert.Equal(t, audit.ActionLivenessTimeout, f.rec.last().action)
}

func TestCoordinator_EventsOrder(t *testing.T) {
	f := newFixture()
	f.relay.query = okResponse(`{"data":{"verified":true,"first_name":"JUAN","last_name":"DELA CRUZ","gender":"Male"}}`)

	out, err := f.c.Start(context.Background(), manualRequest())
	require.NoError(t, err)
	o := await(t, out)

	var states []State
	for len(f.c.Events()) > 0 {
		e := <-f.c.Events()
		assert.Equal(t, o.Seq, e.Seq)
		states = append(states, e.State)
	}
	assert.Equal(t, []State{
		StateAwaitingLookup,
		StateAwaitingLiveness,
		StateAwaitingFinalResult,
		StateVerified,
		StateIdle,
	}, states)
}

func TestCoordinator_SupersededSessionDiscarded(t *testing.T) {
	f := newFixture()
	entered := make(chan struct{})
	f.waiter.block = true
	f.waiter.entered = entered
	f.relay.check = okResponse(`{"data":{"reference":"1"}}`)
	f.lookup.bySubject = func(domain.Subject) (*domain.VerificationRecord, error) {
		return verifiedRecord(strPtr("face.jpg")), nil
	}

	first, err := f.c.Start(context.Background(), Request{Mode: domain.ModeQR, QRPayload: "1234"})
	require.NoError(t, err)
	<-entered

	second, err := f.c.Start(context.Background(), manualRequest())
	require.NoError(t, err)

	o := await(t, second)
	assert.Equal(t, domain.ResultVerified, o.Result)
	assert.Equal(t, uint64(2), o.Seq)

	select {
	case _, ok := <-first:
		assert.False(t, ok, "superseded session must not deliver an outcome")
	case <-time.After(2 * time.Second):
		t.Fatal("superseded session did not stop")
	}
}

func TestCoordinator_CloseCancelsSession(t *testing.T) {
	f := newFixture()
	entered := make(chan struct{})
	f.waiter.block = true
	f.waiter.entered = entered

	out, err := f.c.Start(context.Background(), manualRequest())
	require.NoError(t, err)
	<-entered

	require.NoError(t, f.c.Close(context.Background()))

	o := await(t, out)
	assert.ErrorIs(t, o.Err, context.Canceled)
	assert.Equal(t, audit.ActionWindowClosed, f.rec.last().action)
	assert.Equal(t, map[string]string{"window": "eVerifyForm"}, f.rec.last().details)
	assert.GreaterOrEqual(t, f.relay.clearCount(), 2)

	_, err = f.c.Start(context.Background(), manualRequest())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCoordinator_ScanInitiated(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.c.ScanInitiated(context.Background()))
	assert.Equal(t, []string{audit.ActionQRScanInitiated}, f.rec.actions())
}
