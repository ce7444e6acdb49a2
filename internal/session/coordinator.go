package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/rvs-verify/internal/audit"
	"github.com/xela07ax/rvs-verify/internal/domain"
	"go.uber.org/zap"
)

const (
	// Имя окна в WINDOW_CLOSED исторически "eVerifyForm"
	windowName = "eVerifyForm"

	methodManual = "manual_check"
	methodQR     = "qr_scan"

	defaultCleanupTimeout = 5 * time.Second
)

var ErrClosed = errors.New("session: coordinator closed")

// LocalLookup — поиск ранее верифицированных субъектов. Не найдено: domain.ErrNotFound.
type LocalLookup interface {
	FindBySubject(ctx context.Context, s domain.Subject) (*domain.VerificationRecord, error)
	FindByReference(ctx context.Context, reference string) (*domain.VerificationRecord, error)
}

// Relay — локальный ретранслятор к внешнему API.
type Relay interface {
	LivenessURL() string
	CheckQR(ctx context.Context, value string) (*RelayResponse, error)
	QueryQR(ctx context.Context, value, livenessID string) (*RelayResponse, error)
	Query(ctx context.Context, q QueryFields, livenessID string) (*RelayResponse, error)
	StoreVerification(ctx context.Context, data json.RawMessage) error
	ClearLiveness(ctx context.Context) error
}

// QueryFields — тело POST /query без liveness ID.
type QueryFields struct {
	FirstName  string
	MiddleName string
	LastName   string
	Suffix     string
	BirthDate  string
}

// Coordinator ведет одну сессию верификации за раз. Каждый Start вытесняет
// предыдущую сессию; ее поздние результаты отбрасываются.
type Coordinator struct {
	operator string
	recorder audit.Recorder
	lookup   LocalLookup
	relay    Relay
	waiter   LivenessWaiter
	browser  Browser
	logger   *zap.Logger

	cleanupTimeout time.Duration
	events         chan Event

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
	state  State
	form   *Request
	closed bool
	wg     sync.WaitGroup
}

func NewCoordinator(
	operator string,
	recorder audit.Recorder,
	lookup LocalLookup,
	relay Relay,
	waiter LivenessWaiter,
	browser Browser,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		operator:       operator,
		recorder:       recorder,
		lookup:         lookup,
		relay:          relay,
		waiter:         waiter,
		browser:        browser,
		logger:         logger.With(zap.String("mod", "session")),
		cleanupTimeout: defaultCleanupTimeout,
		events:         make(chan Event, 32),
	}
}

// Events — прогресс сессий. Медленный читатель теряет события, а не блокирует сессию.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending — введенные оператором данные текущей сессии; после завершения сбрасываются.
func (c *Coordinator) Pending() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.form == nil {
		return Request{}, false
	}
	return *c.form, true
}

// Start запускает новую сессию в фоне. Итог придет в возвращенный канал,
// канал закрывается после итога. Вытесненная сессия итог не отдает.
func (c *Coordinator) Start(ctx context.Context, req Request) (<-chan Outcome, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.seq++
	seq := c.seq
	sessCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	form := req
	c.form = &form
	c.state = StateAwaitingLookup
	c.wg.Add(1)
	c.mu.Unlock()

	c.emit(Event{Seq: seq, State: StateAwaitingLookup})

	out := make(chan Outcome, 1)
	go c.run(sessCtx, seq, req, out)
	return out, nil
}

// ScanInitiated фиксирует запуск сканера QR.
func (c *Coordinator) ScanInitiated(ctx context.Context) error {
	return c.recorder.LogAction(ctx, c.operator, audit.ActionQRScanInitiated, nil)
}

// Close отменяет активную сессию, дожидается ее, очищает слот liveness
// и пишет WINDOW_CLOSED.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()

	if err := c.relay.ClearLiveness(ctx); err != nil {
		c.logger.Warn("clear liveness slot on close", zap.Error(err))
	}
	return c.recorder.LogAction(ctx, c.operator, audit.ActionWindowClosed, map[string]string{"window": windowName})
}

func (c *Coordinator) run(ctx context.Context, seq uint64, req Request, out chan<- Outcome) {
	defer c.wg.Done()
	defer close(out)

	traceID := uuid.NewString()
	ctx = WithTrace(ctx, traceID)
	log := c.logger.With(zap.Uint64("seq", seq), zap.String("trace_id", traceID), zap.String("mode", string(req.Mode)))
	log.Info("verification session started")

	o := c.execute(ctx, seq, req)
	o.Seq = seq

	if !c.isCurrent(seq) {
		log.Info("superseded session result discarded", zap.String("result", string(o.Result)))
		return
	}

	// Очистка на любом терминальном пути
	cleanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cleanupTimeout)
	if err := c.relay.ClearLiveness(cleanCtx); err != nil {
		log.Warn("clear liveness slot", zap.Error(err))
	}
	cancel()

	c.finish(seq, terminalState(o.Result))
	log.Info("verification session finished",
		zap.String("result", string(o.Result)),
		zap.String("category", string(o.Category)),
		zap.Error(o.Err),
	)
	out <- o
}

func (c *Coordinator) execute(ctx context.Context, seq uint64, req Request) Outcome {
	switch req.Mode {
	case domain.ModeManual:
		return c.runManual(ctx, seq, req.Subject)
	case domain.ModeQR:
		return c.runQR(ctx, seq, req.QRPayload)
	default:
		return failed(CategoryInvalidInput, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidInput, req.Mode))
	}
}

func (c *Coordinator) runManual(ctx context.Context, seq uint64, raw domain.Subject) Outcome {
	s := raw.Normalize()
	if err := validateSubject(s); err != nil {
		if logErr := c.log(ctx, audit.ActionInvalidInput, map[string]string{
			"method": methodManual,
			"error":  err.Error(),
		}); logErr != nil {
			return auditFailed(logErr)
		}
		return failed(CategoryInvalidInput, err)
	}
	q := fieldsOf(s)

	if err := c.log(ctx, audit.ActionVerifyManualAttempt, map[string]string{
		"first name":  q.FirstName,
		"middle name": q.MiddleName,
		"last name":   q.LastName,
		"suffix":      q.Suffix,
		"birth date":  q.BirthDate,
	}); err != nil {
		return auditFailed(err)
	}

	rec, err := c.lookup.FindBySubject(ctx, s)
	if o, done := c.checkLocal(ctx, methodManual, rec, err); done {
		return o
	}

	id, o, ok := c.awaitLiveness(ctx, seq)
	if !ok {
		return o
	}

	resp, err := c.relay.Query(ctx, q, id)
	return c.complete(ctx, resp, err)
}

func (c *Coordinator) runQR(ctx context.Context, seq uint64, payload string) Outcome {
	if err := c.log(ctx, audit.ActionVerifyQRAttempt, map[string]string{"qr_data": payload}); err != nil {
		return auditFailed(err)
	}

	ref, err := ParseQR(payload)
	if err != nil {
		if aerr := c.log(ctx, audit.ActionInvalidQR, map[string]string{"error": err.Error()}); aerr != nil {
			return auditFailed(aerr)
		}
		return failed(CategoryInvalidInput, err)
	}

	rec, err := c.lookup.FindByReference(ctx, ref)
	if o, done := c.checkLocal(ctx, methodQR, rec, err); done {
		return o
	}

	if o, ok := c.checkQR(ctx, payload); !ok {
		return o
	}

	id, o, ok := c.awaitLiveness(ctx, seq)
	if !ok {
		return o
	}

	resp, err := c.relay.QueryQR(ctx, payload, id)
	return c.complete(ctx, resp, err)
}

// checkLocal разбирает итог локального поиска. done=true: сессия окончена.
func (c *Coordinator) checkLocal(ctx context.Context, method string, rec *domain.VerificationRecord, err error) (Outcome, bool) {
	switch {
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		if ctx.Err() != nil {
			return cancelled(ctx), true
		}
		if aerr := c.log(ctx, audit.ActionDBError, map[string]string{"method": method, "error": err.Error()}); aerr != nil {
			return auditFailed(aerr), true
		}
		return failed(CategoryDatabase, fmt.Errorf("local lookup: %w", err)), true

	case err == nil && rec != nil:
		name := rec.DisplayName()
		if !rec.HasFace() {
			if aerr := c.log(ctx, audit.ActionVerifyFailed, map[string]string{"result": "Client " + name + " has no face image"}); aerr != nil {
				return auditFailed(aerr), true
			}
			o := failed(CategoryDatabase, fmt.Errorf("%s: %w", name, domain.ErrMissingFaceImage))
			o.DisplayName = name
			o.Record = rec
			return o, true
		}
		if aerr := c.log(ctx, audit.ActionVerifySuccess, map[string]string{"result": name + " already verified. Show Face Key"}); aerr != nil {
			return auditFailed(aerr), true
		}
		return Outcome{
			Result:      domain.ResultVerified,
			DisplayName: name,
			Record:      rec,
			Message:     "This client has already been verified. Showing Face Key.",
		}, true
	}

	if aerr := c.log(ctx, audit.ActionNotYetVerified, map[string]string{"action": "proceed to face liveness check"}); aerr != nil {
		return auditFailed(aerr), true
	}
	return Outcome{}, false
}

// checkQR сверяет код с внешним API до liveness-проверки. ok=false: сессия окончена.
func (c *Coordinator) checkQR(ctx context.Context, payload string) (Outcome, bool) {
	resp, err := c.relay.CheckQR(ctx, payload)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx), false
		}
		if aerr := c.log(ctx, audit.ActionQRValidationError, map[string]string{"error": err.Error()}); aerr != nil {
			return auditFailed(aerr), false
		}
		return failed(CategoryNotVerified, err), false
	}

	if resp.Status != http.StatusOK {
		if aerr := c.log(ctx, audit.ActionInvalidQR, map[string]string{"error": strconv.Itoa(resp.Status)}); aerr != nil {
			return auditFailed(aerr), false
		}
		return statusFailed(resp.Status), false
	}

	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || !hasData(body.Data) {
		if aerr := c.log(ctx, audit.ActionQRValidationFail, map[string]string{"error": "no data found"}); aerr != nil {
			return auditFailed(aerr), false
		}
		return Outcome{
			Result:   domain.ResultNotFound,
			Category: CategoryNotVerified,
			Message:  "No data found for this QR code.",
		}, false
	}

	if aerr := c.log(ctx, audit.ActionQRValidationOK, map[string]json.RawMessage{"result": body.Data}); aerr != nil {
		return auditFailed(aerr), false
	}
	return Outcome{}, true
}

// awaitLiveness открывает браузер и ждет ID liveness-сессии. ok=false: сессия окончена.
func (c *Coordinator) awaitLiveness(ctx context.Context, seq uint64) (string, Outcome, bool) {
	c.setState(seq, StateAwaitingLiveness)

	// В слоте мог остаться ID от прошлой попытки
	if err := c.relay.ClearLiveness(ctx); err != nil {
		c.logger.Warn("clear stale liveness id", zap.Error(err))
	}

	if err := c.log(ctx, audit.ActionLivenessInitiated, nil); err != nil {
		return "", auditFailed(err), false
	}

	url := c.relay.LivenessURL()
	if err := c.browser.Open(url); err != nil {
		c.logger.Warn("open liveness page", zap.String("url", url), zap.Error(err))
	}

	id, err := c.waiter.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", cancelled(ctx), false
		}
		if aerr := c.log(ctx, audit.ActionLivenessTimeout, map[string]string{"error": err.Error()}); aerr != nil {
			return "", auditFailed(aerr), false
		}
		return "", failed(CategoryNotVerified, err), false
	}

	if err := c.log(ctx, audit.ActionLivenessSuccess, map[string]string{"result": id}); err != nil {
		return "", auditFailed(err), false
	}
	c.setState(seq, StateAwaitingFinalResult)
	return id, Outcome{}, true
}

type personResult struct {
	Verified      *bool   `json:"verified"`
	FirstName     string  `json:"first_name"`
	MiddleName    *string `json:"middle_name"`
	LastName      string  `json:"last_name"`
	Suffix        *string `json:"suffix"`
	Gender        string  `json:"gender"`
	MaritalStatus string  `json:"marital_status"`
}

// complete разбирает окончательный ответ внешнего API и сохраняет верификацию.
func (c *Coordinator) complete(ctx context.Context, resp *RelayResponse, err error) Outcome {
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx)
		}
		if aerr := c.log(ctx, audit.ActionVerifyError, map[string]string{"error": err.Error()}); aerr != nil {
			return auditFailed(aerr)
		}
		return failed(CategoryNotVerified, err)
	}

	if resp.Status != http.StatusOK {
		if aerr := c.log(ctx, audit.ActionVerifyFailed, map[string]string{"result": "Invalid response from server."}); aerr != nil {
			return auditFailed(aerr)
		}
		return statusFailed(resp.Status)
	}

	var body struct {
		Data *personResult `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.Data == nil || body.Data.Verified == nil || !*body.Data.Verified {
		if aerr := c.log(ctx, audit.ActionVerifyFailed, map[string]string{"result": "no data found"}); aerr != nil {
			return auditFailed(aerr)
		}
		return Outcome{
			Result:   domain.ResultFailed,
			Category: CategoryNotVerified,
			Message:  "Client is not verified.",
		}
	}

	p := body.Data
	name := domain.ComposeName(domain.NameParts{
		Gender:        p.Gender,
		MaritalStatus: p.MaritalStatus,
		FirstName:     p.FirstName,
		MiddleName:    deref(p.MiddleName),
		LastName:      p.LastName,
		Suffix:        deref(p.Suffix),
	})

	if err := c.log(ctx, audit.ActionVerifySuccess, map[string]string{"result": name + " has a valid National ID"}); err != nil {
		return auditFailed(err)
	}

	// Верификация уже состоялась: ошибка сохранения только в лог
	if err := c.relay.StoreVerification(ctx, json.RawMessage(resp.Body)); err != nil {
		c.logger.Error("store verification", zap.String("name", name), zap.Error(err))
	}

	return Outcome{
		Result:      domain.ResultVerified,
		DisplayName: name,
		Message:     name + " has a valid National ID.",
	}
}

func (c *Coordinator) log(ctx context.Context, action string, details any) error {
	return c.recorder.LogAction(ctx, c.operator, action, details)
}

func (c *Coordinator) isCurrent(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq == seq
}

func (c *Coordinator) setState(seq uint64, st State) {
	c.mu.Lock()
	if c.seq != seq {
		c.mu.Unlock()
		return
	}
	c.state = st
	c.mu.Unlock()
	c.emit(Event{Seq: seq, State: st})
}

// finish переводит сессию в терминальное состояние и сразу обратно в Idle.
func (c *Coordinator) finish(seq uint64, terminal State) {
	c.setState(seq, terminal)

	c.mu.Lock()
	if c.seq != seq {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.form = nil
	c.mu.Unlock()
	c.emit(Event{Seq: seq, State: StateIdle})
}

func (c *Coordinator) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.logger.Debug("session event dropped", zap.Uint64("seq", e.Seq), zap.Stringer("state", e.State))
	}
}

func terminalState(r domain.Result) State {
	switch r {
	case domain.ResultVerified:
		return StateVerified
	case domain.ResultNotFound:
		return StateNotFound
	default:
		return StateFailed
	}
}

func failed(cat Category, err error) Outcome {
	return Outcome{Result: domain.ResultFailed, Category: cat, Err: err, Message: messageFor(cat)}
}

func cancelled(ctx context.Context) Outcome {
	return Outcome{Result: domain.ResultFailed, Err: ctx.Err(), Message: "Verification cancelled."}
}

// auditFailed — шаг прерван, потому что не удалось записать аудит.
func auditFailed(err error) Outcome {
	if errors.Is(err, audit.ErrIdentityRejected) {
		return failed(CategoryAuth, err)
	}
	// ErrStorageFailed и ошибки кодирования деталей
	return failed(CategoryDatabase, err)
}

func statusFailed(status int) Outcome {
	if status == http.StatusUnauthorized {
		return failed(CategoryAuth, ErrRelayUnauthorized)
	}
	return failed(CategoryNotVerified, fmt.Errorf("relay: unexpected status %d", status))
}

func messageFor(cat Category) string {
	switch cat {
	case CategoryAuth:
		return "Authentication failed. Please log in again."
	case CategoryDatabase:
		return "A database error occurred. Please try again."
	case CategoryInvalidInput:
		return "Invalid input. Please check the entered data."
	case CategoryNotVerified:
		return "Client could not be verified."
	default:
		return ""
	}
}

func validateSubject(s domain.Subject) error {
	if s.FirstName == "" || s.LastName == "" || s.BirthDate == "" {
		return fmt.Errorf("%w: first name, last name and birth date are required", domain.ErrInvalidInput)
	}
	if _, err := time.Parse(time.DateOnly, s.BirthDate); err != nil {
		return fmt.Errorf("%w: birth date must be YYYY-MM-DD", domain.ErrInvalidInput)
	}
	return nil
}

func fieldsOf(s domain.Subject) QueryFields {
	return QueryFields{
		FirstName:  s.FirstName,
		MiddleName: deref(s.MiddleName),
		LastName:   s.LastName,
		Suffix:     deref(s.Suffix),
		BirthDate:  s.BirthDate,
	}
}

// hasData — непустой ответ: не null, не {} и не [].
func hasData(raw json.RawMessage) bool {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return false
	}
	switch d := v.(type) {
	case nil:
		return false
	case map[string]any:
		return len(d) > 0
	case []any:
		return len(d) > 0
	case string:
		return d != ""
	case bool:
		return d
	default:
		return true
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
