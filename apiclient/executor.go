// Package apiclient performs authenticated requests against the bookshelf API
// and exposes their loading/error state to the UI.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/bookshelf/identity"
	"github.com/google/uuid"
)

// State is the observable lifecycle of the executor's requests.
type State struct {
	Loading bool
	Error   string
}

// RequestOptions configures one request. A nil *RequestOptions means a bodiless GET.
type RequestOptions struct {
	Method  string
	Headers map[string]string
	Body    any
}

// Option configures an Executor.
type Option func(*Executor)

// WithMetrics records request outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithObserver registers fn to receive every state transition.
// fn runs on the calling goroutine with the executor's lock released.
func WithObserver(fn func(State)) Option {
	return func(e *Executor) { e.observers = append(e.observers, fn) }
}

// Executor runs one authenticated request per Execute call.
//
// Loading and Error are shared by every call on the same Executor and are
// last-write-wins: with overlapping calls the state reflects whichever call
// wrote last. Pending counts calls that have not settled yet.
type Executor struct {
	provider  identity.Provider
	transport Transport
	metrics   *Metrics
	observers []func(State)

	mu      sync.Mutex
	state   State
	pending int
}

// NewExecutor builds an executor over an identity provider and a transport.
func NewExecutor(provider identity.Provider, transport Transport, opts ...Option) *Executor {
	e := &Executor{
		provider:  provider,
		transport: transport,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns a snapshot of the lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Pending returns the number of calls currently outstanding.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// Execute performs one authenticated request to target and returns the decoded
// JSON body. Failures are returned and mirrored into State().Error; Loading is
// false again by the time Execute returns.
func (e *Executor) Execute(ctx context.Context, target string, opts *RequestOptions) (result any, err error) {
	start := time.Now()
	e.begin()
	defer func() {
		e.finish(err)
		e.record(start, err)
	}()

	requestID := uuid.NewString()
	logger := slog.With(slog.String("request_id", requestID), slog.String("target", target))

	token, err := e.acquireToken(ctx)
	if err != nil {
		logger.Warn("authentication required", slog.Any("error", errors.Unwrap(err)))
		return nil, err
	}

	req := buildRequest(target, opts, token)
	logger.Debug("api request", slog.String("method", req.Method))

	resp, err := e.transport.Do(ctx, req)
	if err != nil {
		logger.Warn("api transport failure", slog.Any("error", err))
		return nil, TransportError{Err: err}
	}

	if !resp.OK() {
		appErr := ApplicationError{
			Status:  resp.StatusCode,
			Message: errorMessage(decodeOrEmpty(resp.Body)),
		}
		logger.Warn("api request failed",
			slog.Int("status", resp.StatusCode),
			slog.String("message", appErr.Message),
		)
		return nil, appErr
	}

	result, err = resp.JSON()
	if err != nil {
		logger.Warn("api response undecodable", slog.Int("status", resp.StatusCode), slog.Any("error", err))
		return nil, TransportError{Err: err}
	}

	logger.Debug("api request done", slog.Int("status", resp.StatusCode))
	return result, nil
}

// acquireToken resolves the principal and its token before any network call is dispatched.
func (e *Executor) acquireToken(ctx context.Context) (string, error) {
	if e.provider == nil {
		return "", AuthError{Err: identity.ErrNoPrincipal}
	}
	principal, err := e.provider.CurrentPrincipal(ctx)
	if err != nil {
		return "", AuthError{Err: err}
	}
	if principal == nil {
		return "", AuthError{Err: identity.ErrNoPrincipal}
	}

	token, err := principal.Token(ctx)
	if err != nil {
		return "", AuthError{Err: fmt.Errorf("token for %q: %w", principal.UID(), err)}
	}
	if strings.TrimSpace(token) == "" {
		return "", AuthError{Err: fmt.Errorf("empty token for %q", principal.UID())}
	}
	return token, nil
}

// buildRequest merges caller headers under the two headers the executor owns.
func buildRequest(target string, opts *RequestOptions, token string) Request {
	req := Request{
		Method: http.MethodGet,
		URL:    target,
		Header: make(http.Header),
	}
	if opts != nil {
		if opts.Method != "" {
			req.Method = strings.ToUpper(opts.Method)
		}
		for name, value := range opts.Headers {
			req.Header.Set(name, value)
		}
		req.Body = opts.Body
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (e *Executor) begin() {
	e.mu.Lock()
	e.state = State{Loading: true}
	e.pending++
	e.metrics.setInFlight(e.pending)
	snapshot := e.state
	e.mu.Unlock()

	e.notify(snapshot)
}

func (e *Executor) finish(err error) {
	e.mu.Lock()
	e.state.Loading = false
	if err != nil {
		e.state.Error = err.Error()
	}
	e.pending--
	e.metrics.setInFlight(e.pending)
	snapshot := e.state
	e.mu.Unlock()

	e.notify(snapshot)
}

func (e *Executor) notify(s State) {
	for _, fn := range e.observers {
		fn(s)
	}
}

func (e *Executor) record(start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		e.metrics.IncRequest("failure")
		e.metrics.IncError(errorTypeLabel(err))
		return
	}
	e.metrics.IncRequest("success")
}
