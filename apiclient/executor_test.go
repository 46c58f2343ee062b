package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/bookshelf/identity"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const bookURL = "http://api.test/books/42"

func newTestExecutor(t *testing.T, provider identity.Provider, opts ...Option) (*Executor, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	transport := NewHTTPTransport(TransportOptions{Timeout: 2 * time.Second, RoundTripper: mock})
	return NewExecutor(provider, transport, opts...), mock
}

func signedIn() identity.Provider {
	return identity.NewStaticProvider("user-1", "abc123")
}

type failingPrincipal struct {
	token string
	err   error
}

func (f failingPrincipal) UID() string { return "user-1" }

func (f failingPrincipal) Token(context.Context) (string, error) { return f.token, f.err }

type principalProvider struct {
	principal identity.Principal
}

func (p principalProvider) CurrentPrincipal(context.Context) (identity.Principal, error) {
	return p.principal, nil
}

func assertSettled(t *testing.T, e *Executor, wantErr string) {
	t.Helper()
	state := e.State()
	if state.Loading {
		t.Fatalf("loading=true after Execute returned")
	}
	if state.Error != wantErr {
		t.Fatalf("state error=%q, want %q", state.Error, wantErr)
	}
}

func TestExecuteSuccessReturnsDecodedBody(t *testing.T) {
	body := `{"id":"42","isbn":"000","title":"Foo","toc":[]}`
	e, mock := newTestExecutor(t, signedIn())

	var gotAuth, gotContentType string
	mock.RegisterResponder(http.MethodGet, bookURL, func(req *http.Request) (*http.Response, error) {
		gotAuth = req.Header.Get("Authorization")
		gotContentType = req.Header.Get("Content-Type")
		return httpmock.NewStringResponse(http.StatusOK, body), nil
	})

	got, err := e.Execute(context.Background(), bookURL, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := map[string]any{"id": "42", "isbn": "000", "title": "Foo", "toc": []any{}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("result=%#v, want %#v", got, want)
	}
	if gotAuth != "Bearer abc123" {
		t.Fatalf("authorization=%q, want Bearer abc123", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content-type=%q, want application/json", gotContentType)
	}
	if calls := mock.GetTotalCallCount(); calls != 1 {
		t.Fatalf("transport calls=%d, want 1", calls)
	}
	assertSettled(t, e, "")
}

func TestExecuteRoundTripsBody(t *testing.T) {
	payload := map[string]any{
		"query":         "concurrency",
		"results_count": 2,
		"report":        map[string]any{"recommendations": []any{}},
		"search_results": []any{
			map[string]any{"id": "1", "isbn": "9780134190440", "title": "The Go Programming Language"},
			map[string]any{"id": "2", "isbn": "9781491941294", "title": "Concurrency in Go", "toc_json": `[{"title":"Intro","level":1}]`},
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	e, mock := newTestExecutor(t, signedIn())
	mock.RegisterResponder(http.MethodGet, bookURL, httpmock.NewBytesResponder(http.StatusOK, encoded))

	got, err := e.Execute(context.Background(), bookURL, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want, err := decodeJSON(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("result=%#v, want %#v", got, want)
	}
}

func TestExecuteWithoutPrincipalSkipsTransport(t *testing.T) {
	e, mock := newTestExecutor(t, identity.NewStaticProvider("", ""))
	mock.RegisterResponder(http.MethodGet, bookURL, httpmock.NewStringResponder(http.StatusOK, `{}`))

	_, err := e.Execute(context.Background(), bookURL, nil)
	if !IsAuth(err) {
		t.Fatalf("err=%v, want AuthError", err)
	}
	if !errors.Is(err, identity.ErrNoPrincipal) {
		t.Fatalf("err=%v, want wrapped ErrNoPrincipal", err)
	}
	if calls := mock.GetTotalCallCount(); calls != 0 {
		t.Fatalf("transport calls=%d, want 0", calls)
	}
	assertSettled(t, e, AuthMessage)
}

func TestExecuteTokenFailures(t *testing.T) {
	tests := []struct {
		name      string
		principal failingPrincipal
	}{
		{name: "token error", principal: failingPrincipal{err: errors.New("refresh revoked")}},
		{name: "empty token", principal: failingPrincipal{token: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newTestExecutor(t, principalProvider{principal: tt.principal})

			_, err := e.Execute(context.Background(), bookURL, nil)
			if !IsAuth(err) {
				t.Fatalf("err=%v, want AuthError", err)
			}
			if calls := mock.GetTotalCallCount(); calls != 0 {
				t.Fatalf("transport calls=%d, want 0", calls)
			}
			assertSettled(t, e, AuthMessage)
		})
	}
}

func TestExecuteOwnsAuthAndContentTypeHeaders(t *testing.T) {
	e, mock := newTestExecutor(t, signedIn())

	var got http.Header
	mock.RegisterResponder(http.MethodGet, bookURL, func(req *http.Request) (*http.Response, error) {
		got = req.Header.Clone()
		return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
	})

	_, err := e.Execute(context.Background(), bookURL, &RequestOptions{
		Headers: map[string]string{
			"authorization": "Bearer forged",
			"Content-Type":  "text/plain",
			"X-Client":      "shelf-ui",
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if values := got.Values("Authorization"); len(values) != 1 || values[0] != "Bearer abc123" {
		t.Fatalf("authorization=%v, want [Bearer abc123]", values)
	}
	if values := got.Values("Content-Type"); len(values) != 1 || values[0] != "application/json" {
		t.Fatalf("content-type=%v, want [application/json]", values)
	}
	if got.Get("X-Client") != "shelf-ui" {
		t.Fatalf("caller header dropped: %v", got)
	}
}

func TestExecuteApplicationFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{name: "detail", status: http.StatusNotFound, body: `{"detail":"Book not found"}`, wantMessage: "Book not found"},
		{name: "unparsable", status: http.StatusInternalServerError, body: `<html>upstream error</html>`, wantMessage: GenericFailureMessage},
		{name: "empty body", status: http.StatusBadGateway, body: ``, wantMessage: GenericFailureMessage},
		{name: "no detail", status: http.StatusBadRequest, body: `{"error":"bad"}`, wantMessage: GenericFailureMessage},
		{name: "empty detail", status: http.StatusBadRequest, body: `{"detail":""}`, wantMessage: GenericFailureMessage},
		{name: "validation list", status: http.StatusUnprocessableEntity, body: `{"detail":[{"loc":["body","isbn"],"msg":"field required"}]}`, wantMessage: GenericFailureMessage},
		{name: "array body", status: http.StatusForbidden, body: `["nope"]`, wantMessage: GenericFailureMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newTestExecutor(t, signedIn())
			mock.RegisterResponder(http.MethodGet, bookURL, httpmock.NewStringResponder(tt.status, tt.body))

			got, err := e.Execute(context.Background(), bookURL, nil)
			if got != nil {
				t.Fatalf("result=%v, want nil", got)
			}
			var appErr ApplicationError
			if !errors.As(err, &appErr) {
				t.Fatalf("err=%v (%T), want ApplicationError", err, err)
			}
			if appErr.Status != tt.status {
				t.Fatalf("status=%d, want %d", appErr.Status, tt.status)
			}
			if err.Error() != tt.wantMessage {
				t.Fatalf("message=%q, want %q", err.Error(), tt.wantMessage)
			}
			assertSettled(t, e, tt.wantMessage)
		})
	}
}

func TestExecuteTransportFailure(t *testing.T) {
	e, mock := newTestExecutor(t, signedIn())
	dnsErr := &net.DNSError{Err: "no such host", Name: "api.test", IsNotFound: true}
	mock.RegisterResponder(http.MethodGet, bookURL, httpmock.NewErrorResponder(dnsErr))

	_, err := e.Execute(context.Background(), bookURL, nil)
	if !IsTransport(err) {
		t.Fatalf("err=%v (%T), want TransportError", err, err)
	}
	assertSettled(t, e, err.Error())
	if e.State().Error == "" {
		t.Fatalf("error state should be populated")
	}
}

func TestExecuteMalformedSuccessBody(t *testing.T) {
	bodies := []string{`{"id":`, `{"a":1}]`, `{"a":1}}`, `[1]]`, `{"a":1} x`}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			e, mock := newTestExecutor(t, signedIn())
			mock.RegisterResponder(http.MethodGet, bookURL, httpmock.NewStringResponder(http.StatusOK, body))

			result, err := e.Execute(context.Background(), bookURL, nil)
			if !IsTransport(err) {
				t.Fatalf("result=%v err=%v, want TransportError", result, err)
			}
			if result != nil {
				t.Fatalf("result=%v, want nil", result)
			}
			assertSettled(t, e, err.Error())
		})
	}
}

func TestExecuteSendsMethodAndBody(t *testing.T) {
	e, mock := newTestExecutor(t, signedIn())

	var gotBody map[string]any
	mock.RegisterResponder(http.MethodPost, "http://api.test/api/books", func(req *http.Request) (*http.Response, error) {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &gotBody); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, `{"detail":"bad json"}`), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
	})

	_, err := e.Execute(context.Background(), "http://api.test/api/books", &RequestOptions{
		Method: "post",
		Body:   map[string]any{"isbn": "9784873119694"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotBody["isbn"] != "9784873119694" {
		t.Fatalf("body=%v", gotBody)
	}
}

func TestExecuteClearsPreviousError(t *testing.T) {
	e, mock := newTestExecutor(t, signedIn())
	mock.RegisterResponder(http.MethodGet, "http://api.test/missing", httpmock.NewStringResponder(http.StatusNotFound, `{"detail":"Book not found"}`))
	mock.RegisterResponder(http.MethodGet, bookURL, httpmock.NewStringResponder(http.StatusOK, `{}`))

	if _, err := e.Execute(context.Background(), "http://api.test/missing", nil); err == nil {
		t.Fatalf("expected failure")
	}
	assertSettled(t, e, "Book not found")

	if _, err := e.Execute(context.Background(), bookURL, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	assertSettled(t, e, "")
}

func TestExecuteNotifiesObservers(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)
	e, mock := newTestExecutor(t, signedIn(), WithObserver(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))
	mock.RegisterResponder(http.MethodGet, bookURL, httpmock.NewStringResponder(http.StatusNotFound, `{"detail":"Book not found"}`))

	_, _ = e.Execute(context.Background(), bookURL, nil)

	mu.Lock()
	defer mu.Unlock()
	want := []State{{Loading: true}, {Loading: false, Error: "Book not found"}}
	if !reflect.DeepEqual(states, want) {
		t.Fatalf("states=%+v, want %+v", states, want)
	}
}

func TestExecuteConcurrentCallsTrackPending(t *testing.T) {
	release := make(chan struct{})
	e, mock := newTestExecutor(t, signedIn())
	mock.RegisterResponder(http.MethodGet, bookURL, func(req *http.Request) (*http.Response, error) {
		<-release
		return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Execute(context.Background(), bookURL, nil); err != nil {
				t.Errorf("execute: %v", err)
			}
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.Pending() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("pending=%d, want 2", e.Pending())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !e.State().Loading {
		t.Fatalf("loading should be true while requests are outstanding")
	}

	close(release)
	wg.Wait()

	if got := e.Pending(); got != 0 {
		t.Fatalf("pending=%d, want 0", got)
	}
	assertSettled(t, e, "")
}

func TestExecuteRecordsMetrics(t *testing.T) {
	metrics := NewMetrics()
	e, mock := newTestExecutor(t, signedIn(), WithMetrics(metrics))
	mock.RegisterResponder(http.MethodGet, bookURL, httpmock.NewStringResponder(http.StatusOK, `{}`))
	mock.RegisterResponder(http.MethodGet, "http://api.test/missing", httpmock.NewStringResponder(http.StatusNotFound, `{}`))

	_, _ = e.Execute(context.Background(), bookURL, nil)
	_, _ = e.Execute(context.Background(), "http://api.test/missing", nil)

	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("success=%v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("application")); got != 1 {
		t.Fatalf("application errors=%v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.InFlight); got != 0 {
		t.Fatalf("in flight=%v, want 0", got)
	}
}

func TestExecuteInFlightGaugeMatchesPending(t *testing.T) {
	const calls = 20
	metrics := NewMetrics()
	release := make(chan struct{})
	e, mock := newTestExecutor(t, signedIn(), WithMetrics(metrics))
	mock.RegisterResponder(http.MethodGet, bookURL, func(req *http.Request) (*http.Response, error) {
		<-release
		return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Execute(context.Background(), bookURL, nil)
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.Pending() != calls {
		if time.Now().After(deadline) {
			t.Fatalf("pending=%d, want %d", e.Pending(), calls)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := testutil.ToFloat64(metrics.InFlight); got != calls {
		t.Fatalf("in flight=%v, want %d", got, calls)
	}

	close(release)
	wg.Wait()

	if got := testutil.ToFloat64(metrics.InFlight); got != 0 {
		t.Fatalf("in flight=%v after all calls settled, want 0", got)
	}
}

func TestTransportErrorMessage(t *testing.T) {
	if got := (TransportError{}).Error(); got != "transport: request failed" {
		t.Fatalf("nil cause message=%q", got)
	}
	if got := (TransportError{Err: errors.New("dial tcp: refused")}).Error(); got != "transport: dial tcp: refused" {
		t.Fatalf("message=%q", got)
	}
}

func TestErrorTypeLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: "unknown"},
		{err: AuthError{Err: identity.ErrNoPrincipal}, want: "auth"},
		{err: TransportError{Err: errors.New("dial")}, want: "transport"},
		{err: ApplicationError{Status: 500, Message: "x"}, want: "application"},
		{err: errors.New("other"), want: "other"},
	}
	for _, tt := range tests {
		if got := errorTypeLabel(tt.err); got != tt.want {
			t.Fatalf("errorTypeLabel(%v)=%q, want %q", tt.err, got, tt.want)
		}
	}
}
