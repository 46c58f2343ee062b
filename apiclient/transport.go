package apiclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Request is a fully prepared outbound request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any
}

// Response is what the transport obtained from the backend.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON decodes the body as a generic JSON value. It fails on a malformed body.
func (r *Response) JSON() (any, error) {
	return decodeJSON(r.Body)
}

// Transport performs exactly one HTTP exchange. It returns an error only when no
// response was obtained; HTTP failure statuses are returned as responses.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// HTTPTransport is the resty-backed Transport.
type HTTPTransport struct {
	client *resty.Client
}

// TransportOptions configures NewHTTPTransport.
type TransportOptions struct {
	Timeout   time.Duration
	UserAgent string
	ProxyURL  string
	// RoundTripper replaces the default connection pool, e.g. with an httpmock transport.
	RoundTripper http.RoundTripper
}

// NewHTTPTransport builds a transport with a pooled connection set and no retries.
func NewHTTPTransport(opts TransportOptions) *HTTPTransport {
	rt := opts.RoundTripper
	if rt == nil {
		rt = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        16,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}

	client := resty.New().
		SetTransport(rt).
		SetRetryCount(0).
		SetLogger(slogAdapter{logger: slog.Default().With(slog.String("component", "resty"))})
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.ProxyURL != "" {
		client.SetProxy(opts.ProxyURL)
	}

	return &HTTPTransport{client: client}
}

// Do issues req and returns the raw status and body.
func (t *HTTPTransport) Do(ctx context.Context, req Request) (*Response, error) {
	r := t.client.R().SetContext(ctx)
	for name, values := range req.Header {
		for _, value := range values {
			r.Header.Add(name, value)
		}
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
	}, nil
}

// slogAdapter routes resty's internal logs to slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(format string, v ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, v...))
}

func (a slogAdapter) Warnf(format string, v ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, v...))
}

func (a slogAdapter) Debugf(format string, v ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, v...))
}
