package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/signalsfoundry/reactive-labs/internal/logging"
)

// maxBody bounds how much of a response is decoded.
const maxBody = 4 << 20

// HTTP is a Fetcher performing JSON GET requests. Each request runs on its own
// goroutine; the decoded result is handed back through Poster.
type HTTP struct {
	client *http.Client
	poster Poster
	log    logging.Logger
}

// HTTPOption configures an HTTP fetcher.
type HTTPOption func(*HTTP)

// WithClient overrides the HTTP client (default: 10s timeout).
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

// WithLogger attaches a logger for request-level diagnostics.
func WithLogger(l logging.Logger) HTTPOption {
	return func(h *HTTP) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHTTP returns a fetcher delivering results through poster.
func NewHTTP(poster Poster, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		client: &http.Client{Timeout: 10 * time.Second},
		poster: poster,
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Fetch implements Fetcher.
func (h *HTTP) Fetch(ctx context.Context, url string, cb func(Response)) Cancel {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	d := &delivery{cb: cb}

	go func() {
		defer cancel()
		start := time.Now()
		body, err := h.get(ctx, url)
		if err != nil && ctx.Err() != nil {
			err = ErrAborted
		}
		h.log.Debug(ctx, "fetch finished",
			logging.String("url", url),
			logging.Duration("elapsed", time.Since(start)),
			logging.Err(err),
		)
		resp := Response{URL: url, Body: body, Err: err}
		h.poster.Post(func() { d.send(resp) })
	}()

	return Cancel(cancel)
}

func (h *HTTP) get(ctx context.Context, url string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, &TransportError{URL: url, Status: resp.StatusCode}
	}

	var body any
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBody))
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, &TransportError{URL: url, Status: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}
	return body, nil
}
