// Package gateway wraps outbound calls to one remote service: it injects the
// bearer token, classifies failures, and turns a 401 into a one-shot session
// invalidation.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowdeck/internal/apierr"
	"flowdeck/internal/log"
)

// TokenSource yields the current bearer token, empty when anonymous.
type TokenSource interface {
	Token() string
}

// Gateway is an HTTP client bound to a single service base URL. One instance
// per remote service. Safe for concurrent use; the only mutable state lives
// in HTTPClient, which must be configured before the first call.
type Gateway struct {
	BaseURL    string
	HTTPClient *http.Client

	tokens        TokenSource
	onAuthFailure func(context.Context)
	logger        *slog.Logger
}

// New creates a gateway with sane defaults. onAuthFailure is invoked at most
// once per originating call when the service answers 401; it may be nil.
func New(baseURL string, tokens TokenSource, onAuthFailure func(context.Context)) *Gateway {
	return &Gateway{
		BaseURL:       baseURL,
		HTTPClient:    &http.Client{Timeout: 10 * time.Second},
		tokens:        tokens,
		onAuthFailure: onAuthFailure,
		logger:        log.WithComponent("gateway"),
	}
}

type retriedKey struct{}

// markRetried flags the originating call so the invalidation side effect
// cannot recurse through calls it triggers itself.
func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

func retried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

type errorBody struct {
	Error string `json:"error"`
}

// Do issues one JSON request. body and out may be nil. fallback is the
// operation's error message when the response carries no {error} body. The
// request itself is never mutated beyond the Authorization and bookkeeping
// headers, and a failed call is never silently retried.
func (g *Gateway) Do(ctx context.Context, method, endpoint string, body, out any, fallback string) error {
	op := method + " " + endpoint
	url := strings.TrimRight(g.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return apierr.Wrap(apierr.KindValidation, op, "could not encode request body", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return apierr.Wrap(apierr.KindNetwork, op, fallback, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if g.tokens != nil {
		if token := g.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.KindNetwork, op, fallback, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg := fallback
		raw, _ := io.ReadAll(resp.Body)
		var eb errorBody
		if jsonErr := json.Unmarshal(raw, &eb); jsonErr == nil && eb.Error != "" {
			msg = eb.Error
		}
		if resp.StatusCode == http.StatusUnauthorized && !retried(ctx) {
			g.logger.Warn("authorization failure, invalidating session", "op", op)
			if g.onAuthFailure != nil {
				g.onAuthFailure(markRetried(ctx))
			}
		}
		return apierr.FromStatus(op, resp.StatusCode, msg)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apierr.Wrap(apierr.KindNetwork, op, "could not decode response", err)
		}
	}
	return nil
}
