package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/httpclient"
	"github.com/stacklok/offline-sync/internal/otel"
	"github.com/stacklok/offline-sync/internal/queue"
)

const (
	// TracerName is the name used for the remote applier tracer
	TracerName = "github.com/stacklok/offline-sync/remote"

	// IdempotencyKeyHeader carries the queue entry id so the remote can drop replays
	IdempotencyKeyHeader = "Idempotency-Key"

	maxErrorMessageLen = 512
)

// HTTPApplier maps queue entries onto a REST resource layout:
//
//	create  POST   {base}/{entityType}
//	update  PUT    {base}/{entityType}/{entityId}
//	delete  DELETE {base}/{entityType}/{entityId}
//
// An overwrite always uses PUT so the remote treats it as an upsert.
type HTTPApplier struct {
	client  httpclient.Client
	baseURL string
	headers http.Header
	tracer  trace.Tracer
}

var _ Applier = (*HTTPApplier)(nil)

// Option configures an HTTPApplier
type Option func(*HTTPApplier)

// WithHeaders adds static headers to every request
func WithHeaders(headers map[string]string) Option {
	return func(a *HTTPApplier) {
		for k, v := range headers {
			a.headers.Set(k, v)
		}
	}
}

// WithBearerToken authenticates every request with the given token
func WithBearerToken(token string) Option {
	return func(a *HTTPApplier) {
		if token != "" {
			a.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithTracer sets the OpenTelemetry tracer for apply calls
func WithTracer(tracer trace.Tracer) Option {
	return func(a *HTTPApplier) {
		a.tracer = tracer
	}
}

// NewHTTPApplier creates an applier for the API rooted at baseURL
func NewHTTPApplier(client httpclient.Client, baseURL string, opts ...Option) (*HTTPApplier, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	a := &HTTPApplier{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: http.Header{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Apply sends one queue entry to the remote
func (a *HTTPApplier) Apply(ctx context.Context, entry *queue.Entry, opts ApplyOptions) (*Result, error) {
	ctx, span := otel.StartSpan(ctx, a.tracer, "HTTPApplier.Apply",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(otel.EntryAttributes(
			entry.ID, string(entry.Operation), entry.EntityType, entry.EntityID)...),
		trace.WithAttributes(attribute.Bool("sync.overwrite", opts.Overwrite)))
	defer span.End()

	method, target, err := a.route(entry, opts)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	var body []byte
	if method != http.MethodDelete && len(entry.Payload) > 0 {
		body = entry.Payload
	}

	resp, err := a.client.Do(ctx, method, target, body, a.requestHeaders(entry, opts))
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	result, err := interpret(entry, opts, target, resp)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	if result.Divergent {
		slog.DebugContext(ctx, "Remote reported divergence",
			"entry_id", entry.ID,
			"status", resp.StatusCode,
			"remote_absent", len(result.Remote) == 0)
	}
	return result, nil
}

func (a *HTTPApplier) route(entry *queue.Entry, opts ApplyOptions) (string, string, error) {
	collection := a.baseURL + "/" + url.PathEscape(entry.EntityType)
	item := collection + "/" + url.PathEscape(entry.EntityID)

	switch entry.Operation {
	case queue.OperationCreate:
		if opts.Overwrite {
			return http.MethodPut, item, nil
		}
		return http.MethodPost, collection, nil
	case queue.OperationUpdate:
		return http.MethodPut, item, nil
	case queue.OperationDelete:
		return http.MethodDelete, item, nil
	default:
		return "", "", fmt.Errorf("unsupported operation %q", entry.Operation)
	}
}

func (a *HTTPApplier) requestHeaders(entry *queue.Entry, opts ApplyOptions) http.Header {
	header := a.headers.Clone()
	header.Set(IdempotencyKeyHeader, entry.ID)

	if opts.Overwrite || entry.Operation == queue.OperationCreate {
		return header
	}
	if ts, ok := conflict.ExtractTimestamp(entry.Payload); ok {
		header.Set("If-Unmodified-Since", ts.UTC().Format(http.TimeFormat))
	}
	return header
}

func interpret(entry *queue.Entry, opts ApplyOptions, target string, resp *httpclient.Response) (*Result, error) {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result := &Result{}
		if json.Valid(resp.Body) {
			result.Data = resp.Body
		}
		return result, nil

	case resp.StatusCode == http.StatusNotFound && entry.Operation == queue.OperationDelete:
		// Already gone
		return &Result{}, nil

	case resp.StatusCode == http.StatusNotFound && entry.Operation == queue.OperationUpdate && !opts.Overwrite:
		return &Result{Divergent: true}, nil

	case (resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed) &&
		len(resp.Body) > 0 && json.Valid(resp.Body):
		return &Result{Divergent: true, Remote: resp.Body}, nil
	}

	return nil, &StatusError{
		StatusCode: resp.StatusCode,
		URL:        target,
		Message:    errorMessage(resp),
	}
}

func errorMessage(resp *httpclient.Response) string {
	msg := strings.TrimSpace(string(resp.Body))
	if msg == "" {
		return http.StatusText(resp.StatusCode)
	}
	if len(msg) > maxErrorMessageLen {
		cut := maxErrorMessageLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}
