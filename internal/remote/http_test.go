package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/offline-sync/internal/httpclient"
	"github.com/stacklok/offline-sync/internal/queue"
	"github.com/stacklok/offline-sync/internal/remote"
	"github.com/stacklok/offline-sync/internal/retry"
)

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   string
}

type fakeRemote struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     string
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.EscapedPath(),
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	status, respBody := f.status, f.body
	f.mu.Unlock()

	w.WriteHeader(status)
	_, _ = w.Write([]byte(respBody))
}

func (f *fakeRemote) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	Expect(f.requests).NotTo(BeEmpty())
	return f.requests[len(f.requests)-1]
}

func entry(op queue.Operation, payload string) *queue.Entry {
	e := &queue.Entry{
		ID:         "entry-1",
		Operation:  op,
		EntityType: "employee",
		EntityID:   "emp-1",
		Status:     queue.StatusProcessing,
	}
	if payload != "" {
		e.Payload = json.RawMessage(payload)
	}
	return e
}

var _ = Describe("HTTPApplier", func() {
	var (
		fake    *fakeRemote
		server  *httptest.Server
		applier *remote.HTTPApplier
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = &fakeRemote{status: http.StatusOK}
		server = httptest.NewServer(fake)
		server.Config.SetKeepAlivesEnabled(false)
		DeferCleanup(server.Close)

		var err error
		applier, err = remote.NewHTTPApplier(
			httpclient.NewDefaultClient(2*time.Second),
			server.URL+"/api/",
			remote.WithHeaders(map[string]string{"X-Tenant": "acme"}),
			remote.WithBearerToken("s3cret"),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("routing", func() {
		It("should POST creates to the collection", func() {
			fake.status = http.StatusCreated
			fake.body = `{"id":"emp-1","name":"A"}`

			result, err := applier.Apply(ctx, entry(queue.OperationCreate, `{"name":"A"}`), remote.ApplyOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Divergent).To(BeFalse())
			Expect(string(result.Data)).To(MatchJSON(`{"id":"emp-1","name":"A"}`))

			req := fake.last()
			Expect(req.Method).To(Equal(http.MethodPost))
			Expect(req.Path).To(Equal("/api/employee"))
			Expect(req.Body).To(MatchJSON(`{"name":"A"}`))
			Expect(req.Header.Get("Idempotency-Key")).To(Equal("entry-1"))
			Expect(req.Header.Get("Authorization")).To(Equal("Bearer s3cret"))
			Expect(req.Header.Get("X-Tenant")).To(Equal("acme"))
			Expect(req.Header.Get("If-Unmodified-Since")).To(BeEmpty())
		})

		It("should PUT updates to the item with a precondition", func() {
			_, err := applier.Apply(ctx,
				entry(queue.OperationUpdate, `{"name":"B","updatedAt":"2026-03-01T10:00:00Z"}`),
				remote.ApplyOptions{})
			Expect(err).NotTo(HaveOccurred())

			req := fake.last()
			Expect(req.Method).To(Equal(http.MethodPut))
			Expect(req.Path).To(Equal("/api/employee/emp-1"))
			Expect(req.Header.Get("If-Unmodified-Since")).To(Equal("Sun, 01 Mar 2026 10:00:00 GMT"))
		})

		It("should skip the precondition on overwrite and upsert creates", func() {
			_, err := applier.Apply(ctx,
				entry(queue.OperationCreate, `{"name":"B","updatedAt":"2026-03-01T10:00:00Z"}`),
				remote.ApplyOptions{Overwrite: true})
			Expect(err).NotTo(HaveOccurred())

			req := fake.last()
			Expect(req.Method).To(Equal(http.MethodPut))
			Expect(req.Path).To(Equal("/api/employee/emp-1"))
			Expect(req.Header.Get("If-Unmodified-Since")).To(BeEmpty())
		})

		It("should DELETE the item without a body", func() {
			fake.status = http.StatusNoContent

			_, err := applier.Apply(ctx, entry(queue.OperationDelete, `{"name":"A"}`), remote.ApplyOptions{})
			Expect(err).NotTo(HaveOccurred())

			req := fake.last()
			Expect(req.Method).To(Equal(http.MethodDelete))
			Expect(req.Body).To(BeEmpty())
		})

		It("should escape path segments", func() {
			e := entry(queue.OperationUpdate, `{"name":"A"}`)
			e.EntityID = "a/b c"

			_, err := applier.Apply(ctx, e, remote.ApplyOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.last().Path).To(Equal("/api/employee/a%2Fb%20c"))
		})
	})

	Describe("response handling", func() {
		It("should treat a missing entity on delete as success", func() {
			fake.status = http.StatusNotFound

			result, err := applier.Apply(ctx, entry(queue.OperationDelete, ""), remote.ApplyOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Divergent).To(BeFalse())
		})

		It("should report a missing entity on update as divergence with no remote copy", func() {
			fake.status = http.StatusNotFound

			result, err := applier.Apply(ctx, entry(queue.OperationUpdate, `{"name":"A"}`), remote.ApplyOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Divergent).To(BeTrue())
			Expect(result.Remote).To(BeEmpty())
		})

		DescribeTable("should report divergence with the remote snapshot",
			func(status int) {
				fake.status = status
				fake.body = `{"id":"emp-1","name":"B"}`

				result, err := applier.Apply(ctx, entry(queue.OperationUpdate, `{"name":"A"}`), remote.ApplyOptions{})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Divergent).To(BeTrue())
				Expect(string(result.Remote)).To(MatchJSON(`{"id":"emp-1","name":"B"}`))
			},
			Entry("409 Conflict", http.StatusConflict),
			Entry("412 Precondition Failed", http.StatusPreconditionFailed),
		)

		DescribeTable("should return a StatusError",
			func(status int, body string, permanent, retryable bool) {
				fake.status = status
				fake.body = body

				_, err := applier.Apply(ctx, entry(queue.OperationUpdate, `{"name":"A"}`), remote.ApplyOptions{})
				Expect(err).To(HaveOccurred())

				var statusErr *remote.StatusError
				Expect(errors.As(err, &statusErr)).To(BeTrue())
				Expect(statusErr.StatusCode).To(Equal(status))
				Expect(remote.IsPermanent(err)).To(Equal(permanent))
				Expect(retry.IsRetryableError(err)).To(Equal(retryable))
			},
			Entry("400 is permanent", http.StatusBadRequest, `{"error":"name required"}`, true, false),
			Entry("409 without a body is permanent", http.StatusConflict, "", true, false),
			Entry("429 is transient", http.StatusTooManyRequests, "", false, true),
			Entry("500 is transient", http.StatusInternalServerError, "boom", false, true),
			Entry("503 is transient", http.StatusServiceUnavailable, "", false, true),
		)

		It("should truncate long error bodies on a rune boundary", func() {
			fake.status = http.StatusBadRequest
			fake.body = strings.Repeat("a", 511) + strings.Repeat("é", 10)

			_, err := applier.Apply(ctx, entry(queue.OperationUpdate, `{"name":"A"}`), remote.ApplyOptions{})
			var statusErr *remote.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(utf8.ValidString(statusErr.Message)).To(BeTrue())
			Expect(statusErr.Message).To(Equal(strings.Repeat("a", 511)))
		})

		It("should return transport failures as retryable errors", func() {
			server.Close()

			_, err := applier.Apply(ctx, entry(queue.OperationUpdate, `{"name":"A"}`), remote.ApplyOptions{})
			Expect(err).To(HaveOccurred())
			Expect(remote.IsPermanent(err)).To(BeFalse())
			Expect(retry.IsRetryableError(err)).To(BeTrue())
		})

		It("should reject unknown operations", func() {
			_, err := applier.Apply(ctx, entry(queue.Operation("upsert"), `{}`), remote.ApplyOptions{})
			Expect(err).To(MatchError(ContainSubstring("unsupported operation")))
		})
	})

	Describe("NewHTTPApplier", func() {
		It("should require a client", func() {
			_, err := remote.NewHTTPApplier(nil, "https://api.example.com")
			Expect(err).To(HaveOccurred())
		})

		It("should reject non-HTTP base URLs", func() {
			_, err := remote.NewHTTPApplier(httpclient.NewDefaultClient(0), "ftp://example.com")
			Expect(err).To(MatchError(ContainSubstring("scheme must be http or https")))
		})
	})
})
