package httpclient_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/offline-sync/internal/httpclient"
)

var _ = Describe("HTTPError", func() {
	Describe("NewHTTPError", func() {
		It("should create HTTPError with all fields", func() {
			err := httpclient.NewHTTPError(404, "http://example.com", "Not Found")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("HTTP 404"))
			Expect(err.Error()).To(ContainSubstring("http://example.com"))
			Expect(err.Error()).To(ContainSubstring("Not Found"))
		})

		It("should format error message correctly", func() {
			err := httpclient.NewHTTPError(500, "http://api.example.com/v1/employee", "Internal Server Error")
			Expect(err.Error()).To(Equal("HTTP 500 for URL http://api.example.com/v1/employee: Internal Server Error"))
		})

		It("should handle empty message", func() {
			err := httpclient.NewHTTPError(404, "http://example.com", "")
			Expect(err.Error()).To(Equal("HTTP 404 for URL http://example.com: "))
		})

		It("should expose the status code through errors.As", func() {
			wrapped := errors.Join(errors.New("apply failed"), httpclient.NewHTTPError(503, "http://x", "down"))

			var httpErr *httpclient.HTTPError
			Expect(errors.As(wrapped, &httpErr)).To(BeTrue())
			Expect(httpErr.HTTPStatusCode()).To(Equal(503))
		})
	})
})
