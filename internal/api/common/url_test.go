package common

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWithParam(name, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(name, value)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestGetAndValidateURLParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		value      string
		want       string
		wantErrMsg string
	}{
		{name: "uuid", value: "3f1c2a9e-5c43-4a51-9f7e-0f8a6b1d2c3e", want: "3f1c2a9e-5c43-4a51-9f7e-0f8a6b1d2c3e"},
		{name: "dotted", value: "rule.v1_alpha", want: "rule.v1_alpha"},
		{name: "percent encoded", value: "emp%2F1", want: "emp/1"},
		{name: "empty", value: "", wantErrMsg: "id cannot be empty"},
		{name: "blank", value: "%20%20", wantErrMsg: "id cannot be empty"},
		{name: "embedded space", value: "emp%201", wantErrMsg: "id cannot contain whitespace"},
		{name: "tab", value: "emp%091", wantErrMsg: "id cannot contain whitespace"},
		{name: "bad encoding", value: "emp%zz", wantErrMsg: "invalid URL encoding in id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := GetAndValidateURLParam(requestWithParam("id", tt.value), "id")
			if tt.wantErrMsg != "" {
				require.EqualError(t, err, tt.wantErrMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetAndValidateURLParam_ThroughRouter(t *testing.T) {
	t.Parallel()

	var got string
	r := chi.NewRouter()
	r.Post("/entries/{id}/requeue", func(w http.ResponseWriter, req *http.Request) {
		var err error
		got, err = GetAndValidateURLParam(req, "id")
		if err != nil {
			WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/entries/entry-42/requeue", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "entry-42", got)
}
