package common

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorResponse(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	WriteErrorResponse(rr, "queue entry not found", http.StatusNotFound)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"queue entry not found"}`, rr.Body.String())
}

func TestDecodeJSONBody(t *testing.T) {
	t.Parallel()

	type body struct {
		Type string `json:"type"`
	}

	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{name: "valid", payload: `{"type":"manual"}`, want: "manual"},
		{name: "unknown field", payload: `{"type":"manual","force":true}`, wantErr: true},
		{name: "malformed", payload: `{"type":`, wantErr: true},
		{name: "too large", payload: `{"type":"` + strings.Repeat("a", MaxRequestBodySize) + `"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			var got body
			err := DecodeJSONBody(httptest.NewRecorder(), req, &got)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Type)
		})
	}
}

func TestIntQueryParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{query: "", want: 50},
		{query: "?limit=5", want: 5},
		{query: "?limit=0", want: 0},
		{query: "?limit=-1", wantErr: true},
		{query: "?limit=ten", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			got, err := IntQueryParam(httptest.NewRequest(http.MethodGet, "/history"+tt.query, nil), "limit", 50)
			if tt.wantErr {
				require.ErrorContains(t, err, "limit must be a non-negative integer")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
