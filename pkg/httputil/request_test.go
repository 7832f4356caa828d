package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePathUUID(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name      string
		vars      map[string]string
		want      uuid.UUID
		expectErr bool
	}{
		{name: "valid", vars: map[string]string{"org_id": id.String()}, want: id},
		{name: "missing", vars: map[string]string{}, expectErr: true},
		{name: "malformed", vars: map[string]string{"org_id": "acme"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), tt.vars)
			got, err := ParsePathUUID(req, "org_id")
			if tt.expectErr {
				assert.Error(t, err)
				assert.Equal(t, uuid.Nil, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePathUUIDOrError(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"org_id": "nope"})
	rec := httptest.NewRecorder()

	_, ok := ParsePathUUIDOrError(rec, req, "org_id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseQueryBool(t *testing.T) {
	tests := []struct {
		query     string
		want      bool
		expectErr bool
	}{
		{query: "", want: false},
		{query: "?allowed_when_locked=true", want: true},
		{query: "?allowed_when_locked=0", want: false},
		{query: "?allowed_when_locked=maybe", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			got, err := ParseQueryBool(req, "allowed_when_locked", false)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("outer"), mw("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
