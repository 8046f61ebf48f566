package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func ok(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	w.WriteHeader(http.StatusOK)
}

func TestRequireBasicAuthNoHeader(t *testing.T) {
	req, _ := http.NewRequest("GET", "/ok", nil)
	rr := httptest.NewRecorder()

	h := RequireBasicAuth("admin", "secret", ok)
	h(rr, req, nil)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireBasicAuthWrongCredentials(t *testing.T) {
	req, _ := http.NewRequest("GET", "/ok", nil)
	req.SetBasicAuth("admin", "wrong")
	rr := httptest.NewRecorder()

	h := RequireBasicAuth("admin", "secret", ok)
	h(rr, req, nil)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireBasicAuthSuccess(t *testing.T) {
	req, _ := http.NewRequest("GET", "/ok", nil)
	req.SetBasicAuth("admin", "secret")
	rr := httptest.NewRecorder()

	h := RequireBasicAuth("admin", "secret", ok)
	h(rr, req, nil)

	require.Equal(t, http.StatusOK, rr.Code)
}
