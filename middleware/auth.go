package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/MindDevastation/factory-vm/errors"
)

// RequireBasicAuth wraps a handler with HTTP Basic Auth, comparing both
// user and pass in constant time so a timing side channel can't leak
// credential bytes one at a time.
func RequireBasicAuth(user, pass string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gotUser, gotPass, ok := r.BasicAuth()
		if !ok || !constantTimeEqual(gotUser, user) || !constantTimeEqual(gotPass, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="factory"`)
			errors.WriteHTTPUnauthorized(w, "invalid credentials", nil)
			return
		}
		next(w, r, ps)
	}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
