package server

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/teemow/accountbroker/internal/authflow"
)

var callbackSuccessPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Authentication successful</title>
<style>
body { font-family: Arial, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; }
h1 { color: #4CAF50; }
code { background: #f0f0f0; padding: 5px; border-radius: 3px; }
</style>
</head>
<body>
<h1>Authentication successful</h1>
<p>The Google account <code>{{.Account}}</code> is now connected.</p>
<p>You can close this window and return to your client.</p>
</body>
</html>
`))

// handleCallback receives the provider redirect. A redirect carrying an
// error parameter consumes the attempt as failed; otherwise state and code
// are handed to the flow controller verbatim.
func (s *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")

	if reason := q.Get("error"); reason != "" {
		if state != "" {
			err := s.sc.Flows().Fail(r.Context(), state, reason)
			if errors.Is(err, authflow.ErrInvalidState) {
				s.logger.Debug("failed callback for unknown state", "request_id", RequestID(r.Context()))
			}
		}
		writeError(w, http.StatusBadRequest, "authentication failed: "+reason, authenticateHint)
		return
	}

	code := q.Get("code")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code or state", "")
		return
	}

	account, err := s.sc.Flows().Complete(r.Context(), state, code)
	if err != nil {
		s.writeFailure(w, r, err, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := callbackSuccessPage.Execute(w, struct{ Account string }{account}); err != nil {
		s.logger.Error("render callback page", "error", err.Error())
	}
}
