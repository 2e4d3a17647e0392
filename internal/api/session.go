package api

import (
	"net/http"

	"github.com/grant-reconciler/internal/service"
)

// SessionHeader carries the client session id in both directions
const SessionHeader = "X-Session-ID"

// sessionFor returns the caller's session, issuing a new one when the header
// is missing or unknown. The effective id is always echoed back.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) *service.Session {
	session, created := s.deps.Sessions.GetOrCreate(r.Header.Get(SessionHeader))
	if created {
		s.logger.WithField("session", session.ID).Debug("issued new session")
	}
	w.Header().Set(SessionHeader, session.ID)
	return session
}
