package server

import (
	"encoding/json"
	"net/http"

	"github.com/storefront-labs/authcore/authflow"
	"github.com/storefront-labs/authcore/sessionsec"
)

// LoginHandler begins an OAuth flow: mints flow state and redirects to the
// provider. An optional return_url query parameter survives the round trip
// inside the state.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirectURL, err := s.callbacks.BeginFlow(r.URL.Query().Get("return_url"), s.config.Provider.StateTTL)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to begin auth flow")
			http.Redirect(w, r, authflow.RouteError+"?error="+string(authflow.FailureUnexpected), http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, redirectURL, http.StatusSeeOther)
	}
}

// CallbackHandler is the provider redirect target. The response is always
// a redirect: to the error route on any terminal failure, to the decided
// destination with a session cookie on success.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")

		client := authflow.ClientContext{
			Fingerprint: fingerprintFromRequest(r),
			IPAddress:   r.RemoteAddr,
		}

		decision := s.callbacks.HandleCallback(r.Context(), code, state, client)
		if decision.Failed() {
			http.Redirect(w, r, decision.Target, http.StatusSeeOther)
			return
		}

		s.setSessionCookie(w, r, decision.Session)
		http.Redirect(w, r, decision.Target, http.StatusSeeOther)
	}
}

// LogoutHandler invalidates the cookie session and clears the cookie.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if descriptor, err := s.sessionFromCookie(r); err == nil {
			if err := s.hardening.InvalidateSession(r.Context(), descriptor.SessionID, sessionsec.ReasonLogout); err != nil {
				s.log.Warn().Err(err).Str("session_id", descriptor.SessionID).Msg("logout invalidation failed")
			}
		}
		s.clearSessionCookie(w)
		w.WriteHeader(http.StatusNoContent)
	}
}

// sessionSummary is the JSON projection of a session for the dashboard's
// device list.
type sessionSummary struct {
	ID         string `json:"id"`
	DeviceType string `json:"device_type"`
	UserAgent  string `json:"user_agent"`
	RiskScore  int    `json:"risk_score"`
	LastUsed   string `json:"last_used"`
	CreatedAt  string `json:"created_at"`
	Current    bool   `json:"current"`
}

// SessionsHandler lists the caller's active sessions.
func (s *Server) SessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		descriptor, ok := s.requireValidSession(w, r)
		if !ok {
			return
		}

		sessions, err := s.hardening.GetUserSessions(r.Context(), descriptor.UserID)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", descriptor.UserID).Msg("failed to list sessions")
			http.Error(w, "failed to list sessions", http.StatusInternalServerError)
			return
		}

		summaries := make([]sessionSummary, 0, len(sessions))
		for _, session := range sessions {
			summaries = append(summaries, sessionSummary{
				ID:         session.ID,
				DeviceType: string(session.DeviceType),
				UserAgent:  session.Fingerprint.UserAgent,
				RiskScore:  session.RiskScore,
				LastUsed:   session.LastUsed.Format("2006-01-02T15:04:05Z07:00"),
				CreatedAt:  session.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				Current:    session.ID == descriptor.SessionID,
			})
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(summaries); err != nil {
			s.log.Error().Err(err).Msg("failed to encode session list")
		}
	}
}

// RevokeOtherSessionsHandler deactivates every session of the caller
// except the current one.
func (s *Server) RevokeOtherSessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		descriptor, ok := s.requireValidSession(w, r)
		if !ok {
			return
		}

		count, err := s.hardening.InvalidateOtherSessions(r.Context(), descriptor.UserID, descriptor.SessionID)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", descriptor.UserID).Msg("failed to revoke sessions")
			http.Error(w, "failed to revoke sessions", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]int{"revoked": count})
	}
}

// requireValidSession authenticates the request by cookie, running the
// full hardened validation (liveness plus fingerprint) and the
// suspicious-activity check.
func (s *Server) requireValidSession(w http.ResponseWriter, r *http.Request) (*sessionDescriptor, bool) {
	descriptor, err := s.sessionFromCookie(r)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return nil, false
	}

	fp := fingerprintFromRequest(r)
	if !s.hardening.ValidateSession(r.Context(), descriptor.SessionID, &fp) {
		s.clearSessionCookie(w)
		http.Error(w, "session invalid", http.StatusUnauthorized)
		return nil, false
	}
	if s.hardening.DetectSuspiciousActivity(r.Context(), descriptor.SessionID, fp) {
		s.clearSessionCookie(w)
		http.Error(w, "session invalid", http.StatusUnauthorized)
		return nil, false
	}
	return descriptor, true
}
