package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/storefront-labs/authcore/sessionsec"
)

// sessionDescriptor is the cookie payload: enough for the edge to identify
// the session without another lookup, nothing secret beyond the id.
type sessionDescriptor struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// setSessionCookie attaches the session-identifying cookie. Short fixed
// lifetime, HttpOnly + SameSite=Lax; Secure outside development.
func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, session *sessionsec.Session) {
	descriptor := sessionDescriptor{
		SessionID: session.ID,
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
	}
	payload, err := json.Marshal(descriptor)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode session descriptor")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.Session.CookieName,
		Value:    base64.RawURLEncoding.EncodeToString(payload),
		Path:     "/",
		HttpOnly: true,
		Secure:   !s.config.IsDev() || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.config.Session.CookieMaxAge.Seconds()),
	})
}

// clearSessionCookie expires the session cookie.
func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.Session.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// sessionFromCookie decodes the descriptor from the request cookie.
func (s *Server) sessionFromCookie(r *http.Request) (*sessionDescriptor, error) {
	cookie, err := r.Cookie(s.config.Session.CookieName)
	if err != nil {
		return nil, errors.Wrap(err, "[sessionFromCookie] cookie")
	}
	payload, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil, errors.Wrap(err, "[sessionFromCookie] decode")
	}
	var descriptor sessionDescriptor
	if err := json.Unmarshal(payload, &descriptor); err != nil {
		return nil, errors.Wrap(err, "[sessionFromCookie] unmarshal")
	}
	return &descriptor, nil
}

// fingerprintFromRequest captures the client environment attributes the
// SPA forwards in headers alongside the standard User-Agent.
func fingerprintFromRequest(r *http.Request) sessionsec.Fingerprint {
	return sessionsec.Fingerprint{
		UserAgent:        r.UserAgent(),
		ScreenResolution: r.Header.Get("X-Client-Screen-Resolution"),
		Timezone:         r.Header.Get("X-Client-Timezone"),
		Language:         r.Header.Get("X-Client-Language"),
		Platform:         r.Header.Get("X-Client-Platform"),
	}
}
