// Package auth authenticates sync requests. Production traffic carries
// an HS256 bearer token minted by the accounts service; local dev can
// opt into an X-Debug-Sub header instead.
package auth

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const ctxSession ctxKey = "session"

// Session is the authenticated caller's identity for one request.
type Session struct {
	UserUUID    uuid.UUID
	SessionUUID *uuid.UUID
	ReadOnly    bool
}

// JWTCfg holds JWT authentication configuration
type JWTCfg struct {
	HS256Secret string // HMAC secret for HS256 tokens
	DevMode     bool   // Allow X-Debug-Sub header (DANGEROUS: only for local dev)
}

// Middleware creates HTTP middleware for JWT authentication.
// Supports two modes:
// 1. Production: Bearer token with JWT validation
// 2. Development: X-Debug-Sub header (ONLY when DevMode=true)
func Middleware(cfg JWTCfg) func(http.Handler) http.Handler {
	if cfg.DevMode {
		log.Warn().Msg("SECURITY WARNING: DevMode enabled - X-Debug-Sub header will bypass JWT authentication")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ""
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				tok = h[7:]
			}

			var session Session

			// Development mode: accept X-Debug-Sub ONLY if DevMode is
			// enabled and no token is present.
			if cfg.DevMode && tok == "" {
				if sub := r.Header.Get("X-Debug-Sub"); sub != "" {
					userUUID, err := uuid.Parse(sub)
					if err != nil {
						http.Error(w, "unauthorized", http.StatusUnauthorized)
						return
					}
					log.Debug().Str("sub", sub).Msg("using X-Debug-Sub header (dev mode)")
					session.UserUUID = userUUID
					ctx := context.WithValue(r.Context(), ctxSession, session)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			if tok == "" {
				log.Warn().Msg("missing bearer token")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims := jwt.MapClaims{}
			t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(cfg.HS256Secret), nil
			})
			if err != nil || !t.Valid {
				log.Warn().Err(err).Msg("jwt validation failed")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			sub, _ := claims["sub"].(string)
			userUUID, err := uuid.Parse(sub)
			if err != nil {
				log.Warn().Str("sub", sub).Msg("jwt sub is not a uuid")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			session.UserUUID = userUUID

			if s, ok := claims["session_uuid"].(string); ok {
				if sessionUUID, err := uuid.Parse(s); err == nil {
					session.SessionUUID = &sessionUUID
				}
			}
			if ro, ok := claims["read_only"].(bool); ok {
				session.ReadOnly = ro
			}

			ctx := context.WithValue(r.Context(), ctxSession, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext extracts the authenticated session. The second
// return is false when the middleware did not run.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxSession).(Session)
	return s, ok
}
