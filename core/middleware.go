package core

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"
)

const sessionName = "radius_portal_session"
const sessionMaxAge = 3600 // 1h

// NewSessionStore returns a cookie store that signs and encrypts session values.
// Without SESSION_ENCRYPTION_KEY the encryption key is derived from SESSION_KEY.
func NewSessionStore(cfg Config) (*sessions.CookieStore, error) {
	if cfg.SessionKey == "" {
		return nil, fmt.Errorf("empty session key")
	}
	authKey := []byte(cfg.SessionKey)
	encKey := []byte(cfg.SessionEncryptionKey)
	if len(encKey) == 0 {
		encKey = make([]byte, 32)
		r := hkdf.New(sha256.New, authKey, nil, []byte("radius-portal session encryption"))
		if _, err := io.ReadFull(r, encKey); err != nil {
			return nil, fmt.Errorf("derive session encryption key: %w", err)
		}
	}
	switch len(encKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("session encryption key must be 16, 24 or 32 bytes, got %d", len(encKey))
	}
	return sessions.NewCookieStore(authKey, encKey), nil
}

// SessionMiddleware ensures a session exists, carries a scratch id and applies consistent cookie options.
func SessionMiddleware(cfg Config, store sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := store.Get(c.Request, sessionName)
		if err != nil && session == nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "session error")
			c.Abort()
			return
		}
		// An undecodable cookie (e.g. rotated keys) yields a fresh session.

		if id, _ := session.Values[sessionScratchKey].(string); id == "" {
			id, err := NewScratchID()
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to issue session")
				c.Abort()
				return
			}
			session.Values[sessionScratchKey] = id
		}

		applySessionOptions(cfg, session)
		// Save to ensure options are persisted even for anonymous users.
		if err := session.Save(c.Request, c.Writer); err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to persist session")
			c.Abort()
			return
		}

		c.Set("session", session)
		c.Next()
	}
}

// OriginRefererMiddleware rejects requests whose Origin (or Referer) is not in
// cfg.AllowedOrigins and answers CORS preflights for the API.
func OriginRefererMiddleware(cfg Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.ToLower(o)] = true
	}

	return func(c *gin.Context) {
		origin := requestOrigin(c.Request)
		if origin == "" {
			// same-origin navigation
			c.Next()
			return
		}
		if !allowed[strings.ToLower(origin)] {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
			c.Abort()
			return
		}

		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Expose-Headers", "X-CSRF-Token")
		h.Add("Vary", "Origin")
		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-CSRF-Token")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return o
	}
	if u, err := url.Parse(r.Header.Get("Referer")); err == nil && u.Host != "" {
		return u.Scheme + "://" + u.Host
	}
	return ""
}

const csrfSessionKey = "csrf_token"

// CSRFMiddleware issues a per-session token and requires it in X-CSRF-Token on
// unsafe methods. It must run after SessionMiddleware.
func CSRFMiddleware(cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := sessionFrom(c)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "session error")
			c.Abort()
			return
		}

		token, _ := session.Values[csrfSessionKey].(string)
		if token == "" {
			if token, err = generateCSRFToken(); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to issue csrf token")
				c.Abort()
				return
			}
			session.Values[csrfSessionKey] = token
			applySessionOptions(cfg, session)
			if err := session.Save(c.Request, c.Writer); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to persist session")
				c.Abort()
				return
			}
		}

		if !isSafeMethod(c.Request.Method) && !validCSRFToken(c.GetHeader("X-CSRF-Token"), token) {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "invalid csrf token")
			c.Abort()
			return
		}

		c.Writer.Header().Set("X-CSRF-Token", token)
		c.Next()
	}
}

func validCSRFToken(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func applySessionOptions(cfg Config, session *sessions.Session) {
	if session.Options == nil {
		session.Options = &sessions.Options{}
	}
	session.Options.Path = "/"
	session.Options.MaxAge = sessionMaxAge
	session.Options.HttpOnly = true
	session.Options.Secure = cfg.CookieSecure
	session.Options.SameSite = sameSiteFromString(cfg.CookieSameSite)
}

func sameSiteFromString(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
