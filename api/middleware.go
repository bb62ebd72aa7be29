package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shaj13/go-guardian/auth"
	"go.uber.org/zap"
)

// Credential roles carried in the identity extensions.
const (
	RolePatient   = "patient"
	RoleClinician = "clinician"

	roleExtensionKey = "role"
)

// Header (and websocket query parameter) names for the two credential kinds.
const (
	PatientTokenHeader   = "token"
	ClinicianTokenHeader = "dtoken"
)

// Credential resolution failures. Both surface as a 401; the split exists so
// callers can log whether a credential was supplied at all.
var (
	ErrNoCredential      = errors.New("no credential supplied")
	ErrInvalidCredential = errors.New("invalid credential")
)

// Guard resolves request credentials to an identity. Identity comes solely
// from credential verification, never from a caller-declared value.
type Guard struct {
	strategies []auth.Strategy
}

// NewGuard builds the ordered credential strategies: the patient token is
// tried first, the clinician token second.
func NewGuard(secret []byte) *Guard {
	return &Guard{
		strategies: []auth.Strategy{
			jwtStrategy{param: PatientTokenHeader, role: RolePatient, secret: secret},
			jwtStrategy{param: ClinicianTokenHeader, role: RoleClinician, secret: secret},
		},
	}
}

// jwtStrategy verifies a single credential kind. It implements go-guardian's
// auth.Strategy so the guard can walk the kinds in a fixed order.
type jwtStrategy struct {
	param  string
	role   string
	secret []byte
}

func (s jwtStrategy) Authenticate(ctx context.Context, r *http.Request) (auth.Info, error) {
	raw := r.Header.Get(s.param)
	if raw == "" {
		// browser websocket clients cannot set headers on the upgrade request
		raw = r.URL.Query().Get(s.param)
	}
	if raw == "" {
		return nil, ErrNoCredential
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredential
	}

	id, _ := claims["id"].(string)
	if id == "" {
		// some token issuers put the account id in the subject claim
		id, _ = claims["sub"].(string)
	}
	if id == "" {
		return nil, ErrInvalidCredential
	}

	return auth.NewDefaultUser(id, id, nil, map[string][]string{roleExtensionKey: {s.role}}), nil
}

// Resolve derives the caller identity from the supplied credentials. A
// credential that is present but fails verification never falls through to a
// default identity; if nothing verifies, the request is rejected.
func (g *Guard) Resolve(r *http.Request) (auth.Info, error) {
	supplied := false
	for _, s := range g.strategies {
		info, err := s.Authenticate(r.Context(), r)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, ErrNoCredential) {
			supplied = true
		}
	}
	if supplied {
		return nil, ErrInvalidCredential
	}
	return nil, ErrNoCredential
}

// Role returns the credential kind the identity was resolved from.
func Role(info auth.Info) string {
	exts := info.Extensions()
	if exts == nil {
		return ""
	}
	if v := exts[roleExtensionKey]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Middleware authenticates the request with either credential kind and stores
// the resolved identity in the request context
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		info, err := g.Resolve(r)
		if err != nil {
			zap.S().Errorw("unauthorized",
				"url", r.URL)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "unauthorized"}`))
			return
		}
		zap.S().Debugf("User %s Authenticated\n", info.UserName())
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), info)))
	})
}
