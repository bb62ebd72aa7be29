package api_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/caresync/consult-chat-api/api"
)

var testSecret = []byte("test-secret")

func mintToken(t *testing.T, secret []byte, id string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": id}).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestGuard_ResolvePatientToken(t *testing.T) {
	g := api.NewGuard(testSecret)
	req, _ := http.NewRequest("GET", "/api/v1/chat/1234/messages", nil)
	req.Header.Set(api.PatientTokenHeader, mintToken(t, testSecret, "patient-1"))

	info, err := g.Resolve(req)
	if err != nil {
		t.Fatalf("expected resolve to succeed, got %v", err)
	}
	if info.ID() != "patient-1" {
		t.Errorf("expected id 'patient-1', got %q", info.ID())
	}
	if api.Role(info) != api.RolePatient {
		t.Errorf("expected role %q, got %q", api.RolePatient, api.Role(info))
	}
}

func TestGuard_ResolveClinicianToken(t *testing.T) {
	g := api.NewGuard(testSecret)
	req, _ := http.NewRequest("POST", "/api/v1/chat/end", nil)
	req.Header.Set(api.ClinicianTokenHeader, mintToken(t, testSecret, "doc-1"))

	info, err := g.Resolve(req)
	if err != nil {
		t.Fatalf("expected resolve to succeed, got %v", err)
	}
	if api.Role(info) != api.RoleClinician {
		t.Errorf("expected role %q, got %q", api.RoleClinician, api.Role(info))
	}
}

func TestGuard_PatientTokenTakesPrecedence(t *testing.T) {
	g := api.NewGuard(testSecret)
	req, _ := http.NewRequest("GET", "/ws", nil)
	req.Header.Set(api.PatientTokenHeader, mintToken(t, testSecret, "patient-1"))
	req.Header.Set(api.ClinicianTokenHeader, mintToken(t, testSecret, "doc-1"))

	info, err := g.Resolve(req)
	if err != nil {
		t.Fatal(err)
	}
	if api.Role(info) != api.RolePatient {
		t.Errorf("expected the patient credential to win, got role %q", api.Role(info))
	}
}

func TestGuard_ResolveQueryParamToken(t *testing.T) {
	g := api.NewGuard(testSecret)
	req, _ := http.NewRequest("GET", "/ws?token="+mintToken(t, testSecret, "patient-1"), nil)

	info, err := g.Resolve(req)
	if err != nil {
		t.Fatal(err)
	}
	if info.ID() != "patient-1" {
		t.Errorf("expected id 'patient-1', got %q", info.ID())
	}
}

func TestGuard_InvalidPatientTokenFallsThroughToClinician(t *testing.T) {
	g := api.NewGuard(testSecret)
	req, _ := http.NewRequest("POST", "/api/v1/chat/end", nil)
	req.Header.Set(api.PatientTokenHeader, "garbage")
	req.Header.Set(api.ClinicianTokenHeader, mintToken(t, testSecret, "doc-1"))

	info, err := g.Resolve(req)
	if err != nil {
		t.Fatal(err)
	}
	if api.Role(info) != api.RoleClinician {
		t.Errorf("expected role %q, got %q", api.RoleClinician, api.Role(info))
	}
}

func TestGuard_InvalidTokenRejected(t *testing.T) {
	g := api.NewGuard(testSecret)
	req, _ := http.NewRequest("GET", "/api/v1/chat/1234/messages", nil)
	req.Header.Set(api.PatientTokenHeader, "garbage")

	_, err := g.Resolve(req)
	if !errors.Is(err, api.ErrInvalidCredential) {
		t.Errorf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestGuard_WrongSecretRejected(t *testing.T) {
	g := api.NewGuard(testSecret)
	req, _ := http.NewRequest("GET", "/api/v1/chat/1234/messages", nil)
	req.Header.Set(api.PatientTokenHeader, mintToken(t, []byte("other-secret"), "patient-1"))

	_, err := g.Resolve(req)
	if !errors.Is(err, api.ErrInvalidCredential) {
		t.Errorf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestGuard_UnsignedTokenRejected(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"id": "patient-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	g := api.NewGuard(testSecret)
	req, _ := http.NewRequest("GET", "/api/v1/chat/1234/messages", nil)
	req.Header.Set(api.PatientTokenHeader, raw)

	if _, err := g.Resolve(req); !errors.Is(err, api.ErrInvalidCredential) {
		t.Errorf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestGuard_NoCredential(t *testing.T) {
	g := api.NewGuard(testSecret)
	req, _ := http.NewRequest("GET", "/api/v1/chat/1234/messages", nil)

	_, err := g.Resolve(req)
	if !errors.Is(err, api.ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
}

func TestGuard_MiddlewareStoresIdentity(t *testing.T) {
	g := api.NewGuard(testSecret)

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := api.IdentityFromContext(r.Context())
		if !ok {
			t.Error("expected identity in context")
			return
		}
		seen = info.ID()
	})

	req, _ := http.NewRequest("GET", "/api/v1/chat/1234/messages", nil)
	req.Header.Set(api.PatientTokenHeader, mintToken(t, testSecret, "patient-1"))
	rr := httptest.NewRecorder()

	g.Middleware(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if seen != "patient-1" {
		t.Errorf("expected identity 'patient-1', got %q", seen)
	}
}

func TestGuard_MiddlewareRejectsMissingCredential(t *testing.T) {
	g := api.NewGuard(testSecret)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	})

	req, _ := http.NewRequest("GET", "/api/v1/chat/1234/messages", nil)
	rr := httptest.NewRecorder()

	g.Middleware(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
	if rr.Body.String() != `{"error": "unauthorized"}` {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}
