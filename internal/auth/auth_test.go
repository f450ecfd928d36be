package auth

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestGenerateAndValidate(t *testing.T) {
	m, err := NewJWTManager(testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	token, err := m.GenerateToken("launcher", []string{RoleController})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Username != "launcher" || len(claims.Roles) != 1 || claims.Roles[0] != RoleController {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestValidateRejects(t *testing.T) {
	m, _ := NewJWTManager(testSecret, time.Hour)
	other, _ := NewJWTManager(strings.Repeat("x", 32), time.Hour)

	foreign, _ := other.GenerateToken("launcher", []string{RoleController})
	if _, err := m.ValidateToken(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token signed with another secret: %v", err)
	}

	expired, _ := NewJWTManager(testSecret, time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.GenerateToken("launcher", nil)
	if _, err := m.ValidateToken(old); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: %v", err)
	}

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Username: "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := m.ValidateToken(none); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("alg none token: %v", err)
	}

	if _, err := m.ValidateToken("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token: %v", err)
	}
}

func TestShortSecret(t *testing.T) {
	if _, err := NewJWTManager("short", time.Hour); !errors.Is(err, ErrShortSecret) {
		t.Errorf("NewJWTManager(short) = %v", err)
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		roles []string
		perm  string
		want  bool
	}{
		{[]string{RoleController}, PermissionRunCommand, true},
		{[]string{RoleViewer}, PermissionRunCommand, false},
		{[]string{RoleViewer}, PermissionViewRuns, true},
		{[]string{RoleViewer, RoleController}, PermissionControlQueue, true},
		{[]string{"admin"}, PermissionViewRuns, false},
		{nil, PermissionViewImages, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.roles, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%v, %s) = %v, want %v", tt.roles, tt.perm, got, tt.want)
		}
	}

	check := RequirePermission(PermissionEditRuns)
	if err := check(&Claims{Roles: []string{RoleViewer}}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("viewer editing runs: %v", err)
	}
	if err := check(nil); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("nil claims: %v", err)
	}
}

func TestWriteTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "token")
	if err := WriteTokenFile(path, "abc"); err != nil {
		t.Fatalf("WriteTokenFile failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
	data, _ := os.ReadFile(path)
	if string(data) != "abc\n" {
		t.Errorf("content = %q", data)
	}
}
