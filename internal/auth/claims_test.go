package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-32chars"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("panel-hallway", RoleOperator, testSecret, "gray-logic", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret, "gray-logic")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "panel-hallway" {
		t.Errorf("Subject = %q, want panel-hallway", claims.Subject)
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want operator", claims.Role)
	}
	if claims.ID == "" {
		t.Error("JTI should not be empty")
	}
	if d := time.Until(claims.ExpiresAt.Time); d < 59*time.Minute || d > time.Hour {
		t.Errorf("expiry in %v, want about 1h", d)
	}
}

func TestGenerateToken_Validation(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		role    Role
		secret  string
		wantErr error
	}{
		{"no secret", "svc", RoleViewer, "", ErrNoSecret},
		{"no subject", "", RoleViewer, testSecret, ErrTokenInvalid},
		{"unknown role", "svc", Role("owner"), testSecret, ErrUnknownRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenerateToken(tt.subject, tt.role, tt.secret, "", time.Hour)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GenerateToken() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken("svc", RoleViewer, testSecret, "", 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret, "")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	diff := claims.ExpiresAt.Time.Sub(time.Now().Add(DefaultTTL))
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL off by %v", diff)
	}
}

// signRaw signs arbitrary claims so malformed tokens can be tested.
func signRaw(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return s
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := GenerateToken("svc", RoleAdmin, testSecret, "gray-logic", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	now := time.Now()
	expired := signRaw(t, jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "svc",
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
		},
		Role: RoleAdmin,
	}, []byte(testSecret))

	noExpiry := signRaw(t, jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "svc"},
		Role:             RoleAdmin,
	}, []byte(testSecret))

	badRole := signRaw(t, jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "svc",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Role: Role("owner"),
	}, []byte(testSecret))

	noSubject := signRaw(t, jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
		Role:             RoleViewer,
	}, []byte(testSecret))

	hs512 := signRaw(t, jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "svc",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Role: RoleAdmin,
	}, []byte(testSecret))

	tests := []struct {
		name   string
		token  string
		secret string
		issuer string
	}{
		{"empty", "", testSecret, ""},
		{"garbage", "not-a-valid-jwt", testSecret, ""},
		{"two segments", "abc.def", testSecret, ""},
		{"wrong secret", valid, "another-secret-that-is-long-enough", ""},
		{"wrong issuer", valid, testSecret, "someone-else"},
		{"expired", expired, testSecret, ""},
		{"no expiry", noExpiry, testSecret, ""},
		{"unknown role", badRole, testSecret, ""},
		{"missing subject", noSubject, testSecret, ""},
		{"other algorithm", hs512, testSecret, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret, tt.issuer)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
