package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func mustHash(t *testing.T, tok string) string {
	t.Helper()
	h, err := HashToken(tok, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}

func TestGenerateTokenIsRandom(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, _ := GenerateToken()
	if a == b || len(a) < 40 {
		t.Fatalf("weak tokens: %q %q", a, b)
	}
}

func TestHashTokenRejectsEmpty(t *testing.T) {
	if _, err := HashToken("", 0); err != ErrEmptyToken {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
}

func TestVerifier(t *testing.T) {
	v := NewVerifier(mustHash(t, "s3cret"))
	if !v.Enabled() {
		t.Fatalf("expected enabled")
	}
	if !v.Verify("s3cret") || !v.Verify("s3cret") {
		t.Fatalf("valid token rejected")
	}
	if v.Verify("nope") || v.Verify("") {
		t.Fatalf("invalid token accepted")
	}

	var disabled *Verifier
	if disabled.Enabled() || !NewVerifier("").Verify("anything") {
		t.Fatalf("empty hash must disable checks")
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer abc")
	if got := TokenFromRequest(r); got != "abc" {
		t.Fatalf("bearer: %q", got)
	}
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderToken, "xyz")
	if got := TokenFromRequest(r); got != "xyz" {
		t.Fatalf("header: %q", got)
	}
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("u", "p")
	if got := TokenFromRequest(r); got != "" {
		t.Fatalf("basic auth is not a token: %q", got)
	}
}

func TestGinAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.Use(NewVerifier(mustHash(t, "tok")).GinAuth())
	g.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"Bearer tok", http.StatusOK},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Fatalf("header %q: got %d want %d", c.header, rec.Code, c.want)
		}
	}
}
