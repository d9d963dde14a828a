package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"card_shop/internal/security"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter() *gin.Engine {
	r := gin.New()
	r.GET("/me", OptionalUser("jwt-secret"), func(c *gin.Context) {
		if claims, ok := CurrentUser(c); ok {
			c.String(http.StatusOK, claims.UserID)
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	return r
}

func TestOptionalUser(t *testing.T) {
	r := newAuthRouter()
	token, err := security.GenerateToken("jwt-secret", "u1", "alice", time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"anonymous", "", http.StatusOK, "anonymous"},
		{"valid token", "Bearer " + token, http.StatusOK, "u1"},
		{"bad scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
			if tc.body != "" && w.Body.String() != tc.body {
				t.Fatalf("expected body %q, got %q", tc.body, w.Body.String())
			}
		})
	}
}

func TestAdminToken(t *testing.T) {
	r := gin.New()
	r.POST("/admin", AdminToken("root-token"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodPost, "/admin", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin", nil)
	req.Header.Set("X-Admin-Token", "root-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with token, got %d", w.Code)
	}
}

func TestRateLimitSubjectKeepsBody(t *testing.T) {
	body := `{"email":"Buyer@Example.com","quantity":1}`
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(body))

	if got := rateLimitSubject(c); got != "email:buyer@example.com" {
		t.Fatalf("expected email subject, got %s", got)
	}
	rest, _ := io.ReadAll(c.Request.Body)
	if string(rest) != body {
		t.Fatalf("expected body to be readable again, got %q", rest)
	}

	c.Set(userClaimsKey, &security.UserClaims{UserID: "u9"})
	if got := rateLimitSubject(c); got != "user:u9" {
		t.Fatalf("expected user subject, got %s", got)
	}
}

func TestRateLimitWithoutRedisPassesThrough(t *testing.T) {
	r := gin.New()
	r.POST("/api/orders", RedisRateLimit(nil, "orders", 1, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/orders", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected fail-open 200, got %d", w.Code)
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[int64]int{-5: 1, 0: 1, 1: 1, 999: 1, 1000: 1, 1001: 2, 59999: 60}
	for in, want := range cases {
		if got := retryAfterSeconds(in); got != want {
			t.Fatalf("retryAfterSeconds(%d): expected %d, got %d", in, want, got)
		}
	}
}
