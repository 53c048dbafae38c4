package middlewares

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/yeremiapane/omnipay-gateway/services"
	"github.com/yeremiapane/omnipay-gateway/utils"
)

func TestMain(m *testing.M) {
	utils.InitLogger()
	utils.InfoLogger.SetLevel(logrus.PanicLevel)
	utils.SetJWTSecret("middleware-secret")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := utils.GenerateToken(subject, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestAuthAndRole(t *testing.T) {
	r := gin.New()
	merchant := r.Group("/merchant", AuthMiddleware(), RequireRole(utils.RoleMerchant))
	merchant.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("merchant_id"))
	})
	admin := r.Group("/admin", AuthMiddleware(), RequireRole(utils.RoleAdmin))
	admin.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	revoked := token(t, "mch_revoked", utils.RoleMerchant)
	utils.BlacklistToken(revoked, time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		path   string
		header string
		code   int
	}{
		{"merchant ok", "/merchant/me", "Bearer " + token(t, "mch_1", utils.RoleMerchant), http.StatusOK},
		{"missing header", "/merchant/me", "", http.StatusUnauthorized},
		{"no bearer prefix", "/merchant/me", token(t, "mch_1", utils.RoleMerchant), http.StatusUnauthorized},
		{"garbage", "/merchant/me", "Bearer abc", http.StatusUnauthorized},
		{"revoked", "/merchant/me", "Bearer " + revoked, http.StatusUnauthorized},
		{"admin on merchant route", "/merchant/me", "Bearer " + token(t, "ops", utils.RoleAdmin), http.StatusForbidden},
		{"merchant on admin route", "/admin/ping", "Bearer " + token(t, "mch_1", utils.RoleMerchant), http.StatusForbidden},
		{"admin ok", "/admin/ping", "Bearer " + token(t, "ops", utils.RoleAdmin), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			if tt.name == "merchant ok" {
				assert.Equal(t, "mch_1", w.Body.String())
			}
		})
	}
}

func TestWebSocketAuthMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/ws", WebSocketAuthMiddleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, tc := range []struct {
		query string
		code  int
	}{
		{"", http.StatusUnauthorized},
		{"?token=bad", http.StatusUnauthorized},
		{"?token=" + token(t, "mch_1", utils.RoleMerchant), http.StatusForbidden},
		{"?token=" + token(t, "ops", utils.RoleAdmin), http.StatusOK},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws"+tc.query, nil))
		assert.Equal(t, tc.code, w.Code, tc.query)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	metrics := services.NewMetrics()
	auth := services.NewWebhookAuthenticator(logger, metrics, services.DefaultWebhookSchemes("", "rzp-secret", "", 5*time.Minute)...)

	var handled [][]byte
	r := gin.New()
	r.POST("/webhooks/:provider", VerifyWebhookSignature(auth), func(c *gin.Context) {
		raw, _ := c.Get("raw_body")
		handled = append(handled, raw.([]byte))
		c.Status(http.StatusOK)
	})

	body := []byte(`{"event":"payment.captured"}`)
	send := func(provider string, payload []byte, sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, bytes.NewReader(payload))
		req.Header.Set("X-Razorpay-Signature", sig)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	sig := services.SignPayload("rzp-secret", "", body, services.EncodingHex)
	assert.Equal(t, http.StatusUnauthorized, send("razorpay", []byte(`{"event":"payment.failed"}`), sig))
	assert.Equal(t, http.StatusUnauthorized, send("cashfree", body, sig))
	assert.Empty(t, handled)

	assert.Equal(t, http.StatusOK, send("razorpay", body, sig))
	require.Len(t, handled, 1)
	assert.Equal(t, body, handled[0])
	assert.Equal(t, int64(2), metrics.GetMetrics().SignaturesRejected)
}

func TestRateLimiters(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	r := gin.New()
	r.GET("/a", rl.RateLimit(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/b", PaymentRateLimiter(0.001, 1), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/c", NewStrictRateLimiter(), func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}
	assert.Equal(t, http.StatusOK, hit("/a"))
	assert.Equal(t, http.StatusOK, hit("/a"))
	assert.Equal(t, http.StatusTooManyRequests, hit("/a"))

	assert.Equal(t, http.StatusOK, hit("/b"))
	assert.Equal(t, http.StatusTooManyRequests, hit("/b"))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, hit("/c"))
	}
	assert.Equal(t, http.StatusTooManyRequests, hit("/c"))
}

func TestIPLimiters_EvictIdleClients(t *testing.T) {
	l := newIPLimiters(rate.Every(12*time.Second), 5)
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		assert.True(t, l.allow("10.0.0.1"))
	}
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))
	assert.Equal(t, 2, l.size())

	// 10.0.0.1 keeps hammering and stays tracked; 10.0.0.2 goes quiet and is dropped.
	now = now.Add(30 * time.Second)
	l.allow("10.0.0.1")
	now = now.Add(40 * time.Second)
	l.allow("10.0.0.1")
	assert.Equal(t, 1, l.size())

	now = now.Add(2 * time.Minute)
	assert.True(t, l.allow("10.0.0.3"))
	assert.Equal(t, 1, l.size())
}

func TestRateLimiter_SweepsIdleIPs(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute)
	rl.ips["198.51.100.1"] = []time.Time{time.Now().Add(-2 * time.Minute)}
	rl.ips["198.51.100.2"] = []time.Time{time.Now()}

	r := gin.New()
	r.GET("/a", rl.RateLimit(), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/a", nil))
	require.Equal(t, http.StatusOK, w.Code)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.ips, "198.51.100.1")
	assert.Contains(t, rl.ips, "198.51.100.2")
	assert.Contains(t, rl.ips, "192.0.2.1", "httptest requests come from 192.0.2.1")
	assert.Len(t, rl.ips, 2)
}
