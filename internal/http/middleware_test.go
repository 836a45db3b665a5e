package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/echolog/echolog-server/internal/apperr"
	"github.com/echolog/echolog-server/internal/db"
	"github.com/echolog/echolog-server/internal/metrics"
	"github.com/echolog/echolog-server/internal/models"
	"github.com/echolog/echolog-server/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testSecret = "test-secret"

func runRequestWithMiddleware(t *testing.T, middleware gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware)
	router.Any("/*path", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": UserID(c)})
	})

	responseRecorder := httptest.NewRecorder()
	router.ServeHTTP(responseRecorder, req)
	return responseRecorder
}

func TestUserAuthMiddleware(t *testing.T) {
	conn, errOpen := db.OpenMemory()
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	active := models.User{Email: "a@example.com", Password: "x", Active: true}
	disabled := models.User{Email: "b@example.com", Password: "x", Active: true}
	if errCreate := conn.Create(&active).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	if errCreate := conn.Create(&disabled).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	if errUpdate := conn.Model(&disabled).Update("active", false).Error; errUpdate != nil {
		t.Fatalf("disable user: %v", errUpdate)
	}

	token := func(id uint64, expiry time.Duration) string {
		signed, errSign := security.GenerateToken(testSecret, id, "", "", expiry)
		if errSign != nil {
			t.Fatalf("sign: %v", errSign)
		}
		return signed
	}

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Token abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"expired", "Bearer " + token(active.ID, -time.Minute), http.StatusUnauthorized},
		{"unknown user", "Bearer " + token(999, time.Hour), http.StatusUnauthorized},
		{"disabled user", "Bearer " + token(disabled.ID, time.Hour), http.StatusUnauthorized},
		{"valid", "Bearer " + token(active.ID, time.Hour), http.StatusOK},
	}
	middleware := UserAuthMiddleware(conn, testSecret)
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/dashboard/stats", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := runRequestWithMiddleware(t, middleware, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	middleware := CORSMiddleware([]string{"http://localhost:3000/"})

	preflight := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	preflight.Header.Set("Origin", "http://localhost:3000")
	rec := runRequestWithMiddleware(t, middleware, preflight)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected allowed origin echoed, got %q", got)
	}

	foreign := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	foreign.Header.Set("Origin", "https://evil.example.com")
	rec = runRequestWithMiddleware(t, middleware, foreign)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected foreign preflight 403, got %d", rec.Code)
	}

	plain := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = runRequestWithMiddleware(t, middleware, plain)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected untouched same-origin request, got %d", rec.Code)
	}
}

func TestRequestLogMiddlewareRecordsRouteTemplate(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogMiddleware(m))
	router.GET("/analyze/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, id := range []string{"1", "2"} {
		req := httptest.NewRequest(http.MethodGet, "/analyze/"+id+"?token=secret", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/analyze/:id", "204")); got != 2 {
		t.Fatalf("expected 2 requests on route template, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Fatalf("expected 1 unmatched request, got %v", got)
	}
}

func TestRespondErrorEnvelope(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
		details string
	}{
		{apperr.Validation("text is required"), http.StatusBadRequest, "text is required", ""},
		{apperr.NotFound("analysis"), http.StatusNotFound, "", ""},
		{apperr.External("speech", "submit", errors.New("quota exceeded")), http.StatusInternalServerError, "speech submit failed", "quota exceeded"},
		{errors.New("boom"), http.StatusInternalServerError, "internal server error", ""},
	}
	gin.SetMode(gin.TestMode)
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		RespondError(c, tc.err)

		if rec.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, rec.Code)
		}
		body := rec.Body.String()
		if tc.message != "" && !strings.Contains(body, `"error":"`+tc.message+`"`) {
			t.Fatalf("%v: expected message %q, got %s", tc.err, tc.message, body)
		}
		if tc.details == "" && strings.Contains(body, "details") {
			t.Fatalf("%v: expected no details, got %s", tc.err, body)
		}
		if tc.details != "" && !strings.Contains(body, tc.details) {
			t.Fatalf("%v: expected details %q, got %s", tc.err, tc.details, body)
		}
	}
}
