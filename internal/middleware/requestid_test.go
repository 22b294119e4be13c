package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newRequestIDRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		id, _ := c.Get(RequestIDKey)
		c.String(http.StatusOK, "%v", id)
	})
	return router
}

func TestRequestID_GeneratedWhenAbsent(t *testing.T) {
	router := newRequestIDRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	header := w.Header().Get(RequestIDHeader)
	if header == "" {
		t.Fatal("X-Request-ID header not set")
	}
	if _, err := uuid.Parse(header); err != nil {
		t.Errorf("generated request id %q is not a UUID: %v", header, err)
	}
	if w.Body.String() != header {
		t.Errorf("context value %q differs from header %q", w.Body.String(), header)
	}
}

func TestRequestID_InboundValueReused(t *testing.T) {
	router := newRequestIDRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id-123")
	router.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "upstream-id-123" {
		t.Errorf("X-Request-ID = %q, want upstream value reused", got)
	}
}
