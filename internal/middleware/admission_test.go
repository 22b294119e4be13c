package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/ahwei/Climate-Tokenization-Engine/internal/identity"
)

// newGatedRouter builds a router with a single gated probe route.
func newGatedRouter(store *identity.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/probe", AdmissionGate(store), func(c *gin.Context) {
		c.String(http.StatusOK, "passed")
	})
	return router
}

func TestAdmissionGate_BlocksWhileDisconnected(t *testing.T) {
	store := identity.NewStore(identity.Identity{}, nil)
	router := newGatedRouter(store)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["message"] != AdmissionMessage {
		t.Errorf("message = %q, want %q", body["message"], AdmissionMessage)
	}
}

func TestAdmissionGate_PassesThroughWhenConnected(t *testing.T) {
	store := identity.NewStore(identity.Identity{HomeOrg: "org-1"}, nil)
	router := newGatedRouter(store)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "passed" {
		t.Errorf("body = %q, want %q", w.Body.String(), "passed")
	}
}

func TestAdmissionGate_OpensAfterMerge(t *testing.T) {
	store := identity.NewStore(identity.Identity{}, nil)
	router := newGatedRouter(store)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status before connect = %d, want 400", w.Code)
	}

	org := "org-1"
	store.Merge(identity.Partial{HomeOrg: &org})

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status after connect = %d, want 200", w.Code)
	}
}
