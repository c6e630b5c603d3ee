package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimitMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.Use(RateLimit(NewClientLimiter(5)))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: Expected status 200, got %d", i+1, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
}

func TestRateLimitDifferentClients(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(NewClientLimiter(2)))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "10.0.0.1:1000"
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "10.0.0.2:1000"
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Different client should not be rate limited, got %d", w.Code)
	}
}

func TestClientLimiterReserve(t *testing.T) {
	l := NewClientLimiter(60) // one per second after the burst

	for i := 0; i < 60; i++ {
		if wait := l.Reserve("a"); wait != 0 {
			t.Fatalf("Request %d: expected no wait, got %v", i+1, wait)
		}
	}
	wait := l.Reserve("a")
	if wait <= 0 || wait > time.Second {
		t.Errorf("Expected a wait of at most one second, got %v", wait)
	}
	// a rejected request does not consume a token
	if again := l.Reserve("a"); again > wait+10*time.Millisecond {
		t.Errorf("Expected rejected reservations to be cancelled, wait grew to %v", again)
	}
	if l.Clients() != 1 {
		t.Errorf("Expected 1 client, got %d", l.Clients())
	}
}

func TestClientLimiterEvictsIdleClients(t *testing.T) {
	l := NewClientLimiter(10)
	l.Reserve("old")

	l.mu.Lock()
	l.clients["old"].lastSeen = time.Now().Add(-time.Hour)
	l.lastSweep = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	l.Reserve("new")
	if l.Clients() != 1 {
		t.Errorf("Expected idle client to be evicted, got %d clients", l.Clients())
	}
}
