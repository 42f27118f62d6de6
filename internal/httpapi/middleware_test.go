package httpapi

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:4433"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("clientIP = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("clientIP with XFF = %q", got)
	}
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://app.example.com"}
	cases := map[string]bool{
		"http://localhost:4200":    true,
		"http://127.0.0.1:3000":    true,
		"https://app.example.com":  true,
		"https://evil.example.com": false,
		"http://localhost.evil":    false,
	}
	for origin, want := range cases {
		if got := originAllowed(origin, allowed); got != want {
			t.Fatalf("originAllowed(%q) = %v, want %v", origin, got, want)
		}
	}
}

func TestIPLimiterBurstThenDeny(t *testing.T) {
	l := newIPLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !l.allow("198.51.100.1") {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	if l.allow("198.51.100.1") {
		t.Fatal("request beyond burst allowed")
	}
	// Other clients have their own bucket.
	if !l.allow("198.51.100.2") {
		t.Fatal("separate client denied")
	}
}
