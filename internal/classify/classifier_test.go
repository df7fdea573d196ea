package classify

import "testing"

func TestClassify(t *testing.T) {
	c := New()

	tests := []struct {
		message   string
		category  Category
		retryable bool
	}{
		{"HTTP Error 429: Too Many Requests", CategoryRateLimit, true},
		{"project rate limit exceeded", CategoryRateLimit, true},
		{"Sign in to confirm you're not a bot", CategoryCaptchaRequired, true},
		{"ERROR: Video unavailable", CategoryContentUnavailable, false},
		{"This video is private video", CategoryContentUnavailable, false},
		{"The uploader has not made this video available in your country", CategoryGeoBlocked, true},
		{"Cookies are no longer valid, please log in again", CategoryAuthentication, true},
		{"HTTP Error 403: Forbidden", CategoryAuthentication, true},
		{"Requested format is not available", CategoryFormatUnavailable, true},
		{"Unable to connect to proxy", CategoryProxyError, true},
		{"Read operation timed out", CategoryTimeout, true},
		{"Connection reset by peer", CategoryNetwork, true},
		{"No space left on device", CategorySystemError, false},
		{"something entirely novel happened", CategoryUnknown, true},
	}

	for _, tt := range tests {
		got := c.Classify(Failure{Message: tt.message})
		if got.Category != tt.category {
			t.Errorf("Classify(%q).Category = %s, want %s", tt.message, got.Category, tt.category)
		}
		if got.Retryable != tt.retryable {
			t.Errorf("Classify(%q).Retryable = %v, want %v", tt.message, got.Retryable, tt.retryable)
		}
	}
}

// Specific patterns must win over the generic network bucket even when both
// would match; table order is a contract, not an accident.
func TestClassifyOrderSpecificBeforeGeneric(t *testing.T) {
	c := New()

	got := c.Classify(Failure{Message: "unable to download: HTTP Error 429: Too Many Requests"})
	if got.Category != CategoryRateLimit {
		t.Fatalf("rate limit shadowed by network rule: got %s", got.Category)
	}

	got = c.Classify(Failure{Message: "tunnel connection failed: connection reset by peer"})
	if got.Category != CategoryProxyError {
		t.Fatalf("proxy error shadowed by network rule: got %s", got.Category)
	}
}

func TestClassifyContentUnavailableNeverRetryable(t *testing.T) {
	c := New()
	for _, msg := range []string{
		"Video unavailable",
		"ERROR: [youtube] abc: Video unavailable. This content is not available",
		"HTTP Error 404 Not Found",
	} {
		if got := c.Classify(Failure{Message: msg}); got.Retryable {
			t.Errorf("Classify(%q) retryable, want permanent", msg)
		}
	}
}

func TestClassifySignalExit(t *testing.T) {
	c := New()
	got := c.Classify(Failure{Message: "", ExitCode: 137})
	if got.Category != CategorySystemError {
		t.Fatalf("exit 137 = %s, want SYSTEM_ERROR", got.Category)
	}
	if !got.Retryable {
		t.Fatal("signal exit without diagnostics should stay retryable")
	}
}

func TestClassifyRecommendedActions(t *testing.T) {
	c := New()

	cl := c.Classify(Failure{Message: "429 too many requests"})
	if !cl.RequiresResourceSwap() {
		t.Error("rate limit should recommend a resource swap")
	}

	cl = c.Classify(Failure{Message: "cookies are no longer valid"})
	if !cl.RequiresCredentialRefresh() {
		t.Error("auth failure should recommend a credential refresh")
	}

	cl = c.Classify(Failure{Message: "please solve the captcha to continue"})
	if !cl.RequiresChallengeSolving() {
		t.Error("captcha failure should recommend challenge solving")
	}
	if cl.Severity != SeverityCritical {
		t.Errorf("captcha severity = %s, want critical", cl.Severity)
	}
}
