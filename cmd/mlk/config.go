package main

import "os"

// Build-time variables - inject via ldflags
// Example: go build -ldflags "-X main.captchaAPIKey=YOUR_KEY"
var (
	captchaAPIKey string // -X main.captchaAPIKey=...
)

// GetCaptchaAPIKey returns the solver API key (build-time or env fallback).
func GetCaptchaAPIKey() string {
	if captchaAPIKey != "" {
		return captchaAPIKey
	}
	return os.Getenv("ANTICAPTCHA_KEY")
}

// envOr returns the environment value of key, or def when unset.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
