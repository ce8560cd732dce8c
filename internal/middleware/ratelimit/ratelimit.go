package ratelimit

import (
	"net/http"
	"time"

	httprate "github.com/go-chi/httprate"
)

func Login() func(http.Handler) http.Handler {
	return limitByIP(10, 5*time.Minute)
}

func Register() func(http.Handler) http.Handler {
	return limitByIP(5, time.Hour)
}

func Logout() func(http.Handler) http.Handler {
	return limitByIP(20, 10*time.Minute)
}

// CreateCode limits code minting per client, on top of the one-active-code rule.
func CreateCode() func(http.Handler) http.Handler {
	return limitByIP(10, 10*time.Minute)
}

// LookupByEmail slows down enumeration of owners through the public lookup.
func LookupByEmail() func(http.Handler) http.Handler {
	return limitByIP(30, time.Minute)
}

func limitByIP(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(limit, window, httprate.WithKeyFuncs(httprate.KeyByIP))
}
