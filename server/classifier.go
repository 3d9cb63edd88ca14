package main

import "strings"

// Category is a coarse traffic class with its own threshold configuration.
type Category string

const (
	CategoryAuth    Category = "auth"
	CategoryAdmin   Category = "admin"
	CategoryPartner Category = "partner"
	CategoryPublic  Category = "public"
)

// Path fragments checked in order. Auth wins over admin so that
// /api/admin/auth/login is throttled with the tight auth limits.
var (
	authFragments    = []string{"/auth", "/login", "/register", "/otp", "/password"}
	adminFragments   = []string{"/admin"}
	partnerFragments = []string{"/driver", "/restaurant", "/shop", "/partner"}
)

// classify maps a request path to its traffic category. Total: every path
// maps to exactly one category, defaulting to public.
func classify(path string) Category {
	p := strings.ToLower(path)
	switch {
	case containsAny(p, authFragments):
		return CategoryAuth
	case containsAny(p, adminFragments):
		return CategoryAdmin
	case containsAny(p, partnerFragments):
		return CategoryPartner
	default:
		return CategoryPublic
	}
}

func containsAny(path string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(path, f) {
			return true
		}
	}
	return false
}
