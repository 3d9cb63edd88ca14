package main

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const identityContextKey = "gatekeep_identity"

// IdentityKind distinguishes how a caller was identified.
type IdentityKind string

const (
	IdentityUser IdentityKind = identifierTypeUser
	IdentityIP   IdentityKind = identifierTypeIP
)

// Identity is the typed caller key used for rate tracking: an authenticated
// user id when the auth collaborator supplied one, otherwise a source IP.
type Identity struct {
	Kind  IdentityKind
	Value string
}

func setIdentity(c *gin.Context, id Identity) {
	c.Set(identityContextKey, id)
}

// authenticate trusts the user header injected by the upstream auth service.
// Token validation itself is that collaborator's concern.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := s.configs.Get().Server.UserHeader; header != "" {
			if userID := strings.TrimSpace(c.GetHeader(header)); userID != "" {
				setIdentity(c, Identity{Kind: IdentityUser, Value: userID})
			}
		}
		c.Next()
	}
}

func (s *Server) resolveIdentity(c *gin.Context) Identity {
	if value, ok := c.Get(identityContextKey); ok {
		if id, ok := value.(Identity); ok && id.Value != "" {
			return id
		}
	}
	if ip := clientIP(c, s.configs.Get().Server.TrustForwardedFor); ip != "" {
		return Identity{Kind: IdentityIP, Value: ip}
	}
	return Identity{Kind: IdentityIP, Value: "unknown"}
}

// clientIP returns the first IP of the forwarded-for chain when trusted,
// falling back to the connection's remote address.
func clientIP(c *gin.Context, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
			if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(c.Request.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(c.Request.RemoteAddr)
}

// rateLimit is the admission decision for every inbound API request:
// durable block check first, then the in-memory window counter, creating a
// new block on a threshold breach. Store failures are surfaced as 5xx rather
// than letting traffic through unchecked.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := s.now()
		path := c.Request.URL.Path
		category := classify(path)
		limit := s.configs.Get().LimitFor(string(category))
		identity := s.resolveIdentity(c)
		ctx := c.Request.Context()

		active, err := s.blocks.FindActiveBlock(ctx, identity.Value, now)
		if err != nil {
			s.logStoreFailure(c, err, identity, category)
			respondError(c, http.StatusInternalServerError, "admission check failed", s.logger)
			return
		}
		if active != nil {
			retryAfter := int(math.Ceil(active.BlockedUntil.Sub(now).Seconds()))
			respondBlocked(c, "Too many requests",
				fmt.Sprintf("You are temporarily blocked. Try again in %d seconds.", retryAfter),
				active.BlockedUntil, retryAfter)
			return
		}

		result := s.counter.checkAndIncrement(identity.Value, category, limit, now)
		if result.allowed {
			windowEnd := result.windowStart.Add(time.Duration(limit.WindowMs) * time.Millisecond)
			c.Header("X-RateLimit-Limit", strconv.Itoa(limit.MaxRequests))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, limit.MaxRequests-result.count)))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(windowEnd.Unix(), 10))
			c.Next()
			return
		}

		record, err := s.blocks.CreateBlock(ctx, identity.Value, string(identity.Kind), category,
			result.count, limit.MaxRequests, limit.BlockDurationMinutes, blockContext{
				Path:        path,
				IPAddress:   clientIP(c, s.configs.Get().Server.TrustForwardedFor),
				UserAgent:   c.Request.UserAgent(),
				CountryCode: c.GetHeader("X-Country-Code"),
			}, now)
		if err != nil {
			s.logStoreFailure(c, err, identity, category)
			respondError(c, http.StatusInternalServerError, "admission check failed", s.logger)
			return
		}

		// The counter entry is spent: drop it so the caller starts a fresh
		// window once the block expires or an admin lifts it.
		s.counter.forget(identity.Value, category)

		s.logger.Warn().
			Str("identifier", identity.Value).
			Str("identifier_type", string(identity.Kind)).
			Str("category", string(category)).
			Int("request_count", record.RequestCount).
			Int("limit", record.LimitThreshold).
			Time("blocked_until", record.BlockedUntil).
			Msg("rate limit exceeded, caller blocked")

		respondBlocked(c, "Rate limit exceeded",
			fmt.Sprintf("Too many %s requests. You are blocked for %d minutes.", category, limit.BlockDurationMinutes),
			record.BlockedUntil, limit.BlockDurationMinutes*60)
	}
}

// logStoreFailure logs a block-store error with enough context to act on,
// paced so a store outage cannot flood the log. Request bodies are never
// logged here.
func (s *Server) logStoreFailure(c *gin.Context, err error, identity Identity, category Category) {
	if !s.storeLogLimit.Allow() {
		return
	}
	reqLogger := requestLogger(c, s.logger)
	reqLogger.Error().
		Err(err).
		Str("identifier", identity.Value).
		Str("category", string(category)).
		Msg("block store failure")
}

func respondBlocked(c *gin.Context, errText, message string, blockedUntil time.Time, retryAfter int) {
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":        errText,
		"message":      message,
		"blockedUntil": blockedUntil.UTC().Format(time.RFC3339),
		"retryAfter":   retryAfter,
	})
}
