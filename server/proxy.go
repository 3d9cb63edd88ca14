package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// newUpstreamProxy forwards admitted requests to the platform API. When no
// upstream is configured the gateway answers 204 so it can run standalone in
// tests and staging.
func newUpstreamProxy(upstream string, logger zerolog.Logger) (gin.HandlerFunc, error) {
	if upstream == "" {
		return func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		}, nil
	}

	target, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("upstream proxy error")
		w.WriteHeader(http.StatusBadGateway)
	}

	return func(c *gin.Context) {
		proxy.ServeHTTP(c.Writer, c.Request)
	}, nil
}
