package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// closeNotifyRecorder adds CloseNotify so httputil.ReverseProxy (which still
// uses http.CloseNotifier on Go 1.21) can be exercised against a recorder.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (closeNotifyRecorder) CloseNotify() <-chan bool { return make(chan bool) }

func TestUpstreamProxyForwardsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "platform")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer upstream.Close()

	handler, err := newUpstreamProxy(upstream.URL, zerolog.Nop())
	require.NoError(t, err)

	r := gin.New()
	r.Any("/api/*path", handler)

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(closeNotifyRecorder{resp}, req)

	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Equal(t, "platform", resp.Header().Get("X-Upstream"))
}

func TestUpstreamProxyStandaloneMode(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler, err := newUpstreamProxy("", zerolog.Nop())
	require.NoError(t, err)

	r := gin.New()
	r.Any("/api/*path", handler)

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusNoContent, resp.Code)
}
