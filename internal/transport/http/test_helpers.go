package http

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dwellchat/dwellchat-server/internal/auth"
	"github.com/dwellchat/dwellchat-server/internal/config"
	"github.com/dwellchat/dwellchat-server/internal/core"
	"github.com/dwellchat/dwellchat-server/internal/log"
	"github.com/dwellchat/dwellchat-server/internal/store"
	"github.com/dwellchat/dwellchat-server/internal/store/sqlite"
)

func testJWTConfig() *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}
}

// tokenFor issues a credential the way the platform's auth service would.
func tokenFor(t *testing.T, userID string) string {
	t.Helper()

	token, err := auth.GenerateToken(testJWTConfig(), userID, userID, "resident")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

// startTestServer boots the full transport stack against an in-memory store.
func startTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := log.Nop()
	hub := core.NewHub(st, logger, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	verifier := auth.NewJWTVerifier(testJWTConfig())
	server := NewServer(hub, st, verifier, config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
		EventBuffer:       32,
	}, logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts, st
}
