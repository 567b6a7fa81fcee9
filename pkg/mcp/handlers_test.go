package mcp

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenizerd/pkg/cache"
	"tokenizerd/pkg/config"
	"tokenizerd/pkg/encoder"
	"tokenizerd/pkg/registry"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	appCfg := &config.AppConfig{}
	_, err := appCfg.Validate()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	memCache, err := cache.NewMemoryCache(128)
	require.NoError(t, err)
	t.Cleanup(memCache.Close)

	reg := registry.NewRegistry(encoder.NewTiktokenResolver(), memCache, nil, logger)

	srv, err := NewServer(&ServerConfig{
		AppConfig: appCfg,
		Transport: config.TransportStdio,
		Registry:  reg,
		Cache:     memCache,
		Logger:    logger,
	})
	require.NoError(t, err)
	return srv
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultJSON decodes a tool's text payload into a map.
func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.False(t, res.IsError, "expected a successful tool result")
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &decoded))
	return decoded
}

func TestHandleInitializeTokenizer(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	t.Run("valid scheme", func(t *testing.T) {
		res, err := srv.handleInitializeTokenizer(ctx, callRequest(map[string]any{"scheme": "cl100k_base"}))
		require.NoError(t, err)

		payload := resultJSON(t, res)
		assert.Equal(t, float64(0), payload["status"])
		assert.Equal(t, "ready", payload["state"])
		assert.Equal(t, "cl100k_base", payload["scheme"])
		assert.Equal(t, "gpt-3.5-turbo", payload["model"])
	})

	t.Run("unknown scheme keeps prior state", func(t *testing.T) {
		res, err := srv.handleInitializeTokenizer(ctx, callRequest(map[string]any{"scheme": "base64"}))
		require.NoError(t, err)

		payload := resultJSON(t, res)
		assert.Equal(t, float64(-2), payload["status"])
		assert.Equal(t, "ready", payload["state"]) // cl100k_base stays installed
		assert.Contains(t, payload["error"], "base64")
	})

	t.Run("absent scheme reports null input", func(t *testing.T) {
		res, err := srv.handleInitializeTokenizer(ctx, callRequest(nil))
		require.NoError(t, err)

		payload := resultJSON(t, res)
		assert.Equal(t, float64(-1), payload["status"])
	})

	t.Run("non-string scheme is a protocol error", func(t *testing.T) {
		res, err := srv.handleInitializeTokenizer(ctx, callRequest(map[string]any{"scheme": 42}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})
}

func TestHandleCountTokens(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	t.Run("empty registry counts zero", func(t *testing.T) {
		res, err := srv.handleCountTokens(ctx, callRequest(map[string]any{"text": "hello world"}))
		require.NoError(t, err)

		payload := resultJSON(t, res)
		assert.Equal(t, float64(0), payload["count"])
		assert.Equal(t, "empty", payload["state"])
	})

	t.Run("known segmentation", func(t *testing.T) {
		_, err := srv.handleInitializeTokenizer(ctx, callRequest(map[string]any{"scheme": "cl100k_base"}))
		require.NoError(t, err)

		res, err := srv.handleCountTokens(ctx, callRequest(map[string]any{"text": "hello world"}))
		require.NoError(t, err)

		payload := resultJSON(t, res)
		assert.Equal(t, float64(2), payload["count"])
		assert.Equal(t, "ready", payload["state"])
		assert.Equal(t, "cl100k_base", payload["scheme"])
	})

	t.Run("absent text counts zero", func(t *testing.T) {
		res, err := srv.handleCountTokens(ctx, callRequest(nil))
		require.NoError(t, err)

		payload := resultJSON(t, res)
		assert.Equal(t, float64(0), payload["count"])
		assert.Equal(t, "ready", payload["state"])
	})

	t.Run("oversized text is rejected", func(t *testing.T) {
		small := newTestServer(t)
		small.cfg.AppConfig.Server.MaxTextBytes = 8

		res, err := small.handleCountTokens(ctx, callRequest(map[string]any{"text": "this text is too long"}))
		require.NoError(t, err)
		require.True(t, res.IsError)

		tc, ok := res.Content[0].(mcp.TextContent)
		require.True(t, ok)
		assert.Contains(t, tc.Text, "size limit")
	})
}

func TestHandleResetTokenizer(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := srv.handleInitializeTokenizer(ctx, callRequest(map[string]any{"scheme": "p50k_base"}))
	require.NoError(t, err)

	res, err := srv.handleResetTokenizer(ctx, callRequest(nil))
	require.NoError(t, err)
	payload := resultJSON(t, res)
	assert.Equal(t, "empty", payload["state"])

	// Idempotent
	res, err = srv.handleResetTokenizer(ctx, callRequest(nil))
	require.NoError(t, err)
	payload = resultJSON(t, res)
	assert.Equal(t, "empty", payload["state"])
}

func TestHandleGetStatus(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	t.Run("empty registry", func(t *testing.T) {
		res, err := srv.handleGetStatus(ctx, callRequest(nil))
		require.NoError(t, err)

		payload := resultJSON(t, res)
		assert.Equal(t, serverName, payload["server"])
		assert.Equal(t, serverVersion, payload["version"])
		assert.Equal(t, "empty", payload["state"])
		assert.NotContains(t, payload, "scheme")

		cacheInfo, ok := payload["cache"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, config.CacheBackendMemory, cacheInfo["backend"])
		assert.Contains(t, cacheInfo, "hits")
		assert.Contains(t, cacheInfo, "misses")

		limits, ok := payload["limits"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(1<<20), limits["max_text_bytes"])
	})

	t.Run("active scheme reported", func(t *testing.T) {
		_, err := srv.handleInitializeTokenizer(ctx, callRequest(map[string]any{"scheme": "o200k_base"}))
		require.NoError(t, err)

		res, err := srv.handleGetStatus(ctx, callRequest(nil))
		require.NoError(t, err)

		payload := resultJSON(t, res)
		assert.Equal(t, "ready", payload["state"])
		assert.Equal(t, "o200k_base", payload["scheme"])
		assert.Equal(t, "gpt-4o", payload["model"])
	})
}

func TestHandleListSchemes(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	res, err := srv.handleListSchemes(ctx, callRequest(nil))
	require.NoError(t, err)

	payload := resultJSON(t, res)
	assert.Equal(t, float64(5), payload["total_schemes"])

	schemes, ok := payload["schemes"].([]interface{})
	require.True(t, ok)
	require.Len(t, schemes, 5)

	names := make([]string, 0, len(schemes))
	for _, raw := range schemes {
		info, ok := raw.(map[string]interface{})
		require.True(t, ok)
		assert.NotEmpty(t, info["model"])
		names = append(names, info["name"].(string))
	}
	assert.ElementsMatch(t, []string{"o200k_base", "cl100k_base", "p50k_base", "p50k_edit", "r50k_base"}, names)

	// Active flag follows initialization
	_, err = srv.handleInitializeTokenizer(ctx, callRequest(map[string]any{"scheme": "r50k_base"}))
	require.NoError(t, err)

	res, err = srv.handleListSchemes(ctx, callRequest(nil))
	require.NoError(t, err)
	payload = resultJSON(t, res)
	for _, raw := range payload["schemes"].([]interface{}) {
		info := raw.(map[string]interface{})
		if info["name"] == "r50k_base" {
			assert.Equal(t, true, info["active"])
		} else {
			assert.NotContains(t, info, "active")
		}
	}
}

func TestHandleChunkText(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	markdown := "# Title\n\nFirst paragraph with some words.\n\n## Section\n\nSecond paragraph with more words to split.\n"

	t.Run("missing text is a protocol error", func(t *testing.T) {
		res, err := srv.handleChunkText(ctx, callRequest(nil))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("rune fallback before initialization", func(t *testing.T) {
		res, err := srv.handleChunkText(ctx, callRequest(map[string]any{"text": markdown}))
		require.NoError(t, err)

		payload := resultJSON(t, res)
		assert.Equal(t, "runes", payload["measure"])
		assert.Greater(t, payload["total_chunks"], float64(0))
	})

	t.Run("token measure with active scheme", func(t *testing.T) {
		_, err := srv.handleInitializeTokenizer(ctx, callRequest(map[string]any{"scheme": "cl100k_base"}))
		require.NoError(t, err)

		res, err := srv.handleChunkText(ctx, callRequest(map[string]any{
			"text":       markdown,
			"max_tokens": float64(10),
			"overlap":    float64(2),
		}))
		require.NoError(t, err)

		payload := resultJSON(t, res)
		assert.Equal(t, "cl100k_base", payload["measure"])
		assert.Greater(t, payload["total_chunks"], float64(1))

		chunks, ok := payload["chunks"].([]interface{})
		require.True(t, ok)
		for _, raw := range chunks {
			info, ok := raw.(map[string]interface{})
			require.True(t, ok)
			assert.NotEmpty(t, info["content"])
			assert.Greater(t, info["token_count"], float64(0))
		}
	})
}
