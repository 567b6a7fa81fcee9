package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"tokenizerd/pkg/chunk"
	"tokenizerd/pkg/encoder"
	"tokenizerd/pkg/registry"
	"tokenizerd/pkg/utils"
)

// cacheStatser is implemented by cache backends that track hit rates.
type cacheStatser interface {
	Stats() (hits, misses uint64)
}

// cacheSizer is implemented by cache backends that can report entry counts.
type cacheSizer interface {
	EntryCount() int64
}

// handleInitializeTokenizer handles the initialize_tokenizer tool
func (s *Server) handleInitializeTokenizer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reqID := uuid.NewString()
	log := s.log.WithField("request_id", reqID)

	// The scheme argument is deliberately optional: an absent argument maps
	// to the null-input status rather than a protocol error.
	var schemeName *string
	if raw, ok := request.GetArguments()["scheme"]; ok {
		str, isString := raw.(string)
		if !isString {
			return mcp.NewToolResultError("scheme must be a string"), nil
		}
		schemeName = &str
	}

	err := s.reg.Initialize(schemeName)
	status := registry.StatusOf(err)

	result := map[string]interface{}{
		"request_id": reqID,
		"status":     int(status),
		"state":      s.registryState(),
	}

	if err != nil {
		result["error"] = err.Error()
		log.WithField("status", status.String()).Warnf("initialize_tokenizer failed: %v", err)
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	scheme, _ := s.reg.Active()
	result["scheme"] = string(scheme)
	result["model"] = scheme.ModelID()
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCountTokens handles the count_tokens tool
func (s *Server) handleCountTokens(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reqID := uuid.NewString()
	log := s.log.WithField("request_id", reqID)

	// Absent text degrades to a zero count, mirroring the registry contract.
	var text *string
	if raw, ok := request.GetArguments()["text"]; ok {
		str, isString := raw.(string)
		if !isString {
			return mcp.NewToolResultError("text must be a string"), nil
		}
		if err := s.checkTextSize(str); err != nil {
			log.WithField("category", utils.CategorizeError(err)).Warn(err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		text = &str
	}

	if err := s.admit(ctx); err != nil {
		log.WithField("category", utils.CategorizeError(err)).Warn(err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer s.sem.Release(1)

	start := time.Now()
	count := s.reg.Count(text)

	result := map[string]interface{}{
		"request_id":  reqID,
		"count":       count,
		"state":       s.registryState(),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if scheme, active := s.reg.Active(); active {
		result["scheme"] = string(scheme)
		result["model"] = scheme.ModelID()
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleResetTokenizer handles the reset_tokenizer tool
func (s *Server) handleResetTokenizer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reqID := uuid.NewString()

	s.reg.Reset()

	result := map[string]interface{}{
		"request_id": reqID,
		"state":      s.registryState(),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetStatus handles the get_status tool
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := map[string]interface{}{
		"server":         serverName,
		"version":        serverVersion,
		"state":          s.registryState(),
		"transport":      s.cfg.Transport,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}

	if scheme, active := s.reg.Active(); active {
		result["scheme"] = string(scheme)
		result["model"] = scheme.ModelID()
	}

	cacheInfo := map[string]interface{}{
		"backend": s.cfg.AppConfig.Cache.Backend,
	}
	if statser, ok := s.cfg.Cache.(cacheStatser); ok {
		hits, misses := statser.Stats()
		cacheInfo["hits"] = hits
		cacheInfo["misses"] = misses
	}
	if sizer, ok := s.cfg.Cache.(cacheSizer); ok {
		cacheInfo["entries"] = sizer.EntryCount()
	}
	result["cache"] = cacheInfo

	result["limits"] = map[string]interface{}{
		"max_text_bytes": s.cfg.AppConfig.Server.MaxTextBytes,
		"max_concurrent": s.cfg.AppConfig.Server.MaxConcurrent,
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListSchemes handles the list_schemes tool
func (s *Server) handleListSchemes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	activeScheme, active := s.reg.Active()

	all := encoder.AllSchemes()
	schemes := make([]map[string]interface{}, 0, len(all))
	for _, scheme := range all {
		info := map[string]interface{}{
			"name":  string(scheme),
			"model": scheme.ModelID(),
		}
		if active && scheme == activeScheme {
			info["active"] = true
		}
		schemes = append(schemes, info)
	}

	result := map[string]interface{}{
		"schemes":       schemes,
		"total_schemes": len(schemes),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleChunkText handles the chunk_text tool
func (s *Server) handleChunkText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reqID := uuid.NewString()
	log := s.log.WithField("request_id", reqID)

	text := request.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text parameter is required"), nil
	}
	if err := s.checkTextSize(text); err != nil {
		log.WithField("category", utils.CategorizeError(err)).Warn(err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	maxTokens := request.GetInt("max_tokens", s.cfg.AppConfig.Chunker.MaxChunkSize)
	overlap := request.GetInt("overlap", s.cfg.AppConfig.Chunker.ChunkOverlap)

	if err := s.admit(ctx); err != nil {
		log.WithField("category", utils.CategorizeError(err)).Warn(err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer s.sem.Release(1)

	// Measure chunks with the active tokenizer; fall back to runes when the
	// registry is empty so the tool stays usable before initialization.
	var lenFunc func(string) int
	measure := "runes"
	if scheme, active := s.reg.Active(); active {
		lenFunc = func(part string) int { return s.reg.Count(&part) }
		measure = string(scheme)
	}

	start := time.Now()
	chunks, err := chunk.Split(text, chunk.Config{MaxChunkSize: maxTokens, ChunkOverlap: overlap}, lenFunc)
	if err != nil {
		log.WithField("category", utils.CategorizeError(err)).Errorf("chunk_text failed: %v", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to chunk text: %v", err)), nil
	}

	result := map[string]interface{}{
		"request_id":   reqID,
		"chunks":       chunks,
		"total_chunks": len(chunks),
		"measure":      measure,
		"max_tokens":   maxTokens,
		"overlap":      overlap,
		"duration_ms":  time.Since(start).Milliseconds(),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// registryState names the registry's current condition for tool payloads.
func (s *Server) registryState() string {
	if s.reg.Poisoned() {
		return "poisoned"
	}
	if _, active := s.reg.Active(); active {
		return "ready"
	}
	return "empty"
}

// admit reserves an execution slot for text-heavy tools.
func (s *Server) admit(ctx context.Context) error {
	acquireCtx, cancel := context.WithTimeout(ctx, semAcquireTimeout)
	defer cancel()
	if err := s.sem.Acquire(acquireCtx, 1); err != nil {
		return fmt.Errorf("%w: no execution slot freed within %s", utils.ErrServerBusy, semAcquireTimeout)
	}
	return nil
}

// checkTextSize enforces the configured per-request byte cap.
func (s *Server) checkTextSize(text string) error {
	limit := s.cfg.AppConfig.Server.MaxTextBytes
	if limit > 0 && len(text) > limit {
		return fmt.Errorf("%w: text is %d bytes (cap %d)", utils.ErrInputTooLarge, len(text), limit)
	}
	return nil
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
