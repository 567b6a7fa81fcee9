package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tokenizerd/pkg/encoder"
	"tokenizerd/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults. Every field is optional, so
// a zero AppConfig validates cleanly; warnings fire only for values that are
// present but unusable.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// DefaultScheme: a typo here would silently boot an empty registry, so an
	// unknown name is fatal rather than a warning.
	if c.DefaultScheme != "" {
		if _, errScheme := encoder.ParseScheme(c.DefaultScheme); errScheme != nil {
			return nil, utils.WrapErrorf(utils.ErrConfigValidation,
				"unknown default_scheme %q (valid: %s)", c.DefaultScheme, schemeNames())
		}
	}

	// LogLevel
	if c.LogLevel == "" {
		c.LogLevel = "info"
	} else if _, errLevel := logrus.ParseLevel(c.LogLevel); errLevel != nil {
		warnings = append(warnings, fmt.Sprintf(
			"log_level %q is not a logrus level, defaulting to 'info'", c.LogLevel))
		c.LogLevel = "info"
	}

	warnings = append(warnings, c.validateCache()...)
	warnings = append(warnings, c.validateServer()...)
	warnings = append(warnings, c.validateChunker()...)

	return warnings, nil
}

// validateCache applies defaults to the count cache settings.
func (c *AppConfig) validateCache() (warnings []string) {
	cc := &c.Cache

	switch cc.Backend {
	case "":
		cc.Backend = CacheBackendMemory
	case CacheBackendMemory, CacheBackendBadger, CacheBackendNone:
	default:
		warnings = append(warnings, fmt.Sprintf(
			"cache.backend %q is not one of memory|badger|none, defaulting to 'memory'", cc.Backend))
		cc.Backend = CacheBackendMemory
	}

	if cc.MaxEntries < 0 {
		warnings = append(warnings, "cache.max_entries cannot be negative, defaulting to 65536")
		cc.MaxEntries = 65536
	} else if cc.MaxEntries == 0 {
		cc.MaxEntries = 65536
	}

	if cc.Backend == CacheBackendBadger && cc.StateDir == "" {
		warnings = append(warnings, "cache.backend is 'badger' but cache.state_dir is empty, defaulting to './tokenizerd_state'")
		cc.StateDir = "./tokenizerd_state"
	}

	if cc.GCInterval <= 0 {
		cc.GCInterval = 10 * time.Minute
	}

	return warnings
}

// validateServer applies defaults to the MCP server settings.
func (c *AppConfig) validateServer() (warnings []string) {
	sc := &c.Server

	switch sc.Transport {
	case "":
		sc.Transport = TransportStdio
	case TransportStdio, TransportSSE:
	default:
		warnings = append(warnings, fmt.Sprintf(
			"server.transport %q is not one of stdio|sse, defaulting to 'stdio'", sc.Transport))
		sc.Transport = TransportStdio
	}

	if sc.Port <= 0 || sc.Port > 65535 {
		if sc.Port != 0 {
			warnings = append(warnings, fmt.Sprintf(
				"server.port %d is out of range, defaulting to 8080", sc.Port))
		}
		sc.Port = 8080
	}

	if sc.MaxTextBytes < 0 {
		warnings = append(warnings, "server.max_text_bytes cannot be negative, defaulting to 1048576")
		sc.MaxTextBytes = 1 << 20
	} else if sc.MaxTextBytes == 0 {
		sc.MaxTextBytes = 1 << 20
	}

	if sc.MaxConcurrent < 0 {
		warnings = append(warnings, "server.max_concurrent cannot be negative, defaulting to 8")
		sc.MaxConcurrent = 8
	} else if sc.MaxConcurrent == 0 {
		sc.MaxConcurrent = 8
	}

	return warnings
}

// validateChunker applies defaults to the chunker budgets.
func (c *AppConfig) validateChunker() (warnings []string) {
	ch := &c.Chunker

	if ch.MaxChunkSize < 0 {
		warnings = append(warnings, "chunker.max_chunk_size cannot be negative, defaulting to 512")
		ch.MaxChunkSize = 512
	}
	if ch.ChunkOverlap < 0 {
		warnings = append(warnings, "chunker.chunk_overlap cannot be negative, defaulting to 50")
		ch.ChunkOverlap = 50
	}

	// A fully unset section gets the standard budgets. An explicit
	// max_chunk_size with zero overlap is honored as written.
	if ch.MaxChunkSize == 0 {
		ch.MaxChunkSize = 512
		if ch.ChunkOverlap == 0 {
			ch.ChunkOverlap = 50
		}
	}

	if ch.ChunkOverlap >= ch.MaxChunkSize {
		warnings = append(warnings, fmt.Sprintf(
			"chunker.chunk_overlap (%d) must be below max_chunk_size (%d), clamping to %d",
			ch.ChunkOverlap, ch.MaxChunkSize, ch.MaxChunkSize/4))
		ch.ChunkOverlap = ch.MaxChunkSize / 4
	}

	return warnings
}

func schemeNames() string {
	schemes := encoder.AllSchemes()
	names := make([]string, len(schemes))
	for i, s := range schemes {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
