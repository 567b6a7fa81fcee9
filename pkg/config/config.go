package config

import "time"

// Cache backend names accepted in cache.backend.
const (
	CacheBackendMemory = "memory" // In-process ristretto cache, lost on restart
	CacheBackendBadger = "badger" // Persistent BadgerDB cache under cache.state_dir
	CacheBackendNone   = "none"   // Counting always hits the encoder
)

// Server transport names accepted in server.transport.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// AppConfig holds the global daemon configuration
type AppConfig struct {
	DefaultScheme string        `yaml:"default_scheme,omitempty"` // Tokenizer installed at boot ("" = start empty)
	LogLevel      string        `yaml:"log_level,omitempty"`
	Cache         CacheConfig   `yaml:"cache,omitempty"`
	Server        ServerConfig  `yaml:"server,omitempty"`
	Chunker       ChunkerConfig `yaml:"chunker,omitempty"`
}

// CacheConfig holds settings for the token count cache
type CacheConfig struct {
	Backend    string        `yaml:"backend,omitempty"`     // memory | badger | none
	MaxEntries int64         `yaml:"max_entries,omitempty"` // Entry bound for the memory backend
	StateDir   string        `yaml:"state_dir,omitempty"`   // Directory for the badger backend
	GCInterval time.Duration `yaml:"gc_interval,omitempty"` // Badger value-log GC cadence
}

// ServerConfig holds settings for the MCP server
type ServerConfig struct {
	Transport     string `yaml:"transport,omitempty"`      // stdio | sse
	Port          int    `yaml:"port,omitempty"`           // SSE listen port
	MaxTextBytes  int    `yaml:"max_text_bytes,omitempty"` // Per-request text size cap
	MaxConcurrent int64  `yaml:"max_concurrent,omitempty"` // Concurrent count/chunk requests admitted
}

// ChunkerConfig holds default budgets for the chunk_text tool
type ChunkerConfig struct {
	MaxChunkSize int `yaml:"max_chunk_size,omitempty"` // Token budget per chunk
	ChunkOverlap int `yaml:"chunk_overlap,omitempty"`  // Overlap between chunks in tokens
}
