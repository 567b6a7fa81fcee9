package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenizerd/pkg/utils"
)

func TestLoadConfig_ValidFile(t *testing.T) {
	content := `
default_scheme: "cl100k_base"
log_level: "debug"
cache:
  backend: "memory"
  max_entries: 1024
server:
  transport: "sse"
  port: 9000
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	cfg, err := loadConfig(cfgPath)

	require.NoError(t, err)
	assert.Equal(t, "cl100k_base", cfg.DefaultScheme)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, int64(1024), cfg.Cache.MaxEntries)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := loadConfig("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrFilesystem)
	assert.Contains(t, err.Error(), "read config")
	assert.Equal(t, "Filesystem_NotExist", utils.CategorizeError(err))
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0644))

	_, err := loadConfig(cfgPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDoCount(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doCount("cl100k_base", "hello world", &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Equal(t, "2\n", stdout.String())
	assert.Empty(t, stderr.String())
}

func TestDoCount_SpecialToken(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doCount("cl100k_base", "<|endoftext|>", &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Equal(t, "1\n", stdout.String())
}

func TestDoCount_UnknownScheme(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doCount("base64", "hello", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "unrecognized encoding scheme")
	assert.Contains(t, stderr.String(), "(status -2)")
}

func TestDoCount_InvalidUTF8(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doCount("cl100k_base", "\xff\xfe", &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Equal(t, "0\n", stdout.String())
	assert.Contains(t, stderr.String(), "not valid UTF-8")
}

func TestDoChunk_Text(t *testing.T) {
	md := "# Title\n\nSome paragraph with several words in it.\n\n## Section\n\nAnother paragraph here."

	var stdout, stderr bytes.Buffer
	exitCode := doChunk("cl100k_base", md, 10, 2, false, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	out := stdout.String()
	assert.Contains(t, out, "chunks (scheme: cl100k_base")
	assert.Contains(t, out, "tokens")
}

func TestDoChunk_JSON(t *testing.T) {
	md := "# Title\n\nSome paragraph with several words in it."

	var stdout, stderr bytes.Buffer
	exitCode := doChunk("cl100k_base", md, 128, 16, true, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)

	var chunks []map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &chunks))
	require.NotEmpty(t, chunks)
	content, ok := chunks[0]["content"].(string)
	require.True(t, ok)
	assert.Contains(t, content, "paragraph")
	assert.Greater(t, chunks[0]["token_count"].(float64), float64(0))
}

func TestDoChunk_EmptyInput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doChunk("cl100k_base", "", 128, 16, true, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Equal(t, "[]\n", stdout.String())
}

func TestDoChunk_UnknownScheme(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doChunk("nope", "some text", 128, 16, false, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "(status -2)")
}

func TestDoSchemes(t *testing.T) {
	var stdout bytes.Buffer
	exitCode := doSchemes(&stdout)

	assert.Equal(t, 0, exitCode)
	out := stdout.String()
	for _, name := range []string{"o200k_base", "cl100k_base", "p50k_base", "p50k_edit", "r50k_base"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "gpt-4o")
	assert.Contains(t, out, "text-davinci-edit-001")
}

func TestDoValidate_Valid(t *testing.T) {
	content := `
default_scheme: "o200k_base"
cache:
  backend: "badger"
  state_dir: "./state"
server:
  transport: "stdio"
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.NotContains(t, stdout.String(), "WARN")
	assert.Contains(t, stdout.String(), "Configuration valid")
}

func TestDoValidate_Warnings(t *testing.T) {
	content := `
log_level: "verbose"
cache:
  backend: "redis"
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "WARN")
	assert.Contains(t, stdout.String(), "redis")
	assert.Contains(t, stdout.String(), "Configuration valid")
}

func TestDoValidate_UnknownDefaultScheme(t *testing.T) {
	content := `default_scheme: "base64"`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "ERROR")
	assert.Contains(t, stderr.String(), "unknown default_scheme")
}

func TestDoValidate_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate("/nonexistent.yaml", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error")
}

func TestDoServe_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doServe("/nonexistent.yaml", "", 0, "", "", "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error loading config")
}

func TestDoServe_InvalidDefaultScheme(t *testing.T) {
	content := `default_scheme: "base64"`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	var stdout, stderr bytes.Buffer
	exitCode := doServe(cfgPath, "", 0, "", "", "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Config error")
}

func TestReadInput(t *testing.T) {
	t.Run("text wins over file and stdin", func(t *testing.T) {
		got, err := readInput("inline", "ignored.md", strings.NewReader("stdin data"))
		require.NoError(t, err)
		assert.Equal(t, "inline", got)
	})

	t.Run("file read when text empty", func(t *testing.T) {
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "input.md")
		require.NoError(t, os.WriteFile(path, []byte("file data"), 0644))

		got, err := readInput("", path, strings.NewReader("stdin data"))
		require.NoError(t, err)
		assert.Equal(t, "file data", got)
	})

	t.Run("stdin fallback", func(t *testing.T) {
		got, err := readInput("", "", strings.NewReader("stdin data"))
		require.NoError(t, err)
		assert.Equal(t, "stdin data", got)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readInput("", "/nonexistent/input.md", strings.NewReader(""))
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrFilesystem)
		assert.Contains(t, err.Error(), "read input file")
	})
}

func TestPrintUsageTo(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)

	out := buf.String()
	assert.Contains(t, out, "count")
	assert.Contains(t, out, "chunk")
	assert.Contains(t, out, "schemes")
	assert.Contains(t, out, "serve")
	assert.Contains(t, out, "validate")
	assert.Contains(t, out, "version")
}
