package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"tokenizerd/pkg/chunk"
	"tokenizerd/pkg/config"
	"tokenizerd/pkg/encoder"
	"tokenizerd/pkg/registry"
	"tokenizerd/pkg/utils"
)

const version = "1.1.1"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "count":
		runCount(os.Args[2:])
	case "chunk":
		runChunk(os.Args[2:])
	case "schemes":
		runSchemes(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("tokenizerd %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `tokenizerd - BPE tokenizer manager

Usage:
  tokenizerd <command> [options]

Commands:
  count      Count tokens in text under an encoding scheme
  chunk      Split markdown into token-budgeted chunks
  schemes    List supported encoding schemes
  serve      Start the MCP tokenizer server
  validate   Validate configuration file
  version    Show version info

Run 'tokenizerd <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %w", utils.ErrFilesystem, err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// readInput resolves the text to operate on: -text wins, then -file, then stdin.
func readInput(text, file string, stdin io.Reader) (string, error) {
	if text != "" {
		return text, nil
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("%w: read input file: %w", utils.ErrFilesystem, err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("%w: read stdin: %w", utils.ErrFilesystem, err)
	}
	return string(data), nil
}

// quietLogger builds a logger for one-shot commands. Registry lifecycle logs
// stay below the threshold so stdout carries nothing but the result.
func quietLogger(stderr io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(stderr)
	log.SetLevel(logrus.WarnLevel)
	return log
}

// runCount handles the count subcommand
func runCount(args []string) {
	fs := flag.NewFlagSet("count", flag.ExitOnError)
	scheme := fs.String("scheme", "cl100k_base", "Encoding scheme (see 'tokenizerd schemes')")
	text := fs.String("text", "", "Text to count; when empty, reads -file or stdin")
	file := fs.String("file", "", "File to count; when empty, reads stdin")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tokenizerd count [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tokenizerd count -text 'hello world'\n")
		fmt.Fprintf(os.Stderr, "  tokenizerd count -scheme o200k_base -file doc.md\n")
		fmt.Fprintf(os.Stderr, "  cat doc.md | tokenizerd count\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	input, err := readInput(*text, *file, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	os.Exit(doCount(*scheme, input, os.Stdout, os.Stderr))
}

// doCount initializes the named scheme, counts the text, and prints the count.
// Returns exit code (0 = success, 1 = error).
func doCount(schemeName, text string, stdout, stderr io.Writer) int {
	reg := registry.NewRegistry(encoder.NewTiktokenResolver(), nil, nil, quietLogger(stderr))

	if err := reg.Initialize(&schemeName); err != nil {
		fmt.Fprintf(stderr, "Error: %v (status %d)\n", err, registry.StatusOf(err))
		return 1
	}

	if !utf8.ValidString(text) {
		fmt.Fprintln(stderr, "WARN: input is not valid UTF-8, counting it as empty text")
	}

	fmt.Fprintf(stdout, "%d\n", reg.Count(&text))
	return 0
}

// runChunk handles the chunk subcommand
func runChunk(args []string) {
	def := chunk.DefaultConfig()

	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	scheme := fs.String("scheme", "cl100k_base", "Encoding scheme used to measure chunks")
	file := fs.String("file", "", "Markdown file to split; when empty, reads stdin")
	maxTokens := fs.Int("max-tokens", def.MaxChunkSize, "Token budget per chunk")
	overlap := fs.Int("overlap", def.ChunkOverlap, "Token overlap between chunks")
	jsonOut := fs.Bool("json", false, "Emit chunks as JSON instead of text")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tokenizerd chunk [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tokenizerd chunk -file doc.md -max-tokens 256\n")
		fmt.Fprintf(os.Stderr, "  cat doc.md | tokenizerd chunk -json\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	input, err := readInput("", *file, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	os.Exit(doChunk(*scheme, input, *maxTokens, *overlap, *jsonOut, os.Stdout, os.Stderr))
}

// doChunk splits the text into token-budgeted chunks and prints them.
// Returns exit code (0 = success, 1 = error).
func doChunk(schemeName, text string, maxTokens, overlap int, jsonOut bool, stdout, stderr io.Writer) int {
	reg := registry.NewRegistry(encoder.NewTiktokenResolver(), nil, nil, quietLogger(stderr))

	if err := reg.Initialize(&schemeName); err != nil {
		fmt.Fprintf(stderr, "Error: %v (status %d)\n", err, registry.StatusOf(err))
		return 1
	}

	if !utf8.ValidString(text) {
		fmt.Fprintln(stderr, "WARN: input is not valid UTF-8, treating it as empty text")
		text = ""
	}

	chunks, err := chunk.Split(text, chunk.Config{MaxChunkSize: maxTokens, ChunkOverlap: overlap}, func(part string) int {
		return reg.Count(&part)
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if chunks == nil {
		chunks = []chunk.Chunk{}
	}

	if jsonOut {
		data, err := json.MarshalIndent(chunks, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "%d chunks (scheme: %s, budget: %d, overlap: %d)\n", len(chunks), schemeName, maxTokens, overlap)
	for i, c := range chunks {
		fmt.Fprintln(stdout)
		if len(c.Headings) > 0 {
			fmt.Fprintf(stdout, "[%d/%d] %d tokens (%s)\n", i+1, len(chunks), c.TokenCount, strings.Join(c.Headings, " > "))
		} else {
			fmt.Fprintf(stdout, "[%d/%d] %d tokens\n", i+1, len(chunks), c.TokenCount)
		}
		fmt.Fprintln(stdout, c.Content)
	}
	return 0
}

// runSchemes handles the schemes subcommand
func runSchemes(args []string) {
	fs := flag.NewFlagSet("schemes", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tokenizerd schemes\n\nLists the supported encoding schemes and their model identifiers.\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doSchemes(os.Stdout))
}

// doSchemes lists the closed scheme set. Returns exit code (always 0).
func doSchemes(stdout io.Writer) int {
	fmt.Fprintln(stdout, "Supported encoding schemes:")
	fmt.Fprintln(stdout)
	for _, s := range encoder.AllSchemes() {
		fmt.Fprintf(stdout, "  %-12s %s\n", s, s.ModelID())
	}
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tokenizerd validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doValidate(*configFile, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}
