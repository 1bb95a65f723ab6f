// Package main is the kiku CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kiku/internal/config"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kiku/config.yaml"

// loadConfig loads config from path after reading .env from the working directory.
// When path is the default, ./config.yaml is preferred if it exists; when neither exists
// the built-in defaults are used and the returned path is empty, so nothing is written
// back. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", fmt.Errorf("load .env: %w", err)
	}
	if path != defaultConfigPath {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}
	for _, candidate := range []string{filepath.Join(cwd, "config.yaml"), defaultConfigPath} {
		if _, statErr := os.Stat(candidate); statErr == nil {
			cfg, loadErr := config.Load(candidate)
			if loadErr != nil {
				return nil, "", loadErr
			}
			return cfg, candidate, nil
		}
	}
	cfg, err := config.Default(cwd)
	if err != nil {
		return nil, "", err
	}
	return cfg, "", nil
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops at the
// first non-flag argument, so "kiku ask what is the budget -k 3" would otherwise leave
// -k unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args with spaces so multi-word questions work with or
// without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	var err error
	switch command {
	case "server":
		err = runServer(args)
	case "ingest", "index":
		err = runIngest(args)
	case "ask":
		err = runAsk(args)
	case "chat":
		err = runChat(args)
	case "documents", "ls":
		err = runDocuments(args)
	case "delete":
		err = runDelete(args)
	case "clear":
		err = runClear(args)
	case "reindex":
		err = runReindex(args)
	case "status":
		err = runStatus(args)
	case "watch":
		err = runWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("kiku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`kiku - Ask questions about your documents

Usage:
  kiku server [flags]              Start the HTTP server (and inbox watcher)
  kiku ingest [flags] <paths...>   Ingest files or directories
  kiku ask [flags] <question>      Answer one question from the indexed documents
  kiku chat [flags]                Interactive session with conversation memory
  kiku documents [flags]           List indexed documents
  kiku delete [flags] <id>         Delete a document
  kiku clear [flags]               Remove every document and empty the indexes
  kiku reindex [flags]             Re-embed all registered chunks
  kiku status [flags]              Show index and configuration status
  kiku watch <add|remove|list>     Manage watched directories of a running server
  kiku version                     Show version
  kiku help                        Show this help

Common Flags:
  --config string    Config file path (default: ./config.yaml, then /usr/local/etc/kiku/config.yaml)
  --debug            Enable debug logging
  --output string    Output format: text or json (default: text)

Ask Flags:
  -k int             Number of chunks to retrieve (default from retrieval.top_k)
  --server string    Ask a running server instead of opening the index directly
  --session string   Server session id, keeps conversation memory across calls

Status Flags:
  --server string    Query a running server instead of opening the index directly

Watch Flags:
  --server string    Server URL (default: http://localhost:8080)

Environment:
  KIKU_PROVIDER      openai, ollama, gemini, claude or onnx for both models
  OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY
  Values from a .env file in the working directory are loaded first.

Examples:
  kiku ingest ~/Documents/reports
  kiku ask "What was the Q3 marketing budget?"
  kiku ask -k 8 --output json what changed in the travel policy
  kiku chat
  kiku server --debug
  kiku watch add ~/Inbox`)
}
