package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/app"
	"github.com/hyperjump/kiku/internal/cli"
	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/conversation"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/server"
	"github.com/hyperjump/kiku/internal/watcher"
	"github.com/hyperjump/kiku/pkg/utils"
)

const sessionSweepSchedule = "@every 1m"

// commonFlags are accepted by every command that opens the index.
type commonFlags struct {
	configPath *string
	debug      *bool
	output     *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
		output:     fs.String("output", "text", "output format: text or json"),
	}
}

// env is what a one-shot command needs after flag parsing.
type env struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	format     cli.OutputFormat
}

func setup(cf *commonFlags, cliLogger bool) (*env, error) {
	format, err := cli.ParseOutputFormat(*cf.output)
	if err != nil {
		return nil, err
	}
	cfg, resolved, err := loadConfig(*cf.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || *cf.debug
	var logger *zap.Logger
	if cliLogger {
		logger, err = utils.NewCLILogger(debug)
	} else {
		logger, err = utils.NewLogger(debug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return &env{cfg: cfg, configPath: resolved, logger: logger, format: format}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	cf := addCommonFlags(fs)
	_ = fs.Parse(args)

	e, err := setup(cf, false)
	if err != nil {
		return err
	}
	logger := e.logger
	defer logger.Sync()
	logger.Info("config loaded", zap.String("config_path", e.configPath), zap.Bool("debug", e.cfg.Debug || *cf.debug))

	ctx, stop := signalContext()
	defer stop()

	components, err := app.Initialize(ctx, e.cfg, logger, app.Options{Generation: true})
	if err != nil {
		return err
	}
	defer components.Close()
	if err := components.Reconcile(ctx); err != nil {
		return err
	}

	sessions := conversation.NewSessions(e.cfg.Conversation.SessionTTL)
	snapshots := components.Snapshots
	if e.cfg.Conversation.SessionTTL > 0 {
		err := snapshots.Schedule(sessionSweepSchedule, func() {
			if n := sessions.Sweep(); n > 0 {
				logger.Debug("idle sessions expired", zap.Int("count", n))
			}
		})
		if err != nil {
			return err
		}
	}
	if err := snapshots.Start(e.cfg.Vector.AutosaveSchedule); err != nil {
		return err
	}

	watchSvc := watcher.New(components.Indexer, e.cfg.Watch.Directories, e.cfg.Watch.RecursiveOrDefault(),
		watcher.WithLogger(logger))
	if err := watchSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(components.Engine, components.Indexer, sessions, e.cfg, logger,
		server.WithWatchService(watchSvc, e.configPath),
		server.WithSnapshots(snapshots),
	)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
	watchSvc.Stop()
	if stopErr := snapshots.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("final vector snapshot failed", zap.Error(stopErr))
	}
	return err
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cf := addCommonFlags(fs)
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() < 1 {
		return errors.New("usage: kiku ingest [flags] <file-or-directory>...")
	}

	e, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx, stop := signalContext()
	defer stop()

	components, err := app.Initialize(ctx, e.cfg, e.logger, app.Options{})
	if err != nil {
		return err
	}
	defer components.Close()
	if err := components.Reconcile(ctx); err != nil {
		return err
	}

	result, ingestErr := components.Indexer.IngestPaths(ctx, fs.Args())
	if result != nil {
		if err := cli.WriteIngestResult(os.Stdout, result, e.format); err != nil {
			return err
		}
	}
	if err := components.SaveSnapshot(); err != nil {
		return err
	}
	return ingestErr
}

func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	cf := addCommonFlags(fs)
	k := fs.Int("k", 0, "number of chunks to retrieve (0 = retrieval.top_k)")
	serverURL := fs.String("server", "", "server URL (empty = open the index directly)")
	session := fs.String("session", "cli", "server session id")
	_ = fs.Parse(argsReorder(args))

	req := models.AskRequest{Question: joinArgs(fs.Args()), K: *k}
	if req.Question == "" {
		return errors.New("usage: kiku ask [flags] <question>")
	}
	format, err := cli.ParseOutputFormat(*cf.output)
	if err != nil {
		return err
	}
	if *serverURL != "" {
		resp, err := askViaHTTP(*serverURL, *session, req)
		if err != nil {
			return err
		}
		return cli.WriteAnswer(os.Stdout, resp, format)
	}

	e, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx, stop := signalContext()
	defer stop()

	components, err := app.Initialize(ctx, e.cfg, e.logger, app.Options{Generation: true})
	if err != nil {
		return err
	}
	defer components.Close()
	if err := components.Reconcile(ctx); err != nil {
		return err
	}
	resp, err := components.Engine.Ask(ctx, nil, req)
	if err != nil {
		return err
	}
	return cli.WriteAnswer(os.Stdout, resp, e.format)
}

func askViaHTTP(serverURL, session string, req models.AskRequest) (*models.AskResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(serverURL, "/") + "/api/v1/sessions/" + url.PathEscape(session) + "/ask"
	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp)
	}
	var out models.AskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func serverError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	cf := addCommonFlags(fs)
	k := fs.Int("k", 0, "number of chunks to retrieve (0 = retrieval.top_k)")
	_ = fs.Parse(args)

	e, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx, stop := signalContext()
	defer stop()

	components, err := app.Initialize(ctx, e.cfg, e.logger, app.Options{Generation: true})
	if err != nil {
		return err
	}
	defer components.Close()
	if err := components.Reconcile(ctx); err != nil {
		return err
	}
	return chatLoop(ctx, os.Stdin, os.Stdout, e.format, func(ctx context.Context, state *conversation.State, q string) (*models.AskResponse, error) {
		return components.Engine.Ask(ctx, state, models.AskRequest{Question: q, K: *k})
	})
}

type askFunc func(ctx context.Context, state *conversation.State, question string) (*models.AskResponse, error)

// chatLoop reads questions line by line and answers them within one conversation.
// /clear forgets the conversation, /history prints it and /exit ends the session.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, format cli.OutputFormat, ask askFunc) error {
	state := conversation.NewState()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	if format == cli.OutputText {
		fmt.Fprintln(out, "Ask about your documents. Commands: /clear, /history, /exit")
	}
	for {
		if format == cli.OutputText {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			state.Clear()
			if format == cli.OutputText {
				fmt.Fprintln(out, "Conversation cleared.")
			}
			continue
		case "/history":
			if err := cli.WriteHistory(out, state.History(0, conversation.Chronological), format); err != nil {
				return err
			}
			continue
		}
		resp, err := ask(ctx, state, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		if err := cli.WriteAnswer(out, resp, format); err != nil {
			return err
		}
	}
}

func runDocuments(args []string) error {
	fs := flag.NewFlagSet("documents", flag.ExitOnError)
	cf := addCommonFlags(fs)
	offset := fs.Int("offset", 0, "skip this many documents")
	limit := fs.Int("limit", 0, "list at most this many documents (0 = all)")
	_ = fs.Parse(args)

	e, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx := context.Background()
	components, err := app.Initialize(ctx, e.cfg, e.logger, app.Options{})
	if err != nil {
		return err
	}
	defer components.Close()
	docs, err := components.Indexer.ListDocuments(ctx, *offset, *limit)
	if err != nil {
		return err
	}
	return cli.WriteDocuments(os.Stdout, docs, e.format)
}

func runDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	cf := addCommonFlags(fs)
	byName := fs.Bool("filename", false, "treat the arguments as filenames instead of document ids")
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() < 1 {
		return errors.New("usage: kiku delete [flags] <document-id>...")
	}

	e, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx := context.Background()
	components, err := app.Initialize(ctx, e.cfg, e.logger, app.Options{})
	if err != nil {
		return err
	}
	defer components.Close()

	var failed error
	for _, arg := range fs.Args() {
		if *byName {
			n, err := components.Indexer.DeleteByFilename(ctx, arg)
			if err != nil {
				failed = errors.Join(failed, fmt.Errorf("%s: %w", arg, err))
				continue
			}
			fmt.Printf("Deleted %d document(s) named %s\n", n, arg)
			continue
		}
		if err := components.Indexer.DeleteDocument(ctx, arg); err != nil {
			failed = errors.Join(failed, fmt.Errorf("%s: %w", arg, err))
			continue
		}
		fmt.Printf("Document deleted: %s\n", arg)
	}
	if err := components.SaveSnapshot(); err != nil {
		return err
	}
	return failed
}

func runClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	cf := addCommonFlags(fs)
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	_ = fs.Parse(args)

	e, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx := context.Background()
	components, err := app.Initialize(ctx, e.cfg, e.logger, app.Options{})
	if err != nil {
		return err
	}
	defer components.Close()

	if !*yes {
		stats, err := components.Indexer.Stats(ctx)
		if err != nil {
			return err
		}
		if !confirm(os.Stdin, os.Stdout, fmt.Sprintf("Remove all %d document(s) from the index?", stats.Documents)) {
			fmt.Println("Aborted.")
			return nil
		}
	}
	if err := components.Indexer.Clear(ctx); err != nil {
		return err
	}
	if err := components.SaveSnapshot(); err != nil {
		return err
	}
	fmt.Println("Index cleared.")
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func runReindex(args []string) error {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	cf := addCommonFlags(fs)
	_ = fs.Parse(args)

	e, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx, stop := signalContext()
	defer stop()
	components, err := app.Initialize(ctx, e.cfg, e.logger, app.Options{})
	if err != nil {
		return err
	}
	defer components.Close()
	n, err := components.Indexer.Rebuild(ctx)
	if err != nil {
		return err
	}
	if err := components.SaveSnapshot(); err != nil {
		return err
	}
	fmt.Printf("Re-embedded %d chunk(s)\n", n)
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cf := addCommonFlags(fs)
	serverURL := fs.String("server", "", "server URL (empty = open the index directly)")
	_ = fs.Parse(args)

	if *serverURL != "" {
		format, err := cli.ParseOutputFormat(*cf.output)
		if err != nil {
			return err
		}
		return statusViaHTTP(os.Stdout, *serverURL, format)
	}

	e, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx := context.Background()
	components, err := app.Initialize(ctx, e.cfg, e.logger, app.Options{})
	if err != nil {
		return err
	}
	defer components.Close()
	stats, err := components.Indexer.Stats(ctx)
	if err != nil {
		return err
	}
	if err := cli.WriteStats(os.Stdout, stats, e.format); err != nil {
		return err
	}
	if e.format == cli.OutputText {
		cfg := e.cfg
		fmt.Println()
		fmt.Println("# configuration")
		fmt.Printf("config_path:        %s\n", orDefault(e.configPath, "(built-in defaults)"))
		fmt.Printf("embedding:          %s/%s\n", cfg.Embedding.Provider, cfg.Embedding.Model)
		fmt.Printf("generation:         %s/%s\n", cfg.Generation.Provider, cfg.Generation.Model)
		fmt.Printf("vector_backend:     %s\n", cfg.Vector.Backend)
		fmt.Printf("chunk_size:         %d (overlap %d)\n", cfg.Chunking.Size, cfg.Chunking.Overlap)
		fmt.Printf("top_k:              %d (max %d)\n", cfg.Retrieval.TopK, cfg.Retrieval.MaxK)
		fmt.Printf("database_path:      %s\n", cfg.Storage.DatabasePath)
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func statusViaHTTP(w io.Writer, serverURL string, format cli.OutputFormat) error {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return serverError(resp)
	}
	var status struct {
		Index          json.RawMessage `json:"index"`
		Sessions       int             `json:"sessions"`
		DiskUsageBytes *int64          `json:"disk_usage_bytes,omitempty"`
		Watch          []string        `json:"watch_directories,omitempty"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if format == cli.OutputJSON {
		_, err := w.Write(raw)
		return err
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	var stats struct {
		Documents int64 `json:"documents"`
		Chunks    int64 `json:"chunks"`
		Vectors   int   `json:"vectors"`
	}
	_ = json.Unmarshal(status.Index, &stats)
	fmt.Fprintf(w, "documents:          %d\n", stats.Documents)
	fmt.Fprintf(w, "chunks:             %d\n", stats.Chunks)
	fmt.Fprintf(w, "vectors:            %d\n", stats.Vectors)
	fmt.Fprintf(w, "sessions:           %d\n", status.Sessions)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *status.DiskUsageBytes)
	}
	for _, d := range status.Watch {
		fmt.Fprintf(w, "watching:           %s\n", d)
	}
	return nil
}

func runWatch(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: kiku watch <add|remove|list> [--server url] [path]")
	}
	sub := args[0]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(argsReorder(args[1:]))
	base := strings.TrimRight(*serverURL, "/") + "/api/v1/watch/directories"

	switch sub {
	case "add":
		if fs.NArg() < 1 {
			return errors.New("usage: kiku watch add <path>")
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return err
		}
		body, _ := json.Marshal(map[string]any{"path": path, "sync": true})
		resp, err := http.Post(base, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return serverError(resp)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			return errors.New("usage: kiku watch remove <path>")
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return err
		}
		req, err := http.NewRequest(http.MethodDelete, base+"?path="+url.QueryEscape(path), nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return serverError(resp)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		resp, err := http.Get(base)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return serverError(resp)
		}
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		return fmt.Errorf("unknown watch subcommand: %s", sub)
	}
	return nil
}
