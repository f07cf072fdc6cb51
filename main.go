package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"dds_review_service/config"
	"dds_review_service/extractor"
	"dds_review_service/generator"
	"dds_review_service/logging"
	"dds_review_service/pipeline"
	"dds_review_service/publisher"
	"dds_review_service/server"
	"dds_review_service/source"
)

const version = "0.1.0"

var verbose bool

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults apply when empty)")
	serve := flag.Bool("serve", false, "start web server")
	addr := flag.String("addr", "", "http listen address when --serve (overrides server.addr)")
	mcpMode := flag.Bool("mcp", false, "serve MCP tools over stdio")
	flag.BoolVar(&verbose, "v", false, "enable debug logs")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	// stdout carries the MCP protocol in -mcp mode.
	var logOut io.Writer = os.Stdout
	if *mcpMode {
		logOut = os.Stderr
	}
	logger := logging.NewWriter(logOut, level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := buildOrchestrator(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	switch {
	case *mcpMode:
		err = runMCP(ctx, orch)
	case *serve:
		listen := cfg.Server.Addr
		if *addr != "" {
			listen = *addr
		}
		err = runServer(ctx, cfg, orch, listen, logger)
	default:
		err = runOnce(ctx, cfg, orch, flag.Args(), logger)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildOrchestrator(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	renderer := publisher.NewRenderer(publisher.RendererOptions{Markdown: cfg.Report.Markdown})
	pub, err := publisher.New(renderer, store, cfg.Report.Prefix, logger)
	if err != nil {
		return nil, err
	}
	reviewer, err := generator.NewReviewer(&generator.LLMSettings{
		Provider:        cfg.LLM.Provider,
		Model:           cfg.LLM.Model,
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Mode:            cfg.LLM.Mode,
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
		AssistantID:     cfg.LLM.AssistantID,
		PollInterval:    cfg.LLM.PollInterval,
		PollTimeout:     cfg.LLM.PollTimeout,
		MaxPollAttempts: cfg.LLM.MaxPollAttempts,
		AttachDocuments: cfg.LLM.AttachDocuments,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	resolver := source.NewResolver(source.ResolverConfig{
		Hosts:        cfg.Remote.Hosts,
		DownloadBase: cfg.Remote.DownloadBase,
		Timeout:      cfg.Remote.Timeout,
		MaxBytes:     cfg.MaxRemoteBytes(),
	}, nil, logger)

	return pipeline.New(pipeline.Deps{
		Resolver:     resolver,
		Extractor:    extractor.NewPDF(logger),
		Instructions: generator.FileInstructions{Path: cfg.Instructions.Path},
		Reviewer:     reviewer,
		Publisher:    pub,
		Logger:       logger,
	}, pipeline.Options{
		MaxDocuments:    cfg.Batch.MaxDocuments,
		AttachDocuments: cfg.LLM.Mode == generator.ModeAssistant && cfg.LLM.AttachDocuments,
	})
}

func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (publisher.Store, error) {
	switch cfg.Storage.Type {
	case "minio":
		m := cfg.Storage.Minio
		return publisher.NewMinioStore(ctx, publisher.MinioOptions{
			Endpoint:  m.Endpoint,
			Bucket:    m.Bucket,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Region:    m.Region,
			UseSSL:    m.UseSSL,
		}, logger)
	default:
		return publisher.NewLocalStore(cfg.Storage.Dir)
	}
}

// runOnce reviews the positional arguments as a single batch and prints
// where the report was stored.
func runOnce(ctx context.Context, cfg config.Config, orch *pipeline.Orchestrator, args []string, logger *slog.Logger) error {
	if len(args) == 0 {
		return errors.New("usage: dds-review [flags] <file.pdf|link>... (or --serve / --mcp)")
	}
	docs := make([]source.Document, 0, len(args))
	for _, a := range args {
		docs = append(docs, source.FromArg(a))
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Server.RunTimeout)
	defer cancel()

	logger.Info("reviewing batch", "documents", len(docs))
	res, err := orch.Process(ctx, docs)
	if err != nil {
		return err
	}
	for _, d := range res.Dropped {
		fmt.Fprintf(os.Stderr, "skipped %s: %s\n", d.Source, d.Reason)
	}
	fmt.Println(res.Location)
	return nil
}

func runServer(ctx context.Context, cfg config.Config, orch *pipeline.Orchestrator, listen string, logger *slog.Logger) error {
	srv, err := server.New(orch, pipeline.NewIntake(cfg.Batch.ExpectedSize, orch.Tracker()), server.Options{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		RunTimeout:     cfg.Server.RunTimeout,
		RemoteHosts:    cfg.Remote.Hosts,
	}, logger)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting web server", "addr", listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	srv.Wait()
	return nil
}

func runMCP(ctx context.Context, orch *pipeline.Orchestrator) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "dds-review", Version: version}, nil)
	server.RegisterMCP(srv, orch)
	return srv.Run(ctx, &mcp.StdioTransport{})
}
