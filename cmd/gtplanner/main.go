// Command gtplanner is the CLI for the GTPlanner planning agent.
//
// Usage:
//
//	gtplanner chat --config config.yaml
//	gtplanner serve --config config.yaml
//	gtplanner mcp --config config.yaml
//	gtplanner export output/design.md --formats md,html
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/gtplanner/gtplanner/pkg/config"
	"github.com/gtplanner/gtplanner/pkg/export"
	"github.com/gtplanner/gtplanner/pkg/logger"
	"github.com/gtplanner/gtplanner/pkg/observability"
	"github.com/gtplanner/gtplanner/pkg/protocol"
	"github.com/gtplanner/gtplanner/pkg/server"
	"github.com/gtplanner/gtplanner/pkg/streaming"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Chat    ChatCmd    `cmd:"" help:"Start an interactive planning session."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP streaming server."`
	MCP     MCPCmd     `cmd:"" name:"mcp" help:"Serve planning tools over MCP on stdio."`
	Export  ExportCmd  `cmd:"" help:"Export a markdown document to other formats."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("gtplanner version %s\n", version())
	return nil
}

// ChatCmd runs an interactive planning conversation on the terminal.
// History lives in process memory; generated documents are saved under the
// configured output directory as they stream.
type ChatCmd struct {
	Session  string `help:"Session id (defaults to a generated one)."`
	Language string `help:"Response language (en or zh)."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	p, err := buildPlanner(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer p.Close()

	terminal := streaming.NewTerminalHandler(streaming.WithDocumentDir(cfg.Export.OutputDir))
	defer terminal.Close()

	sessionID := c.Session
	if sessionID == "" {
		sessionID = "chat-" + uuid.NewString()
	}
	agentCtx := &protocol.AgentContext{
		SessionID:       sessionID,
		SessionMetadata: map[string]any{},
		LastUpdated:     protocol.Now(),
	}
	if c.Language != "" {
		agentCtx.SessionMetadata["language"] = c.Language
	}

	fmt.Printf("gtplanner %s. Describe what you want to build; \"exit\" quits.\n\n", version())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		stream := streaming.NewSession(sessionID, terminal)
		result := p.orch.Run(ctx, line, agentCtx, stream)
		stream.Close()

		if ctx.Err() != nil {
			break
		}

		agentCtx.DialogueHistory = append(agentCtx.DialogueHistory, result.NewMessages...)
		if len(result.ToolExecutionResultsUpd) > 0 {
			if agentCtx.ToolExecutionResults == nil {
				agentCtx.ToolExecutionResults = map[string]any{}
			}
			maps.Copy(agentCtx.ToolExecutionResults, result.ToolExecutionResultsUpd)
		}
		agentCtx.LastUpdated = protocol.Now()
	}
	return scanner.Err()
}

// ServeCmd starts the HTTP server with SSE streaming and persistent sessions.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	metrics, err := observability.InitMetrics(ctx, cfg.Metrics)
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	observability.SetGlobalMetrics(metrics)
	if _, err := observability.InitGlobalTracer(ctx, cfg.Tracing); err != nil {
		return fmt.Errorf("failed to init tracer: %w", err)
	}

	p, err := buildPlanner(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer p.Close()

	opts := []server.Option{server.WithSessionStore(p.store)}
	if p.compressor != nil {
		opts = append(opts, server.WithCompressor(p.compressor))
	}
	srv := server.New(p.orch, opts...)

	fmt.Printf("\ngtplanner server ready\n")
	fmt.Printf("   Stream:   POST http://%s/agent/{session}/stream\n", cfg.Server.Addr())
	fmt.Printf("   Sessions: http://%s/sessions\n", cfg.Server.Addr())
	fmt.Printf("   Health:   http://%s/healthz\n", cfg.Server.Addr())
	fmt.Printf("   Storage:  %s (%s)\n", cfg.Database.Driver, cfg.Database.Database)
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.ListenAndServe(ctx, cfg.Server.Addr())
}

// MCPCmd serves the tool catalogue over the Model Context Protocol on stdio.
type MCPCmd struct{}

func (c *MCPCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	p, err := buildPlanner(context.Background(), cfg, false)
	if err != nil {
		return err
	}
	defer p.Close()

	slog.Info("Serving MCP on stdio")
	return server.ServeMCPStdio(p.registry, version())
}

// ExportCmd converts an existing markdown document without running the agent.
type ExportCmd struct {
	File    string `arg:"" help:"Markdown file to export." type:"path"`
	Formats string `help:"Comma-separated formats (md, html, txt)." default:"html"`
	Output  string `short:"o" help:"Output directory (defaults to the configured one)."`
}

func (c *ExportCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	doc := protocol.Document{
		Type:      protocol.DocumentTypeDesign,
		Filename:  filepath.Base(c.File),
		Content:   string(data),
		Timestamp: protocol.Now(),
	}

	outputDir := c.Output
	if outputDir == "" {
		outputDir = cfg.Export.OutputDir
	}

	formats := strings.Split(c.Formats, ",")
	for i := range formats {
		formats[i] = strings.TrimSpace(formats[i])
	}

	exporter := export.NewExporter(export.WithOutputDir(outputDir))
	results, err := exporter.Export(doc, formats, outputDir)
	if err != nil {
		return err
	}

	var failed bool
	for _, r := range results {
		if r.Success() {
			fmt.Printf("  %s: %s\n", r.Format, r.Path)
		} else {
			failed = true
			fmt.Printf("  %s: %s\n", r.Format, r.Error)
		}
	}
	if failed {
		return fmt.Errorf("some formats failed to export")
	}
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()
	return ctx, cancel
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("gtplanner"),
		kong.Description("GTPlanner - conversational project planning agent"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
