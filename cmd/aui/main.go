// Command aui runs the unified agentic orchestration service.
//
// Usage:
//
//	aui serve --config config.yaml
//	aui serve --ollama-host http://localhost:11434 --model llama3
//	aui version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/auilabs/aui/pkg/aui"
	"github.com/auilabs/aui/pkg/config"
	"github.com/auilabs/aui/pkg/embedder"
	"github.com/auilabs/aui/pkg/llms"
	"github.com/auilabs/aui/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the orchestration service."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("aui version %s\n", version)
	return nil
}

// ServeCmd starts the service.
type ServeCmd struct {
	OllamaHost    string        `name:"ollama-host" help:"Ollama host for LLM and embedding calls." default:"http://localhost:11434"`
	Model         string        `help:"LLM model name." default:"llama3"`
	EmbedderModel string        `name:"embedder-model" help:"Embedding model name." default:"nomic-embed-text"`
	OpenAIBase    string        `name:"openai-base" help:"OpenAI-compatible base URL (overrides Ollama for completions)."`
	APIKey        string        `name:"api-key" help:"API key for the OpenAI-compatible endpoint." env:"AUI_API_KEY"`
	LLMTimeout    time.Duration `name:"llm-timeout" help:"Per-call LLM timeout." default:"120s"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	var llm llms.Provider
	if c.OpenAIBase != "" {
		llm = llms.NewOpenAIProvider(c.OpenAIBase, c.APIKey, c.Model, c.LLMTimeout)
	} else {
		llm = llms.NewOllamaProvider(c.OllamaHost, c.Model, c.LLMTimeout)
	}
	emb := embedder.NewOllama(c.OllamaHost, c.EmbedderModel, c.LLMTimeout)

	svc, err := aui.New(cfg, aui.Options{LLM: llm, Embedder: emb})
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("service shutdown failed", "error", err)
		}
	}()

	slog.Info("service started",
		"store", cfg.Store.Driver, "model", c.Model, "max_sessions", cfg.Sessions.MaxSessions)

	<-ctx.Done()
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("aui"),
		kong.Description("aui - unified agentic orchestration service"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	output := os.Stderr
	if cli.LogFile != "" {
		f, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = f
	}
	logger.Init(level, output, cli.LogFormat)

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
