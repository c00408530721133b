package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DreamCats/codesage/internal/config"
	"github.com/DreamCats/codesage/internal/llm"
	"github.com/DreamCats/codesage/internal/logging"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
)

// skipConfig marks commands that run without loading the configuration.
const skipConfig = "skip-config"

// app carries what the subcommands share once the root command has run.
type app struct {
	configPath string
	verbose    bool

	stdout io.Writer
	stderr io.Writer

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error

	// newGenerator builds the chat client; tests replace it.
	newGenerator func(*config.ChatConfig) (llm.Generator, error)
	// logDir receives the daily log file; empty disables it.
	logDir string
}

func newApp(stdout, stderr io.Writer) *app {
	a := &app{
		stdout:       stdout,
		stderr:       stderr,
		newGenerator: llm.New,
		closeLog:     func() error { return nil },
	}
	if home, err := os.UserHomeDir(); err == nil {
		a.logDir = filepath.Join(home, ".codesage", "logs")
	}
	return a
}

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdout, os.Stderr)
	if err := a.execute(ctx, args[1:]); err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		exit(1)
	}
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	defer func() {
		if err := a.closeLog(); err != nil {
			fmt.Fprintf(a.stderr, "Warning: failed to close log file: %v\n", err)
		}
	}()
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "codesage",
		Short: "Ask questions about a codebase",
		Long: `codesage indexes a repository into line chunks with embeddings and answers
questions about it with corrective retrieval: the query is rewritten from
index hints, candidates are scored by vector and lexical overlap, graded by
the model, merged, budgeted and finally used to write a cited answer.`,
		Version:           fmt.Sprintf("%s (%s)", Version, Build),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetVersionTemplate("{{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.codesage/config.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.String("index-dir", "", "index directory (default ~/.codesage/index)")

	root.AddCommand(
		a.ingestCommand(),
		a.askCommand(),
		a.searchCommand(),
		a.statusCommand(),
		a.mcpCommand(),
		a.configCommand(),
	)
	return root
}

// setup loads the configuration and installs the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	logger, closeLog, err := logging.Setup(logging.Options{
		Verbose: a.verbose,
		LogDir:  a.logDir,
		Stderr:  a.stderr,
	})
	if err != nil {
		return err
	}
	a.logger = logger
	a.closeLog = closeLog
	slog.SetDefault(logger)

	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	cfg, err := config.Load(a.configPath, cmd.Flags())
	if config.IsConfigNotFound(err) && cmd.Name() == "ingest" {
		return a.createMissingConfig(err)
	}
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger.Debug("configuration loaded",
		"index", cfg.Index.Dir,
		"backend", cfg.Index.Backend,
		"chat", cfg.Chat.Provider+"/"+cfg.Chat.Model,
		"embedding", cfg.Embedding.Provider+"/"+cfg.Embedding.Model)
	return nil
}

// createMissingConfig writes the default template where the missing config
// was requested, so a first ingest leaves a file to edit behind.
func (a *app) createMissingConfig(err error) error {
	var notFound *config.ConfigNotFoundError
	if !errors.As(err, &notFound) {
		return err
	}
	created, createErr := config.WriteDefaultTemplate(notFound.RequestedPath)
	if createErr != nil {
		return fmt.Errorf("%w\n\nAlso failed to create default config at %s: %v", err, notFound.RequestedPath, createErr)
	}
	if created {
		fmt.Fprintf(a.stderr, "Created default config at %s\n", notFound.RequestedPath)
	}
	fmt.Fprintln(a.stderr, "Review the chat and embedding settings in it and rerun `codesage ingest`.")
	return err
}
