package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// errInvalid makes the process exit 1 without printing an error; the
// verdicts already said what was wrong
var errInvalid = errors.New("invalid invoices")

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("INVOICE_CHECKER"))
	switch {
	case err == nil:
	case err == ff.ErrHelp:
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
	case errors.Is(err, ff.ErrHelp):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	case errors.Is(err, ff.ErrNoExec):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
		os.Exit(1)
	case errors.Is(err, errInvalid):
		os.Exit(1)
	default:
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *ff.Command {
	fs := ff.NewFlagSet("invoice-checker")
	logLevel := fs.StringLong("log-level", "info", "log level: debug, info, warn or error")
	_ = fs.BoolLong("version", "show version information")

	root := &ff.Command{
		Name:      "invoice-checker",
		Usage:     "invoice-checker [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "extract invoices with a vision model and check their arithmetic",
		Flags:     fs,
	}

	setup := func() error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
			return fmt.Errorf("parsing log level: %w", err)
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	}

	root.Subcommands = []*ff.Command{
		newServeCommand(fs, setup),
		newScanCommand(fs, setup),
		newValidateCommand(fs, setup),
	}
	return root
}
