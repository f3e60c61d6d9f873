package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/invoice-checker/internal/invoice"
	"github.com/zombor/invoice-checker/internal/processing"
)

func newServeCommand(parent *ff.FlagSet, setup func() error) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port     = fs.IntLong("port", 8080, "HTTP server port")
		authUser = fs.StringLong("auth-user", "", "basic auth username (optional)")
		authPass = fs.StringLong("auth-pass", "", "basic auth password (optional)")
		backend  = registerBackendFlags(fs)
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "invoice-checker serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := setup(); err != nil {
				return err
			}
			b, err := backend.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			server := processing.NewServer(b.service, processing.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			})
			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}
			return server.Run(ctx, fmt.Sprintf(":%d", *port))
		},
	}
}

func newScanCommand(parent *ff.FlagSet, setup func() error) *ff.Command {
	fs := ff.NewFlagSet("scan").SetParent(parent)
	var (
		output  = fs.StringLong("output", "./results", "directory for per-invoice JSON results")
		workers = fs.IntLong("workers", 4, "number of invoices extracted at once")
		backend = registerBackendFlags(fs)
	)

	return &ff.Command{
		Name:      "scan",
		Usage:     "invoice-checker scan [FLAGS] <DIR>",
		ShortHelp: "extract and check every invoice in a directory",
		LongHelp: "Extracts every PDF and image in DIR, validates each extraction, writes\n" +
			"<file>.json (acme.pdf.json) into --output and records the documents as one batch.",
		Flags: fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("scan needs exactly one directory: %w", ff.ErrHelp)
			}
			if err := setup(); err != nil {
				return err
			}
			b, err := backend.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			result, err := b.service.ScanDirectory(ctx, args[0], *workers)
			if err != nil {
				return err
			}

			invalid := 0
			for _, doc := range result.Documents {
				path, err := processing.WriteResult(*output, doc)
				if err != nil {
					return err
				}
				if !doc.Verdict.IsValid {
					invalid++
				}
				slog.Info("Wrote result", "source", doc.OriginalName, "path", path, "valid", doc.Verdict.IsValid)
			}

			summary := []any{
				"processed", len(result.Documents),
				"invalid", invalid,
				"failed", len(result.Failed),
				"skipped", len(result.Skipped),
			}
			if result.Batch != nil {
				summary = append(summary, "batch", result.Batch.ID)
			}
			slog.Info("Scan finished", summary...)

			if invalid > 0 || len(result.Failed) > 0 {
				return errInvalid
			}
			return nil
		},
	}
}

// fileVerdict is one line of validate output
type fileVerdict struct {
	File    string          `json:"file"`
	Verdict invoice.Verdict `json:"verdict"`
}

func newValidateCommand(parent *ff.FlagSet, setup func() error) *ff.Command {
	fs := ff.NewFlagSet("validate").SetParent(parent)

	return &ff.Command{
		Name:      "validate",
		Usage:     "invoice-checker validate <FILE.json> ...",
		ShortHelp: "check already extracted invoice JSON files",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("validate needs at least one file: %w", ff.ErrHelp)
			}
			if err := setup(); err != nil {
				return err
			}
			return validateFiles(os.Stdout, args)
		},
	}
}

// validateFiles prints one JSON verdict per file and returns errInvalid when
// any invoice failed
func validateFiles(w io.Writer, paths []string) error {
	enc := json.NewEncoder(w)
	failed := false
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		verdict := invoice.ValidateJSON(data)
		if !verdict.IsValid {
			failed = true
		}
		if err := enc.Encode(fileVerdict{File: path, Verdict: verdict}); err != nil {
			return fmt.Errorf("writing verdict: %w", err)
		}
	}
	if failed {
		return errInvalid
	}
	return nil
}
