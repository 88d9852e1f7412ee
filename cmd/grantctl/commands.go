package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"grantsmith/api/internal/ask"
	"grantsmith/api/internal/config"
	"grantsmith/api/internal/export"
	"grantsmith/api/internal/generation"
	"grantsmith/api/internal/llm"
	"grantsmith/api/internal/proposal"
	"grantsmith/api/internal/store"
	"grantsmith/api/internal/templates"

	"github.com/spf13/cobra"
)

type options struct {
	templatesFile  string
	programmesFile string
	askKeyword     string
	askMarker      string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "grantctl",
		Short:         "Offline tools for Grantsmith proposals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.templatesFile, "templates", "", "YAML template catalog (defaults to the built-in set)")
	root.PersistentFlags().StringVar(&opts.programmesFile, "programmes", "", "YAML programme catalog (defaults to the built-in set)")
	root.PersistentFlags().StringVar(&opts.askKeyword, "ask-section", "budget", "Section name keyword that carries the funding ask")
	root.PersistentFlags().StringVar(&opts.askMarker, "ask-marker", "BUDGET_RECOMMENDATION", "Marker line keyword for the funding ask")

	root.AddCommand(
		templatesCmd(opts),
		formatCmd(),
		askCmd(opts),
		assembleCmd(),
		generateCmd(opts),
		migrateCmd(),
	)
	return root
}

func (o *options) catalog() (*templates.Catalog, error) {
	if strings.TrimSpace(o.templatesFile) == "" {
		return templates.Builtin(), nil
	}
	return templates.Load(o.templatesFile)
}

func (o *options) extractor() (*ask.Extractor, error) {
	programmes := ask.BuiltinCatalog()
	if strings.TrimSpace(o.programmesFile) != "" {
		var err error
		if programmes, err = ask.LoadCatalog(o.programmesFile); err != nil {
			return nil, err
		}
	}
	return ask.NewExtractor(programmes, ask.WithMarkerKeyword(o.askMarker)), nil
}

func templatesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List proposal templates and their sections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := opts.catalog()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, tmpl := range catalog.List() {
				marker := " "
				if tmpl.ID == catalog.DefaultID() {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s (%s)\n", marker, tmpl.ID, tmpl.Name)
				for i, section := range tmpl.Sections {
					fmt.Fprintf(out, "    %d. %s\n", i+1, section)
				}
			}
			return nil
		},
	}
}

func formatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "format <file>",
		Short: "Structure plain text into document blocks (JSON)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), export.Structure(text))
		},
	}
}

func askCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <file>",
		Short: "Extract the funding recommendation from budget text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			extractor, err := opts.extractor()
			if err != nil {
				return err
			}
			rec, ok := extractor.Extract(text)
			if !ok {
				return errors.New("no funding recommendation found")
			}
			fmt.Fprintln(cmd.OutOrStdout(), ask.Describe(rec))
			return nil
		},
	}
}

func assembleCmd() *cobra.Command {
	var fingerprint bool
	cmd := &cobra.Command{
		Use:   "assemble <snapshot.json>",
		Short: "Print the assembled text of a proposal snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			text := proposal.Assemble(doc)
			if fingerprint {
				fmt.Fprintln(cmd.OutOrStdout(), proposal.Fingerprint(text))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fingerprint, "fingerprint", false, "Print only the content fingerprint")
	return cmd
}

func generateCmd(opts *options) *cobra.Command {
	var (
		provider string
		model    string
		section  string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "generate <snapshot.json>",
		Short: "Generate sections of a proposal snapshot and write it back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			doc, err := readSnapshot(path)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			generator, err := llm.New(ctx, llm.Options{
				Provider: provider,
				APIKey:   os.Getenv("LLM_API_KEY"),
				Model:    model,
				BaseURL:  os.Getenv("LLM_BASE_URL"),
				Timeout:  timeout,
			})
			if err != nil {
				return err
			}
			extractor, err := opts.extractor()
			if err != nil {
				return err
			}
			sink := generation.SinkFunc(func(_ context.Context, doc proposal.Document) error {
				return writeSnapshot(path, doc)
			})
			orchestrator, err := generation.New(proposal.NewStore(doc), generator, sink,
				generation.WithAskKeyword(opts.askKeyword),
				generation.WithExtractor(extractor),
			)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if section != "" {
				updated, err := orchestrator.GenerateSection(ctx, section, nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s\n", updated.Name, updated.State())
				return nil
			}

			report, err := orchestrator.GenerateAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "run %s: %d/%d complete, updated %d, failed %d, skipped %d\n",
				report.RunID, report.Completed, report.Total, len(report.Updated), len(report.Failed), len(report.Skipped))
			if report.Ask != nil {
				fmt.Fprintf(out, "ask: %s (%s)\n", ask.Describe(report.Ask.Recommendation), report.Ask.Provenance)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "echo", "Text provider: echo, openai or gemini")
	cmd.Flags().StringVar(&model, "model", "", "Provider model name")
	cmd.Flags().StringVar(&section, "section", "", "Generate only this section")
	cmd.Flags().DurationVar(&timeout, "timeout", 90*time.Second, "Per-request provider timeout")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert Postgres migrations",
	}
	run := func(apply func(context.Context, *config.Config) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return apply(cmd.Context(), &cfg)
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cfg *config.Config) error {
				db, err := store.Open(ctx, cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer db.Close()
				return store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert applied migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cfg *config.Config) error {
				db, err := store.Open(ctx, cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer db.Close()
				return store.RevertMigrations(ctx, db, cfg.MigrationsDir)
			}),
		},
	)
	return cmd
}

// readInput reads a file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		raw, err := io.ReadAll(cmd.InOrStdin())
		return string(raw), err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func readSnapshot(path string) (proposal.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return proposal.Document{}, err
	}
	var doc proposal.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return proposal.Document{}, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return proposal.Normalize(doc), nil
}

func writeSnapshot(path string, doc proposal.Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
