package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RWKV-APP/app-website/releasenotes"
	"github.com/RWKV-APP/app-website/site"
)

type options struct {
	verbose bool
	dbPath  string
	envFile string
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "rwkv-site",
		Short:        "RWKV Chat download site backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides DATABASE_URL)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load environment from this file instead of .env")

	root.AddCommand(serveCommand(opts))
	root.AddCommand(refreshCommand(opts))
	root.AddCommand(latestCommand(opts))
	root.AddCommand(notesCommand(opts))
	return root
}

// setup loads the environment, configures logging and returns the config.
func setup(opts *options) (*site.Config, error) {
	if err := loadEnvFile(opts.envFile); err != nil {
		return nil, err
	}
	if err := setupLogging(os.Stderr, os.Getenv("LOG_LEVEL"), opts.verbose); err != nil {
		return nil, err
	}
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if opts.dbPath != "" {
		cfg.DatabasePath = opts.dbPath
	}
	return cfg, nil
}

func openSite(ctx context.Context, opts *options) (*site.Site, error) {
	cfg, err := setup(opts)
	if err != nil {
		return nil, err
	}
	return site.New(ctx, *cfg)
}

func serveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the API and pages, refreshing distributions periodically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := openSite(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Run(ctx)
}

func refreshCommand(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run one refresh cycle and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			s, err := openSite(ctx, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			report := s.Refresher().RefreshAll(ctx)
			if asJSON {
				return writeJSON(cmd, report)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func latestCommand(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "latest [type...]",
		Short: "Print the latest distribution of each type",
		RunE: func(cmd *cobra.Command, args []string) error {
			types := make([]site.Type, 0, len(args))
			for _, a := range args {
				t, ok := site.ParseType(a)
				if !ok {
					return fmt.Errorf("unknown distribution type %q", a)
				}
				types = append(types, t)
			}

			s, err := openSite(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if len(types) == 0 {
				types = s.Catalog().Types()
			}
			latest, err := s.Store().Latest(cmd.Context(), types...)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, site.PublicSet(latest))
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderLatest(types, latest))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func notesCommand(opts *options) *cobra.Command {
	var version, locale string
	cmd := &cobra.Command{
		Use:   "notes BUILD",
		Short: "Print the release notes for a build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			build, err := strconv.Atoi(args[0])
			if err != nil || build <= 0 {
				return releasenotes.ErrInvalidBuild
			}

			cfg, err := setup(opts)
			if err != nil {
				return err
			}
			reader, err := releasenotes.NewReader(releasenotes.Options{
				Root:          cfg.ReleaseNotesDir,
				DefaultLocale: cfg.ReleaseNotesDefaultLocale,
				Lines:         cfg.ReleaseNotesLines,
			})
			if err != nil {
				return err
			}

			note, err := reader.Find(build, version, locale)
			if err != nil {
				return err
			}
			if note == nil {
				return fmt.Errorf("no release notes for build %d", build)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderNote(note))
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "version hint for the patch fallback search")
	cmd.Flags().StringVar(&locale, "locale", "", "locale directory to read")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
