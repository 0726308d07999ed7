package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dallaspetsalive/newdigs-sync/internal/airtable"
	"github.com/dallaspetsalive/newdigs-sync/internal/alert"
	"github.com/dallaspetsalive/newdigs-sync/internal/config"
	"github.com/dallaspetsalive/newdigs-sync/internal/images"
	"github.com/dallaspetsalive/newdigs-sync/internal/runner"
	"github.com/dallaspetsalive/newdigs-sync/internal/sheets"
	"github.com/dallaspetsalive/newdigs-sync/internal/shortener"
	"github.com/dallaspetsalive/newdigs-sync/internal/storage"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "newdigs",
	Short: "New Digs adoption-record sync job",
	Long: `newdigs reconciles the New Digs foster-to-adopt program records.

One run fetches the pet and applicant tables, stamps status transition
dates, generates prefilled adoption-contract links, normalizes photo
names, and syncs photos and thumbnails to the media bucket. Optional
passes mirror tables to Google Sheets and garbage-collect stale short
links.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd executes one full sync run
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full sync pass over all tables",
	Long: `Executes every pass once: date stamping, contract links, photo
renames, thumbnails, photo uploads, and the optional link-cleanup and
sheet-mirror passes when enabled in the config. Prints the run summary
as JSON on stdout.`,
	RunE: runSync,
}

// sheetsCmd mirrors the tables to Google Sheets only
var sheetsCmd = &cobra.Command{
	Use:   "sheets",
	Short: "Mirror the record tables to Google Sheets",
	RunE:  runSheets,
}

// cleanupCmd garbage-collects stale short links only
var cleanupCmd = &cobra.Command{
	Use:   "cleanup-links",
	Short: "Delete short links for pets no longer in the program",
	RunE:  runCleanup,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "newdigs.yaml", "Path to config file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Overall run timeout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sheetsCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// runContext returns a context cancelled by SIGINT/SIGTERM and bounded by
// the --timeout flag.
func runContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// loadConfig loads and validates the run configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sheetMappings pairs each table with its configured spreadsheet key,
// skipping tables with no key.
func sheetMappings(cfg *config.Config) []sheets.Mapping {
	pairs := []struct {
		table string
		key   string
	}{
		{runner.TablePets, cfg.Sheets.PetsKey},
		{runner.TableApplicants, cfg.Sheets.AdoptionAppsKey},
		{runner.TableParticipants, cfg.Sheets.ParticipantsKey},
		{runner.TableOwners, cfg.Sheets.OriginalOwnersKey},
	}
	var mappings []sheets.Mapping
	for _, p := range pairs {
		if p.key != "" {
			mappings = append(mappings, sheets.Mapping{Table: p.table, FileKey: p.key})
		}
	}
	return mappings
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := runContext()
	defer cancel()

	store := airtable.New(airtable.Config{
		APIKey:  cfg.Airtable.APIKey,
		BaseID:  cfg.Airtable.BaseID,
		BaseURL: cfg.Airtable.BaseURL,
		Timeout: 30 * time.Second,
	}, logger)

	short := shortener.New(shortener.Config{
		APIKey:   cfg.Shortener.APIKey,
		DomainID: cfg.Shortener.DomainID,
		BaseURL:  cfg.Shortener.BaseURL,
		Timeout:  30 * time.Second,
	}, logger)

	proc, err := images.New(images.Config{}, logger)
	if err != nil {
		return fmt.Errorf("failed to create image processor: %w", err)
	}
	defer proc.Close()

	storageCfg := storage.Config{
		Region:          cfg.AWS.Region,
		Bucket:          cfg.AWS.Bucket,
		PhotoPrefix:     cfg.AWS.PhotoPrefix,
		ThumbnailPrefix: cfg.AWS.ThumbnailPrefix,
		PublicBaseURL:   cfg.AWS.PublicBaseURL,
	}
	sess, err := storage.NewSession(storageCfg)
	if err != nil {
		return fmt.Errorf("failed to create AWS session: %w", err)
	}

	deps := runner.Deps{
		Store:     store,
		Shortener: short,
		Images:    proc,
		Photos:    storage.New(storageCfg, sess, logger),
		Alerts:    alert.New(sess, logger),
		Log:       logger,
	}
	opts := runner.Options{
		CleanupLinks: cfg.Cleanup.Enabled,
		SyncSheets:   cfg.Sheets.Enabled,
	}

	if cfg.Sheets.Enabled {
		writer, err := sheets.NewGoogleWriter(ctx, cfg.Sheets.CredentialsFile)
		if err != nil {
			return fmt.Errorf("failed to create sheets client: %w", err)
		}
		deps.Sheets = sheets.NewMirror(store, writer, logger)
		opts.SheetMappings = sheetMappings(cfg)
	}

	summary, err := runner.New(deps, opts).Run(ctx)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runSheets(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Sheets.CredentialsFile == "" {
		return fmt.Errorf("sheets credentials file is not configured")
	}

	ctx, cancel := runContext()
	defer cancel()

	store := airtable.New(airtable.Config{
		APIKey:  cfg.Airtable.APIKey,
		BaseID:  cfg.Airtable.BaseID,
		BaseURL: cfg.Airtable.BaseURL,
		Timeout: 30 * time.Second,
	}, logger)

	writer, err := sheets.NewGoogleWriter(ctx, cfg.Sheets.CredentialsFile)
	if err != nil {
		return fmt.Errorf("failed to create sheets client: %w", err)
	}

	rows := sheets.NewMirror(store, writer, logger).SyncAll(ctx, sheetMappings(cfg))
	return printJSON(map[string]int{"google_sheets_rows_written": rows})
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := runContext()
	defer cancel()

	store := airtable.New(airtable.Config{
		APIKey:  cfg.Airtable.APIKey,
		BaseID:  cfg.Airtable.BaseID,
		BaseURL: cfg.Airtable.BaseURL,
		Timeout: 30 * time.Second,
	}, logger)

	pets, err := store.FetchAll(ctx, runner.TablePets)
	if err != nil {
		return fmt.Errorf("fetch pets: %w", err)
	}

	short := shortener.New(shortener.Config{
		APIKey:   cfg.Shortener.APIKey,
		DomainID: cfg.Shortener.DomainID,
		BaseURL:  cfg.Shortener.BaseURL,
		Timeout:  30 * time.Second,
	}, logger)

	n, err := short.Cleanup(ctx, runner.ActivePetIDs(pets))
	if err != nil {
		return err
	}
	return printJSON(map[string]int{"links_cleaned_up": n})
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
