// Package main implements eventdeck-maint, the one-shot maintenance tool:
// retention purge, store optimize, analytics export and archive inspection.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/eventdeck/eventdeck/internal/app"
	"github.com/eventdeck/eventdeck/internal/config"
	"github.com/eventdeck/eventdeck/internal/maintenance"
	"github.com/eventdeck/eventdeck/pkg/types"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: eventdeck-maint [global options] <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  purge     Delete analytics rows older than the retention window\n")
	fmt.Fprintf(os.Stderr, "  optimize  Compact the analytics, event and cache stores\n")
	fmt.Fprintf(os.Stderr, "  export    Write analytics rows for a period as CSV or JSON\n")
	fmt.Fprintf(os.Stderr, "  archive   Print the rows in a pre-purge archive object as JSON\n\n")
	fmt.Fprintf(os.Stderr, "Global options:\n")
	flag.PrintDefaults()
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file (YAML or JSON)")
	dataDir := flag.String("data-dir", "", "Base directory for all data files")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall deadline for the command")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configFile, *dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "eventdeck-maint: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "purge":
		err = runPurge(ctx, cfg, args)
	case "optimize":
		err = runOptimize(ctx, cfg)
	case "export":
		err = runExport(ctx, cfg, args)
	case "archive":
		err = runArchive(ctx, cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "eventdeck-maint: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "eventdeck-maint %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func loadConfig(configFile, dataDir string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	// One-shot commands never need the geo resolver.
	cfg.Analytics.Geo.Enabled = false
	return cfg, nil
}

func open(ctx context.Context, cfg *config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

func runPurge(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	days := fs.Int("days", 0, "Retention in days (default: configured retention)")
	archive := fs.Bool("archive", cfg.Maintenance.ArchiveBeforePurge, "Archive expiring rows before deleting them")
	fs.Parse(args)

	if *days < 0 {
		return fmt.Errorf("days must not be negative")
	}
	if *days > 0 {
		cfg.Analytics.RetentionDays = *days
	}
	cfg.Maintenance.ArchiveBeforePurge = *archive

	a, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Maintenance().Purge(ctx)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runOptimize(ctx context.Context, cfg *config.Config) error {
	a, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	started := time.Now()
	if err := a.Maintenance().Optimize(ctx); err != nil {
		return err
	}
	return printJSON(map[string]string{"status": "ok", "duration": time.Since(started).String()})
}

func runExport(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	format := fs.String("format", "csv", "Export format: csv or json")
	period := fs.String("period", string(types.Period30Days), "Period: 7_days, 30_days, 90_days, 1_year")
	out := fs.String("out", "", "Output file (default: stdout)")
	toStorage := fs.Bool("store", false, "Write the export to archive storage instead")
	fs.Parse(args)

	a, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	p := types.ParsePeriod(*period)
	if *toStorage {
		path, err := a.Engine().ArchiveExport(ctx, *format, p)
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"object": path})
	}

	data, err := a.Engine().Export(ctx, *format, p)
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(*out, data, 0644)
}

func runArchive(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	list := fs.Bool("list", false, "List archive objects instead of decoding one")
	fs.Parse(args)

	a, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if *list {
		paths, err := a.Objects().List(ctx, "purge/")
		if err != nil {
			return err
		}
		return printJSON(paths)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one archive object path")
	}
	data, err := a.Objects().Get(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	rows, err := maintenance.DecodeArchive(data)
	if err != nil {
		return err
	}
	return printJSON(rows)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
