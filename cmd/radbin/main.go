package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/chrissnell/radbin/internal/analysis"
	"github.com/chrissnell/radbin/internal/log"
	"github.com/chrissnell/radbin/internal/source"
	"github.com/chrissnell/radbin/internal/store"
	"github.com/chrissnell/radbin/pkg/config"
	"github.com/chrissnell/radbin/pkg/tableformat"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	var (
		cfgFile     = flag.String("config", "", "Path to YAML configuration (defaults apply when empty)")
		beamCSV     = flag.String("beam", "", "Beam CSV file (overrides input.beam_csv)")
		counterCSV  = flag.String("counter", "", "Counter CSV file (overrides input.counter_csv)")
		mode        = flag.String("mode", "", "Binning mode: fluence, reset, count")
		kMultiple   = flag.Int("k", 0, "Resets per bin in reset mode")
		nBins       = flag.Int("n-bins", 0, "Bin count in fluence mode")
		targetN     = flag.Int("target-n", 0, "Events per bin in count mode")
		alpha       = flag.Float64("alpha", 0, "Confidence level complement, e.g. 0.05 for 95%")
		exposureSrc = flag.String("source", "", "Exposure source for reset/count modes: beam, wall")
		seMethod    = flag.String("se", "", "Trend standard errors: mle, robust, pearson")
		format      = flag.String("format", "", "Output format: json, msgpack, csv, xlsx")
		out         = flag.String("out", "", "Output file (stdout when empty)")
		storeDriver = flag.String("store-driver", "", "Store results in this database: sqlite, postgres")
		storeDSN    = flag.String("store-dsn", "", "Store connection string")
		label       = flag.String("label", "", "Label recorded with a stored run")
		listRuns    = flag.Bool("list-runs", false, "List stored runs and exit")
		debug       = flag.Bool("debug", false, "Turn on debugging output")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("radbin %s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfig(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["beam"] || set["counter"] {
		cfg.Input.Type = "csv"
	}
	override(set, "beam", &cfg.Input.BeamCSV, *beamCSV)
	override(set, "counter", &cfg.Input.CounterCSV, *counterCSV)
	override(set, "mode", &cfg.Binning.Mode, *mode)
	override(set, "k", &cfg.Binning.KMultiple, *kMultiple)
	override(set, "n-bins", &cfg.Binning.NBins, *nBins)
	override(set, "target-n", &cfg.Binning.TargetN, *targetN)
	override(set, "alpha", &cfg.Binning.Alpha, *alpha)
	override(set, "source", &cfg.Binning.Source, *exposureSrc)
	override(set, "se", &cfg.Trend.SEMethod, *seMethod)
	override(set, "format", &cfg.Output.Format, *format)
	override(set, "out", &cfg.Output.Path, *out)
	override(set, "debug", &cfg.Debug, *debug)
	if *storeDriver != "" {
		cfg.Store = &config.StoreData{Driver: *storeDriver, DSN: *storeDSN}
	}
	if cfg.Store != nil && set["label"] {
		cfg.Store.Label = *label
	}
	if !set["format"] && cfg.Output.Path != "" {
		if f, err := tableformat.ParseFormat(filepath.Ext(cfg.Output.Path)); err == nil {
			cfg.Output.Format = string(f)
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(cfg.Debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	if data, err := config.Marshal(cfg); err == nil {
		log.Debugf("effective configuration:\n%s", data)
	}
	if set["label"] && cfg.Store == nil {
		log.Warnf("-label %q ignored: no store configured", *label)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *listRuns {
		err = printRuns(ctx, cfg, os.Stdout)
	} else {
		err = run(ctx, cfg)
	}
	if err != nil {
		log.Errorf("radbin: %v", err)
		log.Sync()
		os.Exit(1)
	}
}

func loadConfig(cfgFile string) (*config.ConfigData, error) {
	if cfgFile == "" {
		return config.Load("")
	}
	filename, _ := filepath.Abs(cfgFile)
	cfgData, err := config.NewYAMLProvider(filename).LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error reading config file. Did you pass the -config flag? Run with -h for help: %w", err)
	}
	return cfgData, nil
}

func override[T any](set map[string]bool, name string, dst *T, v T) {
	if set[name] {
		*dst = v
	}
}

func run(ctx context.Context, cfg *config.ConfigData) error {
	logger := log.Named("radbin")

	src, closeSrc, err := cfg.InputSource(ctx)
	if err != nil {
		return err
	}
	defer closeSrc()

	beam, counter, err := source.Load(ctx, src, cfg.Columns, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := analysis.Run(cfg.ToAnalysis(), beam, counter, logger)
	if err != nil {
		return err
	}
	logger.Debugw("analysis timing", "elapsed", time.Since(start))
	logger.Info(res.Trend.String())

	if err := writeReport(cfg, tableformat.NewReport(res)); err != nil {
		return err
	}

	if cfg.Store != nil {
		st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, log.Named("store"))
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.SaveRun(ctx, cfg.Store.Label, res); err != nil {
			return err
		}
	}
	return nil
}

func writeReport(cfg *config.ConfigData, rep tableformat.Report) error {
	if cfg.Output.Path == "" {
		return tableformat.Write(os.Stdout, cfg.OutputFormat(), rep)
	}
	f, err := os.Create(cfg.Output.Path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	if err := tableformat.Write(f, cfg.OutputFormat(), rep); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", cfg.Output.Path, err)
	}
	return f.Close()
}

func printRuns(ctx context.Context, cfg *config.ConfigData, w io.Writer) error {
	if cfg.Store == nil {
		return fmt.Errorf("-list-runs needs a store (-store-driver/-store-dsn or store: in the config)")
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, log.Named("store"))
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tLABEL\tMODE\tSOURCE\tEVENTS\tRESETS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), r.Label, r.Mode, r.Source, r.Events, r.Resets)
	}
	return tw.Flush()
}
