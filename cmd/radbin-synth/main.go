package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/chrissnell/radbin/internal/log"
	"github.com/chrissnell/radbin/internal/source"
	"github.com/chrissnell/radbin/internal/synth"
)

// params is the optional YAML file layout.
type params struct {
	Beam   synth.BeamParams   `yaml:"beam"`
	Hazard synth.HazardParams `yaml:"hazard"`
}

func main() {
	var (
		paramsFile = flag.String("params", "", "YAML file with beam and hazard parameters")
		outDir     = flag.String("out-dir", ".", "Directory for beam.csv and counter.csv")
		hours      = flag.Float64("hours", 0, "Run length in hours")
		step       = flag.Float64("step", 0, "Beam sample period in seconds")
		hazard     = flag.String("hazard", "", "Hazard shape: bathtub, plateau")
		rateScale  = flag.Float64("rate-scale", 0, "Failure rate multiplier")
		resetEvery = flag.Float64("reset-every", -1, "Toggle the reset flag every N seconds (0 disables)")
		seed       = flag.Uint64("seed", 0, "Random seed for beam and failures (0 keeps defaults)")
		debug      = flag.Bool("debug", false, "Turn on debugging output")
	)
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	p := params{Beam: synth.DefaultBeamParams(), Hazard: synth.DefaultHazardParams()}
	if *paramsFile != "" {
		data, err := os.ReadFile(*paramsFile)
		if err != nil {
			log.Fatalf("reading params: %v", err)
		}
		if err := yaml.UnmarshalStrict(data, &p); err != nil {
			log.Fatalf("parsing params: %v", err)
		}
	}
	if *hours > 0 {
		p.Beam.Hours = *hours
	}
	if *step > 0 {
		p.Beam.StepSec = *step
	}
	if *hazard != "" {
		p.Hazard.Mode = synth.HazardMode(*hazard)
	}
	if *rateScale > 0 {
		p.Hazard.RateScale = *rateScale
	}
	if *resetEvery >= 0 {
		p.Hazard.ResetEverySeconds = *resetEvery
	}
	if *seed != 0 {
		p.Beam.Seed = *seed
		p.Hazard.Seed = *seed + 1
	}

	beam, err := synth.Beam(p.Beam)
	if err != nil {
		log.Fatalf("beam: %v", err)
	}
	counter, err := synth.FailuresFromHazard(beam, p.Hazard)
	if err != nil {
		log.Fatalf("failures: %v", err)
	}

	var flags []string
	if p.Hazard.ResetEverySeconds > 0 {
		flags = []string{"run_flag"}
	}

	if err := writeFile(filepath.Join(*outDir, "beam.csv"), func(f *os.File) error {
		return source.WriteBeamCSV(f, beam)
	}); err != nil {
		log.Fatalf("%v", err)
	}
	if err := writeFile(filepath.Join(*outDir, "counter.csv"), func(f *os.File) error {
		return source.WriteCounterCSV(f, counter, flags)
	}); err != nil {
		log.Fatalf("%v", err)
	}

	log.Infow("synthetic run written",
		"dir", *outDir,
		"beam_samples", len(beam),
		"failures", len(counter),
		"hazard", p.Hazard.Mode,
		"span", time.Duration(p.Beam.Hours*float64(time.Hour)),
	)
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
