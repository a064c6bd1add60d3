package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"tomorecon/pkg/config"
	"tomorecon/pkg/grid"
	"tomorecon/pkg/phantom"
	"tomorecon/pkg/reconstruction"
	"tomorecon/pkg/visualization"
)

func main() {
	configPath := flag.String("config", "tomorecon.yaml", "Path to the YAML configuration file")
	phantomName := flag.String("phantom", "default", "Input phantom: default or disk")
	fanBeam := flag.Bool("fan", false, "Acquire with a fan beam and rebin (overrides the config)")
	outputDir := flag.String("output-dir", "", "Directory for the reconstruction and intermediary results (default from config)")
	workers := flag.Int("workers", -1, "Number of goroutines per step (default from config, 0 for all cores)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	writeConfig := flag.String("write-config", "", "Write the default configuration to this path and exit")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *writeConfig)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *fanBeam {
		cfg.FanBeam.Enabled = true
	}
	if *workers >= 0 {
		cfg.Processing.NumWorkers = *workers
	}
	if *outputDir != "" {
		cfg.Output.IntermediaryDir = *outputDir
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration:\n%v", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		log.Fatalf("Invalid log level %q: %v", *logLevel, err)
	}
	if cfg.Output.Verbose {
		level = slog.LevelDebug
	}
	reconstruction.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	img, err := makePhantom(*phantomName, cfg)
	if err != nil {
		log.Fatal(err)
	}

	params := cfg.ReconstructionParams()
	reconstructor, err := reconstruction.NewReconstructor(params)
	if err != nil {
		log.Fatalf("Failed to create reconstructor: %v", err)
	}

	var sink *visualization.Sink
	if cfg.Output.SaveIntermediaryResults {
		sink, err = visualization.NewSink(cfg.Output.IntermediaryDir, cfg.Output.Format)
		if err != nil {
			log.Fatalf("Failed to create output sink: %v", err)
		}
		reconstructor.SetObserver(sink)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	mode := "parallel-beam"
	if params.FanBeam {
		mode = "fan-beam"
	}
	fmt.Printf("Reconstructing %dx%d %s phantom (%s, %s filter, %s backend)...\n",
		img.Width(), img.Height(), *phantomName, mode, params.Filter.Kind, reconstructor.Backend().Name())
	startTime := time.Now()
	if err := reconstructor.Process(ctx, img); err != nil {
		log.Fatalf("Reconstruction failed: %v", err)
	}
	processingTime := time.Since(startTime)

	metrics := reconstructor.GetMetrics()
	fmt.Printf("\nReconstruction completed in %.2f seconds\n\n", processingTime.Seconds())
	fmt.Printf("Validation Metrics:\n")
	fmt.Printf("===================\n")
	fmt.Printf("Root Mean Square Error (RMSE): %.6f\n", metrics.RMSE)
	fmt.Printf("Structural Similarity Index (SSIM): %.3f\n", metrics.SSIM)
	fmt.Printf("Correlation: %.3f\n", metrics.Correlation)
	fmt.Printf("Mutual Information (MI): %.3f\n", metrics.MI)
	fmt.Printf("Entropy Difference: %.3f bits\n", metrics.EntropyDiff)

	if sink == nil {
		// Always keep the final image.
		sink, err = visualization.NewSink(cfg.Output.IntermediaryDir, cfg.Output.Format)
		if err != nil {
			log.Fatalf("Failed to create output sink: %v", err)
		}
		if _, err := sink.Save(reconstruction.CheckpointReconstruction, reconstructor.Result()); err != nil {
			log.Fatalf("Failed to save reconstruction: %v", err)
		}
	}
	if err := sink.Err(); err != nil {
		log.Printf("Warning: some results could not be saved: %v", err)
	}

	abs, _ := filepath.Abs(cfg.Output.IntermediaryDir)
	fmt.Printf("\nResults saved to %s:\n", abs)
	for _, f := range sink.Files() {
		fmt.Printf("- %s\n", filepath.Base(f))
	}
}

// makePhantom builds the input image selected on the command line.
func makePhantom(name string, cfg *config.Config) (*grid.Grid2D[float32], error) {
	w, h, sp := cfg.Image.Width, cfg.Image.Height, cfg.Image.Spacing
	switch name {
	case "default":
		return phantom.Default(w, h, sp), nil
	case "disk":
		img := phantom.New(w, h, sp)
		r := 0.2 * float64(min(w, h)) * sp
		phantom.Draw(img, phantom.Disk(0, 0, r, 1))
		return img, nil
	}
	return nil, fmt.Errorf("unknown phantom %q (must be default or disk)", name)
}
