package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"sensor-etl/internal/config"
	"sensor-etl/internal/importer"
	"sensor-etl/internal/report"
	"sensor-etl/internal/source"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file (optional)")
	inputDir := flag.String("input", "", "Input directory, overrides input.dir")
	chunkSize := flag.Int("chunk-size", 0, "Records per transaction, overrides chunk_size")
	jsonOut := flag.Bool("json", false, "Print the run summary as JSON on stdout")
	dryRun := flag.Bool("dry-run", false, "List the files that would be imported and exit")
	flag.Parse()

	// Configure global logger (timestamped, info level by default).
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := godotenv.Load(); err != nil {
		logrus.Debugf("no .env file loaded: %v", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *inputDir != "" {
		cfg.Input.Dir = *inputDir
	}
	if *chunkSize != 0 {
		cfg.ChunkSize = *chunkSize
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if err := cfg.Log.Apply(); err != nil {
		log.Fatalf("invalid log config: %v", err)
	}

	if *dryRun {
		paths, err := source.Discover(cfg.Input.Dir, cfg.Input.Pattern)
		if err != nil {
			log.Fatalf("discovery failed: %v", err)
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return
	}

	// Prepare cancellable context that listens to OS signals (Ctrl+C). The
	// run stops at the next chunk boundary.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sum, err := importer.Run(ctx, cfg)
	if err != nil {
		logrus.Errorf("import terminated with error: %v", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			logrus.Errorf("failed to encode summary: %v", err)
		}
	} else {
		c := sum.Counters
		fmt.Printf("status=%s read=%d written=%d duplicates=%d errors=%d duplicate_log=%s\n",
			sum.Status, c.Read, c.Written, c.Duplicates, c.Errors, sum.DuplicateLog)
	}

	if sum.Status != report.StatusCompleted {
		os.Exit(1)
	}
}

// loadConfig reads the config file. The default path may be absent, in which
// case defaults and environment overrides are used.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && !flagSet("config") {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func flagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
