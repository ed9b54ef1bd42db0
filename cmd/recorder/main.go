// Command recorder synchronizes simulator streams and writes them to chunked
// container files until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/simrecord/internal/config"
	"github.com/banshee-data/simrecord/internal/monitoring"
	"github.com/banshee-data/simrecord/internal/recorder"
	"github.com/banshee-data/simrecord/internal/synthetic"
	"github.com/banshee-data/simrecord/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to JSON recording configuration (defaults built in when empty)")
	outputDir     = flag.String("output-dir", "", "Override the configured output directory")
	chunkSize     = flag.Int("chunk-size", 0, "Override records per file (0 keeps the configured value)")
	syncMode      = flag.String("sync-mode", "", "Override synchronization mode: exact or approximate")
	devMode       = flag.Bool("dev", false, "Record synthetic streams instead of reading the stdin feed")
	duration      = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	metricsListen = flag.String("metrics-listen", "", "Serve /metrics and /status on this address, e.g. localhost:9091")
	debug         = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	monitoring.SetDebug(*debug)
	log.Printf("recorder %s (built %s)", version.String(), version.BuildTime)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	schema, err := cfg.Schema()
	if err != nil {
		log.Fatalf("failed to build stream schema: %v", err)
	}
	rcfg, err := cfg.RecorderConfig()
	if err != nil {
		log.Fatalf("failed to build recorder configuration: %v", err)
	}
	metrics := monitoring.NewMetrics()
	rcfg.Metrics = metrics

	rec, err := recorder.New(schema, rcfg)
	if err != nil {
		log.Fatalf("failed to create recorder: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	var wg sync.WaitGroup

	if *metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/status", statusHandler(rec))
		srv := &http.Server{Addr: *metricsListen, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("serving metrics and status on http://%s", *metricsListen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server error: %v", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("metrics server shutdown error: %v", err)
			}
		}()
	}

	// Producers stop with ctx; the recorder is drained only after they return.
	var producers sync.WaitGroup
	if *devMode {
		gen := synthetic.NewGenerator(schema, time.Now().UnixNano())
		if err := rec.Start(gen.Available()); err != nil {
			log.Fatalf("failed to start recording: %v", err)
		}
		producers.Add(1)
		go func() {
			defer producers.Done()
			if err := gen.Run(ctx, rec, rec.Events()); err != nil {
				log.Printf("synthetic producer stopped: %v", err)
				stop()
			}
		}()
	} else {
		f := newFeed(os.Stdin, schema)
		available, err := f.Available()
		if err != nil {
			log.Fatalf("failed to read feed header: %v", err)
		}
		if err := rec.Start(available); err != nil {
			log.Fatalf("failed to start recording: %v", err)
		}
		// Not joined: a blocked stdin read must not hold up shutdown.
		go func() {
			if err := f.Run(ctx, rec); err != nil {
				log.Printf("feed error: %v", err)
			}
			// End of input ends the session.
			stop()
		}()
	}

	log.Printf("recording session %s to %s", rec.SessionID(), cfg.GetOutputDir())
	<-ctx.Done()

	producers.Wait()
	rec.Stop()
	rec.Wait()
	wg.Wait()

	for _, path := range rec.Files() {
		log.Printf("wrote %s", path)
	}
	log.Printf("recorded %d records", rec.Total())
	if err := rec.Err(); err != nil {
		log.Printf("last recording error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads -config, or starts from defaults, and applies the flag
// overrides.
func loadConfig() (*config.RecordingConfig, error) {
	cfg := config.EmptyRecordingConfig()
	if *configFile != "" {
		loaded, err := config.LoadRecordingConfig(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *outputDir != "" {
		cfg.SetOutputDir(*outputDir)
	}
	if *chunkSize != 0 {
		cfg.SetChunkSize(*chunkSize)
	}
	if *syncMode != "" {
		cfg.SetSyncMode(*syncMode)
	}
	return cfg, cfg.Validate()
}
