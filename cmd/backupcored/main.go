// Command backupcored runs the backup/sync engine: a control-plane HTTP
// server fronting a scheduler that drives the directory walker and
// chunker/sampler pipeline. Grounded on the teacher's cmd/sesamefs/main.go
// subcommand-dispatch style; the health/migrate subcommands were dropped
// since they were purely database-specific.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Sesame-Disk/backupcore/internal/config"
	"github.com/Sesame-Disk/backupcore/internal/controlplane"
	"github.com/Sesame-Disk/backupcore/internal/pipeline"
	"github.com/Sesame-Disk/backupcore/internal/scheduler"
	"github.com/Sesame-Disk/backupcore/internal/sink"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	if len(os.Args) < 2 {
		os.Args = append(os.Args, "serve")
	}

	switch os.Args[1] {
	case "serve":
		runServer()
	case "scan":
		runScan()
	case "version":
		printVersion()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		fmt.Println("Available commands: serve, scan, version")
		os.Exit(1)
	}
}

// buildPipeline assembles a pipeline.Pipeline from cfg, using a discard
// sink: remote storage transport is out of scope here (spec.md's
// non-goal), so the pipeline's Put/Exists calls go to sink.NopSink{}
// unless an operator wires a real ChunkSink implementation in.
func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	ignoreSet, err := cfg.IgnoreSet()
	if err != nil {
		return nil, fmt.Errorf("ignore rules: %w", err)
	}
	chunkerCfg, err := cfg.ChunkerConfig()
	if err != nil {
		return nil, fmt.Errorf("chunker config: %w", err)
	}
	samplerCfg, err := cfg.SamplerConfig()
	if err != nil {
		return nil, fmt.Errorf("sampler config: %w", err)
	}
	adaptive, err := cfg.AdaptiveSizer()
	if err != nil {
		return nil, fmt.Errorf("adaptive sizer: %w", err)
	}

	pcfg := pipeline.Config{
		Root:     cfg.Walker.Root,
		Walker:   cfg.WalkerOptions(ignoreSet),
		Chunker:  chunkerCfg,
		Sampler:  samplerCfg,
		Mode:     pipeline.ModeChunk,
		Parallel: cfg.Chunking.Parallel,
		Adaptive: adaptive,
	}
	return pipeline.New(pcfg, sink.NopSink{})
}

func runServer() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	p, err := buildPipeline(cfg)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	tasks := scheduler.NewRegistry()
	for _, tc := range cfg.Scheduler.Tasks {
		task, err := buildTask(tc, p)
		if err != nil {
			log.Fatalf("Failed to build scheduled task %q: %v", tc.Name, err)
		}
		tasks.Add(task)
		if err := task.Start(); err != nil {
			log.Fatalf("Failed to start scheduled task %q: %v", tc.Name, err)
		}
	}

	server := controlplane.NewServer(controlplane.Config{
		Addr:           cfg.Server.Addr,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		DevMode:        cfg.Server.DevMode,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, p, tasks)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("Shutting down...")
		tasks.DisposeAll()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("backupcored %s starting on %s", Version, cfg.Server.Addr)
	if err := server.Run(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func buildTask(tc config.ScheduledTaskConfig, p *pipeline.Pipeline) (*scheduler.Task, error) {
	action := func(ctx context.Context) {
		if _, err := p.Run(ctx); err != nil {
			log.Printf("scheduled task %q: scan failed: %v", tc.Name, err)
		}
	}

	switch tc.Kind {
	case "cron":
		return scheduler.NewCron(tc.Name, tc.CronExpr, action)
	default:
		return scheduler.NewInterval(tc.Name, tc.Interval, tc.ImmediateFirst, action)
	}
}

// runScan runs a single pipeline pass against a root path and exits,
// printing aggregate statistics. The root defaults to the configured
// walker root but can be overridden as the first argument after "scan".
func runScan() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if len(os.Args) > 2 {
		cfg.Walker.Root = os.Args[2]
	}
	if cfg.Walker.Root == "" {
		log.Fatal("scan: no root path configured (set walker.root or pass one as an argument)")
	}

	p, err := buildPipeline(cfg)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	result, err := p.Run(context.Background())
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}

	files, dirs, bytes := result.Scan.Stats.Snapshot()
	fmt.Printf("scanned %s: %d files, %d directories, %d bytes, %d errors, %s elapsed\n",
		cfg.Walker.Root, files, dirs, bytes, len(result.Scan.Errors), result.Scan.Elapsed)
	for _, e := range result.Scan.Errors {
		fmt.Printf("  error: %s\n", e.Error())
	}
}

func printVersion() {
	fmt.Printf("backupcored %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}
