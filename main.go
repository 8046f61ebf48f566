package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MindDevastation/factory-vm/api"
	"github.com/MindDevastation/factory-vm/approval"
	"github.com/MindDevastation/factory-vm/config"
	"github.com/MindDevastation/factory-vm/importer"
	"github.com/MindDevastation/factory-vm/log"
	"github.com/MindDevastation/factory-vm/metrics"
	"github.com/MindDevastation/factory-vm/orchestrator"
	"github.com/MindDevastation/factory-vm/origin"
	"github.com/MindDevastation/factory-vm/preflight"
	"github.com/MindDevastation/factory-vm/qa"
	"github.com/MindDevastation/factory-vm/store"
	"github.com/MindDevastation/factory-vm/trackcatalog"
	"github.com/MindDevastation/factory-vm/uploader"
	"github.com/MindDevastation/factory-vm/video"
)

// version is stamped at build time via -ldflags, following the teacher's
// own Version var convention.
var version string

func main() {
	if err := flag.Set("logtostderr", "true"); err != nil {
		glog.Fatal(err)
	}
	vFlag := flag.Lookup("v")
	fs := flag.NewFlagSet("factory-vm", flag.ExitOnError)

	role := fs.String("role", "all", "Worker role to run: all, importer, orchestrator, qa, uploader, trackcatalog, cleanup, api")
	workerID := fs.String("worker-id", defaultWorkerID(), "Identifier this process claims jobs under")
	versionFlag := fs.Bool("version", false, "print application version")
	verbosity := fs.String("v", "", "Log verbosity.  {4|5|6}")

	cfg, err := config.FromFlags(fs, os.Args[1:])
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}

	if *versionFlag {
		fmt.Printf("factory-vm version: %s\n", version)
		return
	}
	if *verbosity != "" {
		if err := vFlag.Value.Set(*verbosity); err != nil {
			glog.Fatal(err)
		}
	}

	s, err := store.Open(cfg.DBPath, store.DefaultConfig())
	if err != nil {
		glog.Fatalf("error opening store at %s: %s", cfg.DBPath, err)
	}
	defer s.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var back origin.Backend
	if cfg.OriginBackend == config.OriginBackendMock {
		back = origin.NewMock()
	} else {
		back = origin.NewLocal(cfg.OriginLocalRoot)
	}

	group, ctx := errgroup.WithContext(context.Background())

	runAll := *role == "all"

	if runAll || *role == "importer" {
		im := &importer.Importer{Store: s, Origin: back}
		group.Go(func() error {
			return pollLoop(ctx, "importer", cfg, func(now time.Time) (bool, error) {
				stats, err := im.RunCycle(ctx, now)
				return stats.ReleasesCreated > 0 || stats.JobsPromoted > 0, err
			})
		})
	}

	if runAll || *role == "orchestrator" {
		orch := &orchestrator.Orchestrator{Store: s, Origin: back, Cfg: cfg, Metrics: m}
		group.Go(func() error {
			return workerLoop(ctx, s, "orchestrator", *workerID, cfg, orch.RunCycle)
		})
	}

	if runAll || *role == "qa" {
		gate := &qa.Gate{Store: s, Prober: video.FFProbe{}, Cfg: cfg, Metrics: m}
		group.Go(func() error {
			return workerLoop(ctx, s, "qa", *workerID, cfg, func(ctx context.Context, workerID string, now time.Time) (bool, error) {
				stats, err := gate.RunCycle(ctx, workerID, now)
				return stats.Passed > 0 || stats.Failed > 0 || stats.Skipped, err
			})
		})
	}

	if runAll || *role == "uploader" {
		up := &uploader.Uploader{Store: s, Cfg: cfg, Metrics: m}
		group.Go(func() error {
			return workerLoop(ctx, s, "uploader", *workerID, cfg, up.RunCycle)
		})
	}

	if runAll || *role == "trackcatalog" {
		cat := &trackcatalog.Catalog{Store: s, Origin: back}
		group.Go(func() error {
			return pollLoop(ctx, "trackcatalog", cfg, func(now time.Time) (bool, error) {
				stats, err := cat.RunCycle(ctx, now)
				return stats.Discovered > 0, err
			})
		})
	}

	if runAll || *role == "cleanup" {
		group.Go(func() error {
			return pollLoop(ctx, "cleanup", cfg, func(now time.Time) (bool, error) {
				stats, err := approval.RunCleanupCycle(ctx, s, cfg, now)
				return stats.WorkspacesRemoved > 0 || stats.MP4sDeleted > 0, err
			})
		})
	}

	if runAll || *role == "api" {
		apiSrv := &api.Server{
			Store:     s,
			Approval:  &approval.Service{Store: s, Cfg: cfg},
			Preflight: &preflight.Checker{Store: s, Origin: back},
			Cfg:       cfg,
			Metrics:   m,
		}
		group.Go(func() error { return api.ListenAndServe(ctx, apiSrv) })
		group.Go(func() error { return serveMetrics(ctx, cfg.MetricsAddr, reg) })
	}

	group.Go(func() error { return handleSignals(ctx) })

	err = group.Wait()
	glog.Infof("shutdown complete, reason: %s", err)
}

func defaultWorkerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// pollLoop runs fn repeatedly, sleeping WorkerSleepSec whenever fn reports
// no work was found, until ctx is cancelled. Errors are logged, not fatal:
// one bad cycle should not bring the whole role down.
func pollLoop(ctx context.Context, role string, cfg config.Config, fn func(now time.Time) (bool, error)) error {
	sleep := time.Duration(cfg.WorkerSleepSec) * time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		did, err := fn(time.Now())
		if err != nil {
			log.LogError(role, "cycle error", err)
		}
		if !did {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sleep):
			}
		}
	}
}

// workerLoop is pollLoop plus a worker heartbeat row, for roles whose
// RunCycle claims an exclusive job lock (and thus need to be visible to
// the approval API's /v1/workers endpoint and to lock-staleness reasoning).
func workerLoop(ctx context.Context, s *store.Store, role, workerID string, cfg config.Config, cycle func(ctx context.Context, workerID string, now time.Time) (bool, error)) error {
	sleep := time.Duration(cfg.WorkerSleepSec) * time.Second
	hostname, _ := os.Hostname()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		now := time.Now()
		if err := s.TouchWorker(ctx, workerID, role, os.Getpid(), hostname, "", now); err != nil {
			log.LogError(role, "heartbeat failed", err)
		}

		claimed, err := cycle(ctx, workerID, now)
		if err != nil {
			log.LogError(role, "cycle error", err)
		}
		if !claimed {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sleep):
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := http.Server{Addr: addr, Handler: mux}

	log.LogNoRequestID("starting metrics server", "addr", addr)
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case sig := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", sig)
			return fmt.Errorf("caught signal=%v", sig)
		case <-ctx.Done():
			return nil
		}
	}
}
