package main

import (
	"context"
	"flag"
	"os"
	"sync"

	"alats/internal/alert"
	"alats/internal/core"
	"alats/internal/exchange/sim"
	"alats/internal/model"
	"alats/internal/obs"
	"alats/internal/ops"
	"alats/internal/policy"
	"alats/internal/state"
	"alats/pkg/conn"

	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	configPath := flag.String("config", "configs/alats.yaml", "Path to YAML config")
	envFile := flag.String("env", ".env", "Optional dotenv file with secrets")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		logs.Errorf("trader: %+v", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := ops.LoadEnv(envFile); err != nil {
		return err
	}
	loaded, err := ops.Load(configPath)
	if err != nil {
		return err
	}

	if addr := loaded.File.Profiling.PyroscopeAddr; addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: loaded.File.Profiling.ApplicationName,
			ServerAddress:   addr,
			Logger:          profilerLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "start pyroscope")
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Infof("trader: shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	metrics := obs.NewMetrics()

	ex, err := sim.New(loaded.Sim)
	if err != nil {
		return err
	}

	oracle, closeOracle, err := newOracle(loaded)
	if err != nil {
		return err
	}
	defer closeOracle()

	store, archive, err := openStore(loaded.File.Persistence)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logs.Warnf("trader: close store, err: %+v", err)
		}
	}()

	notifier, stopAlerts := startAlerts(loaded.File.Alert, metrics)
	defer stopAlerts()

	rt, err := core.New(loaded.Runtime, core.Deps{
		Exchange: ex,
		Oracle:   oracle,
		Store:    store,
		Archive:  archive,
		Notifier: notifier,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}
	if err := rt.Recover(ctx); err != nil {
		return err
	}
	return rt.Run(ctx)
}

func newOracle(loaded ops.Loaded) (policy.Oracle, func(), error) {
	if loaded.ONNX.ModelPath == "" {
		logs.Infof("trader: linear oracle over %d features", loaded.Linear.WindowSize*model.FeatureCount)
		return policy.NewLinearOracle(loaded.Linear), func() {}, nil
	}
	o, err := policy.NewONNXOracle(loaded.ONNX)
	if err != nil {
		return nil, nil, err
	}
	logs.Infof("trader: onnx oracle %s, training spool %q", loaded.ONNX.ModelPath, loaded.ONNX.SpoolDir)
	return o, func() {
		if err := o.Close(); err != nil {
			logs.Warnf("trader: close onnx oracle, err: %+v", err)
		}
	}, nil
}

func openStore(cfg ops.PersistenceConfig) (state.Store, state.Archive, error) {
	switch cfg.Driver {
	case ops.DriverPostgres:
		opt := conn.Option{ConnString: cfg.DSN}
		client, err := conn.New(opt)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect postgres").With("target", opt.Redacted())
		}
		store, err := state.NewPGStore(client, cfg.Retain)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		logs.Infof("trader: checkpoints in postgres %s, retain %d", opt.Redacted(), cfg.Retain)
		return store, store, nil
	default:
		store, err := state.NewFileStore(cfg.Dir, cfg.Retain)
		if err != nil {
			return nil, nil, err
		}
		logs.Infof("trader: checkpoints in %s, retain %d", store.Dir(), cfg.Retain)
		return store, store, nil
	}
}

// startAlerts builds the fan-out behind a non-blocking dispatcher. The
// returned stop flushes queued alerts and shuts the hub down.
func startAlerts(cfg ops.AlertConfig, metrics *obs.Metrics) (*alert.Dispatcher, func()) {
	targets := alert.FanOut{alert.LogNotifier{}}
	if cfg.WebhookURL != "" {
		targets = append(targets, alert.NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout))
	}

	bg, stopBg := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	if cfg.HubAddr != "" {
		hub := alert.NewHub()
		targets = append(targets, hub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hub.Serve(bg, cfg.HubAddr); err != nil {
				logs.Errorf("trader: alert hub stopped, err: %+v", err)
			}
		}()
	}

	d := alert.NewDispatcher(targets, cfg.QueueSize, cfg.Timeout, metrics)
	done := make(chan struct{})
	go func() {
		d.Run(bg)
		close(done)
	}()

	return d, func() {
		d.Close()
		<-done
		stopBg()
		wg.Wait()
	}
}

type profilerLogger struct{}

func (profilerLogger) Infof(format string, args ...interface{})  { logs.Debugf(format, args...) }
func (profilerLogger) Debugf(format string, args ...interface{}) { logs.Debugf(format, args...) }
func (profilerLogger) Errorf(format string, args ...interface{}) { logs.Errorf(format, args...) }
