package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"tradecore/internal/audit"
	"tradecore/internal/core"
	"tradecore/internal/execution"
	"tradecore/internal/guardian"
	"tradecore/internal/ops"
	"tradecore/internal/schema"
	"tradecore/internal/store"
	"tradecore/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	orderCount := flag.Int("order-count", 1, "Number of simulated orders to run")
	orderInterval := flag.Duration("order-interval", 0, "Delay between simulated orders")
	account := flag.String("account", "sim-acc", "Account for simulated orders")
	instrument := flag.String("instrument", "rb2501", "Instrument for simulated orders")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "tradecore/trader",
			ServerAddress:   *pyroscopeAddr,
			Tags: map[string]string{
				"env": "local",
			},
			Logger: emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("pyroscope start failed: %v", err)
			os.Exit(1)
		}
		defer func() { _ = profiler.Stop() }()
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("config load failed: %v", err)
		os.Exit(1)
	}

	if err := run(ctx, loaded, *orderCount, *orderInterval, *account, *instrument); err != nil {
		logs.Errorf("trader failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, loaded ops.Loaded, orderCount int, orderInterval time.Duration, account, instrument string) error {
	writer, err := audit.NewWriter(loaded.Audit)
	if err != nil {
		return err
	}
	pipeline := audit.NewPipeline(writer, loaded.AuditQueueSize)
	if err := pipeline.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			logs.Errorf("audit pipeline close: %v", err)
		}
	}()

	var warm *store.PG
	sink := audit.Sink(audit.PipelineSink{P: pipeline})
	if loaded.Postgres.Enabled {
		client, err := conn.New(conn.Option{
			Host:     loaded.Postgres.Host,
			Port:     loaded.Postgres.Port,
			User:     loaded.Postgres.User,
			Password: loaded.Postgres.Password,
			Database: loaded.Postgres.Database,
			SSLMode:  loaded.Postgres.SSLMode,
		})
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		warm, err = store.NewPG(client)
		if err != nil {
			return err
		}
		sink = teeSink{primary: sink, warm: warm}
		logs.Infof("warm audit store enabled: %s/%s", loaded.Postgres.Host, loaded.Postgres.Database)
	}

	broker := newSimBroker()
	engine := core.NewEngine(core.Options{
		Config: loaded,
		Broker: broker,
		Audit:  audit.NewTracker(loaded.RunID, sink),
	})
	broker.engine = engine
	engine.Start()

	var publisher *store.Publisher
	if loaded.Redis.Enabled {
		publisher, err = store.NewPublisher(loaded.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = publisher.Close() }()
		engine.Guardian().SetModeHook(func(mode guardian.Mode) {
			if err := publisher.PublishMode(context.Background(), mode); err != nil {
				logs.Errorf("publish mode: %v", err)
			}
		})
		logs.Infof("supervisory state publisher enabled: %s", loaded.Redis.Addr)
	}

	go engine.RunGuardian(ctx)
	go runTickers(ctx, engine, loaded.ReconcileInterval)

	exec := engine.NewExecution(schema.Portfolio{instrument: int64(orderCount)})
	exec.Start()

	for i := 0; i < orderCount; i++ {
		if ctx.Err() != nil {
			break
		}
		engine.OnQuote(instrument, time.Now())
		intent := schema.OrderIntent{
			OrderID:    fmt.Sprintf("ord-%06d", i+1),
			Account:    account,
			Instrument: instrument,
			Side:       schema.SideBuy,
			Offset:     schema.OffsetOpen,
			Volume:     1,
			Price:      decimal.NewFromInt(4200),
		}
		if err := engine.AttachOrder(exec.ID(), intent.OrderID, instrument, intent.Side, intent.Volume); err != nil {
			logs.Errorf("attach %s: %v", intent.OrderID, err)
		}
		if err := engine.SubmitOrder(ctx, intent); err != nil {
			logs.Errorf("submit %s: %v", intent.OrderID, err)
			continue
		}
		if publisher != nil {
			if err := publisher.PublishThrottle(ctx, account, engine.ThrottleLevel(account)); err != nil {
				logs.Errorf("publish throttle: %v", err)
			}
		}
		if orderInterval > 0 && i < orderCount-1 {
			select {
			case <-ctx.Done():
			case <-time.After(orderInterval):
			}
		}
	}

	engine.CheckTimeouts(time.Now())

	status := execution.StatusCompleted
	if exec.FillRate() < 1.0 {
		status = execution.StatusPartial
	}
	summary, err := engine.FinishExecution(exec.ID(), status)
	if err != nil {
		return err
	}
	logs.Infof("execution %s: status=%s fill_rate=%.2f orders=%d",
		summary.ID, summary.Status, summary.FillRate, summary.Orders)
	if warm != nil {
		if err := warm.SaveExecution(summary); err != nil {
			logs.Errorf("warm store execution: %v", err)
		}
	}

	result, err := engine.ReconcileNow(ctx)
	if err != nil {
		return err
	}
	if publisher != nil {
		for inst, net := range engine.Positions().NetPositions() {
			if err := publisher.PublishNetPosition(ctx, inst, net); err != nil {
				logs.Errorf("publish net position: %v", err)
			}
		}
	}
	logs.Infof("final reconcile: matched=%t mismatches=%d mode=%s",
		result.Matched, len(result.Mismatches), engine.Mode())
	return nil
}

func runTickers(ctx context.Context, engine *core.Engine, reconcileInterval time.Duration) {
	reconcile := time.NewTicker(reconcileInterval)
	timeouts := time.NewTicker(time.Second)
	defer reconcile.Stop()
	defer timeouts.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcile.C:
			if _, err := engine.ReconcileNow(ctx); err != nil {
				logs.Errorf("reconcile: %v", err)
			}
		case <-timeouts.C:
			engine.CheckTimeouts(time.Now())
		}
	}
}

type teeSink struct {
	primary audit.Sink
	warm    *store.PG
}

func (s teeSink) Write(e audit.Event) error {
	if err := s.primary.Write(e); err != nil {
		return err
	}
	if err := s.warm.SaveEvent(e); err != nil {
		logs.Errorf("warm store save: %v", err)
	}
	return nil
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
