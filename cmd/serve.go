package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/goquartz/internal/api"
	"github.com/jonesrussell/goquartz/internal/config"
	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/history"
	"github.com/jonesrussell/goquartz/internal/job"
	"github.com/jonesrussell/goquartz/internal/logger"
	"github.com/jonesrussell/goquartz/internal/metrics"
	"github.com/jonesrussell/goquartz/internal/scheduler"
	"github.com/jonesrussell/goquartz/internal/store"
	"github.com/jonesrussell/goquartz/internal/worker"
)

// gaugeInterval is how often store and pool gauges are refreshed.
const gaugeInterval = 15 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon",
		Long: `Run the scheduler with the jobs, triggers, and calendars declared
in the configuration file, plus the admin HTTP API when enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logger.Level = "debug"
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting goquartz",
		logger.String("version", Version),
		logger.String("instance_name", cfg.Scheduler.InstanceName))

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	pool, err := worker.NewPool(cfg.WorkerPool, log)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}

	st := store.New(log)
	factory := scheduler.NewPropertySettingJobFactory(log)
	job.RegisterBuiltins(factory.SimpleJobFactory, log)

	sched, err := scheduler.New(cfg.Scheduler, st, pool, factory, log)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	metricsListener := metrics.NewListener(m)
	sched.AddSchedulerListener(metricsListener)
	sched.AddJobListener(metricsListener)
	sched.AddTriggerListener(metricsListener)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var histReader api.HistoryReader
	if cfg.History.Enabled {
		db, dbErr := history.NewPostgresConnection(cfg.History)
		if dbErr != nil {
			return fmt.Errorf("failed to connect to history database: %w", dbErr)
		}
		defer func() { _ = db.Close() }()

		if schemaErr := history.EnsureSchema(ctx, db); schemaErr != nil {
			return fmt.Errorf("failed to ensure history schema: %w", schemaErr)
		}

		repo := history.NewRepository(db)
		histReader = repo
		historyListener := history.NewListener(repo, log)
		sched.AddJobListener(historyListener)
		sched.AddTriggerListener(historyListener)
		log.Info("execution history enabled",
			logger.String("host", cfg.History.Host),
			logger.String("dbname", cfg.History.DBName))
	}

	if err = provision(sched, cfg, log); err != nil {
		return err
	}

	if err = sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	gaugeDone := make(chan struct{})
	go refreshGauges(ctx, gaugeDone, m, sched, pool)

	srvErr := make(chan error, 1)
	if cfg.Server.Enabled {
		srv, srvBuildErr := api.NewServer(cfg.Server, sched, histReader, reg, log)
		if srvBuildErr != nil {
			return fmt.Errorf("failed to create admin server: %w", srvBuildErr)
		}
		go func() { srvErr <- srv.Start(ctx) }()
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err = <-srvErr:
		if err != nil {
			log.Error("admin server failed", logger.Error(err))
		}
	}

	stop()
	<-gaugeDone
	sched.Shutdown(true)
	log.Info("goquartz stopped")
	return err
}

// provision registers the calendars and schedules the jobs declared in the
// configuration file. Existing definitions with the same keys are replaced,
// so a restart converges on the file's contents.
func provision(sched *scheduler.Scheduler, cfg *config.Config, log logger.Logger) error {
	cals, err := config.BuildCalendars(cfg.Calendars)
	if err != nil {
		return err
	}
	for name, cal := range cals {
		if err = sched.AddCalendar(name, cal, true, false); err != nil {
			return fmt.Errorf("failed to add calendar %q: %w", name, err)
		}
	}

	for i := range cfg.Jobs {
		spec := &cfg.Jobs[i]
		detail := spec.BuildDetail()
		triggers, buildErr := spec.BuildTriggers()
		if buildErr != nil {
			return fmt.Errorf("job %q: %w", spec.Name, buildErr)
		}

		if len(triggers) == 0 {
			if err = sched.AddJob(detail, true, false); err != nil {
				return fmt.Errorf("failed to add job %q: %w", spec.Name, err)
			}
		} else {
			jobs := map[*domain.JobDetail][]domain.OperableTrigger{detail: triggers}
			if err = sched.ScheduleJobs(jobs, true); err != nil {
				return fmt.Errorf("failed to schedule job %q: %w", spec.Name, err)
			}
		}
		log.Info("provisioned job",
			logger.String("job", detail.Key.String()),
			logger.String("type", detail.Type),
			logger.Int("triggers", len(triggers)))
	}
	return nil
}

// refreshGauges periodically publishes store sizes and pool utilization.
func refreshGauges(ctx context.Context, done chan<- struct{}, m *metrics.Metrics, sched *scheduler.Scheduler, pool *worker.Pool) {
	defer close(done)
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetStoreCounts(
				len(sched.GetJobKeys(domain.AnyGroup())),
				len(sched.GetTriggerKeys(domain.AnyGroup())),
				len(sched.GetCalendarNames()))
			stats := pool.Stats()
			m.SetWorkerPoolStats(stats.PoolSize, stats.BusySlots)
		}
	}
}
