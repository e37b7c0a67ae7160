package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/goquartz/internal/config"
	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/scheduler"
	"github.com/jonesrussell/goquartz/internal/trigger"
	"github.com/jonesrussell/goquartz/internal/worker"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "app:\n  name: goquartz\n"))
	require.NoError(t, err)

	assert.Equal(t, scheduler.DefaultInstanceName, cfg.Scheduler.InstanceName)
	assert.Equal(t, scheduler.DefaultIdleWaitTime, cfg.Scheduler.IdleWaitTime)
	assert.Equal(t, worker.DefaultPoolSize, cfg.WorkerPool.PoolSize)
	assert.True(t, cfg.Server.Enabled)
	assert.False(t, cfg.History.Enabled)
	assert.Empty(t, cfg.Jobs)
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
app:
  name: goquartz
  environment: development
logger:
  level: warn
scheduler:
  instance_name: primary
  idle_wait_time: 5s
  batch_max_size: 10
workerpool:
  pool_size: 4
  drain_timeout: 10s
server:
  port: 9090
calendars:
  - name: business-days
    type: weekly
  - name: holidays
    type: holiday
    base: business-days
    dates: ["2026-12-25"]
jobs:
  - name: nightly-report
    group: reports
    type: log
    durable: true
    disallow_concurrent: true
    data:
      message: nightly
    triggers:
      - name: nightly
        calendar: holidays
        priority: 7
        misfire: fire_once_now
        schedule:
          cron: "0 0 2 * * ?"
      - name: heartbeat
        schedule:
          interval: 30s
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "primary", cfg.Scheduler.InstanceName)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.IdleWaitTime)
	assert.Equal(t, 10, cfg.Scheduler.BatchMaxSize)
	assert.Equal(t, 4, cfg.WorkerPool.PoolSize)
	assert.Equal(t, 10*time.Second, cfg.WorkerPool.DrainTimeout)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Logger.Development)

	require.Len(t, cfg.Jobs, 1)
	job := cfg.Jobs[0]
	assert.Equal(t, "reports", job.Group)
	assert.True(t, job.DisallowConcurrent)
	require.Len(t, job.Triggers, 2)
	assert.Equal(t, 30*time.Second, job.Triggers[1].Schedule.Interval)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, scheduler.DefaultInstanceName, cfg.Scheduler.InstanceName)
}

func TestLoad_RejectsUnknownCalendarReference(t *testing.T) {
	path := writeConfig(t, `
jobs:
  - name: j
    type: log
    triggers:
      - name: t
        calendar: nope
        schedule:
          interval: 1s
`)
	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown calendar")
}

func TestLoad_RejectsAmbiguousSchedule(t *testing.T) {
	path := writeConfig(t, `
jobs:
  - name: j
    type: log
    triggers:
      - name: t
        schedule:
          cron: "* * * * * ?"
          interval: 1s
`)
	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")
}

func TestJobSpec_BuildDetail(t *testing.T) {
	spec := config.JobSpec{
		Group:              "reports",
		Name:               "nightly",
		Type:               "command",
		Durable:            true,
		DisallowConcurrent: true,
		Data:               map[string]any{"command": "true"},
	}
	detail := spec.BuildDetail()
	assert.Equal(t, domain.NewJobKeyWithGroup("reports", "nightly"), detail.Key)
	assert.Equal(t, "command", detail.Type)
	assert.True(t, detail.Durable)
	assert.True(t, detail.ConcurrentExecutionDisallowed)
	assert.Equal(t, "true", detail.JobData["command"])
}

func TestJobSpec_BuildTriggers(t *testing.T) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	repeat := 3
	spec := config.JobSpec{
		Name: "multi",
		Type: "log",
		Triggers: []config.TriggerSpec{
			{
				Name:     "cron",
				Calendar: "cal",
				Priority: 9,
				Misfire:  "do_nothing",
				Schedule: config.ScheduleSpec{Cron: "0 0 * * * ?"},
			},
			{
				Name:    "simple",
				StartAt: &start,
				Schedule: config.ScheduleSpec{
					Interval:    time.Minute,
					RepeatCount: &repeat,
				},
			},
			{
				Name:     "interval",
				Schedule: config.ScheduleSpec{Every: 2, Unit: "day"},
			},
		},
	}

	trigs, err := spec.BuildTriggers()
	require.NoError(t, err)
	require.Len(t, trigs, 3)

	cron, ok := trigs[0].(*trigger.CronTrigger)
	require.True(t, ok)
	assert.Equal(t, "cal", cron.CalendarName())
	assert.Equal(t, 9, cron.Priority())
	assert.Equal(t, trigger.MisfireInstructionDoNothing, cron.MisfireInstruction())
	assert.Equal(t, domain.NewJobKey("multi"), cron.JobKey())

	simple, ok := trigs[1].(*trigger.SimpleTrigger)
	require.True(t, ok)
	assert.Equal(t, 3, simple.RepeatCount())
	assert.Equal(t, start, simple.StartTime())

	_, ok = trigs[2].(*trigger.CalendarIntervalTrigger)
	assert.True(t, ok)
}

func TestJobSpec_BuildTriggers_DefaultsToRepeatForever(t *testing.T) {
	spec := config.JobSpec{
		Name: "j",
		Type: "log",
		Triggers: []config.TriggerSpec{
			{Name: "t", Schedule: config.ScheduleSpec{Interval: time.Second}},
		},
	}
	trigs, err := spec.BuildTriggers()
	require.NoError(t, err)

	simple := trigs[0].(*trigger.SimpleTrigger)
	assert.Equal(t, trigger.RepeatIndefinitely, simple.RepeatCount())
}

func TestTriggerSpec_RejectsBadMisfire(t *testing.T) {
	spec := config.JobSpec{
		Name: "j",
		Type: "log",
		Triggers: []config.TriggerSpec{
			{
				Name:     "t",
				Misfire:  "fire_now",
				Schedule: config.ScheduleSpec{Cron: "0 0 * * * ?"},
			},
		},
	}
	_, err := spec.BuildTriggers()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "misfire")
}

func TestBuildCalendars(t *testing.T) {
	cals, err := config.BuildCalendars([]config.CalendarSpec{
		{Name: "weekdays", Type: "weekly"},
		{Name: "no-mondays", Type: "weekly", ExcludeDays: []string{"monday"}},
		{Name: "holidays", Type: "holiday", Base: "weekdays", Dates: []string{"2026-12-25"}},
		{Name: "mid-month", Type: "monthly", ExcludeDays: []string{"15"}},
		{Name: "christmas", Type: "annual", Dates: []string{"12-25"}},
		{Name: "nightly", Type: "cron", Expression: "* * 0-5 ? * *"},
	})
	require.NoError(t, err)
	require.Len(t, cals, 6)

	sat := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	assert.False(t, cals["weekdays"].IsTimeIncluded(sat))

	mon := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	assert.False(t, cals["no-mondays"].IsTimeIncluded(mon))
	assert.True(t, cals["no-mondays"].IsTimeIncluded(sat))

	xmas := time.Date(2026, 12, 25, 12, 0, 0, 0, time.UTC)
	assert.False(t, cals["holidays"].IsTimeIncluded(xmas))
	assert.False(t, cals["holidays"].IsTimeIncluded(sat))
	assert.False(t, cals["christmas"].IsTimeIncluded(xmas))

	fifteenth := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	assert.False(t, cals["mid-month"].IsTimeIncluded(fifteenth))

	night := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)
	assert.False(t, cals["nightly"].IsTimeIncluded(night))
}

func TestBuildCalendars_BaseMustBeDeclaredFirst(t *testing.T) {
	_, err := config.BuildCalendars([]config.CalendarSpec{
		{Name: "holidays", Type: "holiday", Base: "weekdays"},
		{Name: "weekdays", Type: "weekly"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared first")
}
