// Package job ships the built-in job types registered with the daemon's
// job factory. Each type reads its parameters from the merged execution
// data map.
package job

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/logger"
	"github.com/jonesrussell/goquartz/internal/scheduler"
)

// Built-in job type identifiers.
const (
	TypeLog      = "log"
	TypeCommand  = "command"
	TypeHTTPPing = "http_ping"
)

// DefaultTimeout bounds command and http_ping executions when the data
// map does not set one.
const DefaultTimeout = 30 * time.Second

// RegisterBuiltins registers the built-in job types on the factory.
func RegisterBuiltins(f *scheduler.SimpleJobFactory, log logger.Logger) {
	if log == nil {
		log = logger.NewNop()
	}
	f.Register(TypeLog, func() domain.Job { return &LogJob{log: log} })
	f.Register(TypeCommand, func() domain.Job { return &CommandJob{log: log} })
	f.Register(TypeHTTPPing, func() domain.Job {
		return &HTTPPingJob{log: log, client: http.DefaultClient}
	})
}

// timeoutFrom reads a "timeout" duration string from the data map.
func timeoutFrom(data domain.JobDataMap) time.Duration {
	if raw := data.GetString("timeout"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

// LogJob writes a log line. Data map keys: "message", "level"
// (debug/info/warn/error, default info).
type LogJob struct {
	log logger.Logger
}

// Execute logs the configured message with the job identity attached.
func (j *LogJob) Execute(_ context.Context, jec *domain.JobExecutionContext) error {
	msg := jec.MergedJobDataMap.GetString("message")
	if msg == "" {
		msg = "scheduled log job fired"
	}
	fields := []logger.Field{
		logger.String("job", jec.JobDetail.Key.String()),
		logger.String("fire_instance_id", jec.FireInstanceID),
	}

	switch jec.MergedJobDataMap.GetString("level") {
	case "debug":
		j.log.Debug(msg, fields...)
	case "warn":
		j.log.Warn(msg, fields...)
	case "error":
		j.log.Error(msg, fields...)
	default:
		j.log.Info(msg, fields...)
	}
	return nil
}

// CommandJob runs an external command. Data map keys: "command" (binary),
// "args" (list of strings), "timeout" (duration string).
type CommandJob struct {
	log logger.Logger
}

// Execute runs the command, failing the execution on a non-zero exit.
func (j *CommandJob) Execute(ctx context.Context, jec *domain.JobExecutionContext) error {
	command := jec.MergedJobDataMap.GetString("command")
	if command == "" {
		return fmt.Errorf("command job %s: data map key %q is required", jec.JobDetail.Key, "command")
	}

	var args []string
	if raw, ok := jec.MergedJobDataMap["args"].([]any); ok {
		for _, a := range raw {
			args = append(args, fmt.Sprintf("%v", a))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutFrom(jec.MergedJobDataMap))
	defer cancel()

	out, err := exec.CommandContext(ctx, command, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("command job %s: %q failed: %w (output: %s)",
			jec.JobDetail.Key, command, err, out)
	}

	j.log.Info("command job finished",
		logger.String("job", jec.JobDetail.Key.String()),
		logger.String("command", command),
		logger.Int("output_bytes", len(out)))
	jec.Result = string(out)
	return nil
}

// HTTPPingJob issues a GET request. Data map keys: "url",
// "expect_status" (default 200), "timeout" (duration string).
type HTTPPingJob struct {
	log    logger.Logger
	client *http.Client
}

// Execute fetches the URL and checks the response status.
func (j *HTTPPingJob) Execute(ctx context.Context, jec *domain.JobExecutionContext) error {
	url := jec.MergedJobDataMap.GetString("url")
	if url == "" {
		return fmt.Errorf("http_ping job %s: data map key %q is required", jec.JobDetail.Key, "url")
	}

	expect := jec.MergedJobDataMap.GetInt("expect_status")
	if expect == 0 {
		expect = http.StatusOK
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutFrom(jec.MergedJobDataMap))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("http_ping job %s: build request: %w", jec.JobDetail.Key, err)
	}

	start := time.Now()
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("http_ping job %s: request failed: %w", jec.JobDetail.Key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expect {
		return fmt.Errorf("http_ping job %s: %s returned %d, expected %d",
			jec.JobDetail.Key, url, resp.StatusCode, expect)
	}

	j.log.Info("http ping succeeded",
		logger.String("job", jec.JobDetail.Key.String()),
		logger.String("url", url),
		logger.Int("status", resp.StatusCode),
		logger.Duration("elapsed", time.Since(start)))
	jec.Result = resp.StatusCode
	return nil
}
