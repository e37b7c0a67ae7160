package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/goquartz/internal/cronexpr"
)

const defaultPreviewCount = 10

func newPreviewCommand() *cobra.Command {
	var (
		count    int
		location string
		from     string
	)

	cmd := &cobra.Command{
		Use:   "preview <cron expression>",
		Short: "Print the upcoming fire times of a cron expression",
		Long: `Parse a cron expression and print its next fire times in a table.
Expressions use the seven-field form: second minute hour day-of-month
month day-of-week [year].`,
		Example: `  goquartz preview "0 0 2 * * ?"
  goquartz preview "0 30 9 ? * MON-FRI" -n 5 --location America/Toronto`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(args[0], count, location, from)
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", defaultPreviewCount,
		"number of fire times to print")
	cmd.Flags().StringVar(&location, "location", "",
		"IANA time zone to evaluate the expression in (default local)")
	cmd.Flags().StringVar(&from, "from", "",
		"RFC3339 instant to project from (default now)")
	return cmd
}

func runPreview(spec string, count int, location, from string) error {
	loc := time.Local
	if location != "" {
		var err error
		if loc, err = time.LoadLocation(location); err != nil {
			return fmt.Errorf("invalid location: %w", err)
		}
	}

	expr, err := cronexpr.ParseInLocation(spec, loc)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	start := time.Now()
	if from != "" {
		if start, err = time.Parse(time.RFC3339, from); err != nil {
			return fmt.Errorf("invalid --from instant: %w", err)
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Fire Time", "Interval"})

	prev := start
	cur := start
	for i := 1; i <= count; i++ {
		next := expr.NextValidTimeAfter(cur)
		if next == nil {
			t.AppendFooter(table.Row{"", "no further fire times", ""})
			break
		}
		interval := next.Sub(prev).Round(time.Second)
		if i == 1 {
			interval = 0
		}
		t.AppendRow(table.Row{i, next.In(loc).Format(time.RFC3339), formatInterval(interval)})
		prev = *next
		cur = *next
	}

	fmt.Printf("schedule %q in %s\n", expr.String(), loc)
	t.Render()
	return nil
}

func formatInterval(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.String()
}
