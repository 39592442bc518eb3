package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/app"
	"github.com/Alijeyrad/simorq_calendar/internal/jobs"
	"github.com/Alijeyrad/simorq_calendar/pkg/logs"
)

func NewJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background sync jobs",
	}

	cmd.AddCommand(NewListCommand())
	cmd.AddCommand(NewRunCommand())

	return cmd
}

func readConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.ReadConfig(filepath.Dir(cfgPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return cfg, nil
}

func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Name", "Enabled", "Interval", "Timeout"})
			table.SetBorder(false)
			for _, j := range jobs.NewScheduler(nil, jobs.Build(jobs.Deps{}, cfg.Jobs, cfg.CalendarSync, cfg.Google)...).Jobs() {
				table.Append([]string{
					j.Name,
					strconv.FormatBool(j.Enabled && cfg.Jobs.Enabled),
					j.Interval.String(),
					j.Timeout.String(),
				})
			}
			table.Render()
			return nil
		},
	}
}

func NewRunCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run one job immediately and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			slog.SetDefault(logs.New(cfg))

			var sched *jobs.Scheduler
			fxApp := fx.New(
				fx.Supply(cfg),
				app.InfraModule,
				app.ServiceModule,
				fx.Provide(app.ProvideScheduler),
				fx.Populate(&sched),
				fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
			)

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := fxApp.Start(ctx); err != nil {
				return fmt.Errorf("failed to start dependencies: %w", err)
			}
			defer func() {
				stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
				defer stop()
				_ = fxApp.Stop(stopCtx)
			}()

			sum, runErr := sched.RunNow(ctx, args[0])
			out, err := json.MarshalIndent(sum, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return runErr
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "Upper bound for the run")

	return cmd
}
