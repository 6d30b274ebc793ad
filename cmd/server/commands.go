package main

import (
	"fmt"
	"time"

	"task-lifecycle-api/internal/app"
	"task-lifecycle-api/internal/database"
	"task-lifecycle-api/internal/fixtures"
	"task-lifecycle-api/internal/lifecycle"
	"task-lifecycle-api/internal/models"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			fmt.Printf("%s schema is up to date (%s)\n", boldGreen("✓"), cfg.Database.Driver)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load users and tasks from a YAML fixture through the lifecycle engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := fixtures.Load(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Connect(cfg.Database)
			if err != nil {
				return err
			}
			clock := fixtures.NewClock()
			a := app.New(cfg, db, lifecycle.WithClock(clock))

			sum, err := fixtures.Apply(cmd.Context(), f, a.Service, a.Store, clock)
			if err != nil {
				return err
			}
			fmt.Printf("%s seeded %s users (%s already present), %s tasks\n",
				boldGreen("✓"), bold(sum.Users), dim(sum.UsersSkipped), bold(sum.Tasks))
			return nil
		},
	}
}

func predictCmd() *cobra.Command {
	var (
		points   int
		assignee string
		category string
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Estimate hours for a task of the given story points",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			res, err := a.Service.Predict(cmd.Context(), points, optional(assignee), models.TaskCategory(category))
			if err != nil {
				return err
			}

			fmt.Printf("%s %d points\n", boldCyan("Estimate"), res.StoryPoints)
			fmt.Printf("  hours       %s  %s\n", boldYellow(fmt.Sprintf("%.2f", res.EstimatedHours)),
				dim(fmt.Sprintf("(%.2f to %.2f)", res.MinHours, res.MaxHours)))
			fmt.Printf("  confidence  %s\n", confidenceColor(res.ConfidenceLevel))
			fmt.Printf("  basis       %d samples, %.2f h/pt x %.1f\n", res.SampleSize, res.HoursPerPoint, res.Multiplier)
			if res.Message != "" {
				fmt.Printf("  %s\n", dim(res.Message))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&points, "points", "p", 0, "Story points to estimate (required)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Restrict history to one assignee")
	cmd.Flags().StringVar(&category, "category", "", "Restrict history to story, defect or subtask")
	_ = cmd.MarkFlagRequired("points")
	return cmd
}

func velocityCmd() *cobra.Command {
	var (
		weeks    int
		assignee string
	)
	cmd := &cobra.Command{
		Use:   "velocity",
		Short: "Show completed story points per week",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			if weeks == 0 {
				weeks = a.Config.Estimation.VelocityWeeks
			}
			v, err := a.Service.Velocity(cmd.Context(), weeks, optional(assignee))
			if err != nil {
				return err
			}
			since := time.Now().AddDate(0, 0, -7*v.Weeks).Format("2006-01-02")
			fmt.Printf("%s last %d weeks %s\n", boldCyan("Velocity"), v.Weeks, dim("since "+since))
			fmt.Printf("  tasks done   %s\n", bold(v.TasksCompleted))
			fmt.Printf("  points done  %s\n", bold(v.TotalPoints))
			fmt.Printf("  per week     %s\n", boldGreen(fmt.Sprintf("%.2f", v.PointsPerWeek)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&weeks, "weeks", "w", 0, "Window size in weeks (default from config)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Restrict to one assignee")
	return cmd
}

func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, db), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
