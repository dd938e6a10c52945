package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/owid/chart-sync/internal/app"
	"github.com/owid/chart-sync/internal/chartsync"
	"github.com/owid/chart-sync/internal/config"
	"github.com/owid/chart-sync/internal/database"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a SyncApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Diff", "Sync").
func newApp(operation, source, target string, chartIDs []int64, parameters string) (*app.SyncApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewSyncApp(cfg, app.Options{
		Operation:  operation,
		Parameters: parameters,
		Source:     source,
		Target:     target,
		ChartIDs:   chartIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "chart-sync",
	Short: "Sync chart changes from a staging environment to production",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Records DB: %s\n", cfg.RecordsDB)
		fmt.Println("Add your environments under [environments.<name>] before running a diff.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Records DB: %s\n", cfg.RecordsDB)
		for name, env := range cfg.Environments {
			fmt.Printf("\nEnvironment %q:\n", name)
			fmt.Printf("  DB Path:    %s\n", env.DBPath)
			if env.CreatedAt != "" {
				fmt.Printf("  Created At: %s\n", env.CreatedAt)
			}
			if env.AdminURL != "" {
				fmt.Printf("  Admin URL:  %s\n", env.AdminURL)
			}
		}
		return nil
	},
}

// diff command
var diffCmd = &cobra.Command{
	Use:   "diff SOURCE TARGET",
	Short: "Detect and list chart differences between two environments",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chartIDs, _ := cmd.Flags().GetInt64Slice("chart-id")

		a, err := newApp("Diff", args[0], args[1], chartIDs, strings.Join(args, " "))
		if err != nil {
			return err
		}
		defer a.Close()

		diffs, err := a.Diffs(cmd.Context())
		if err != nil {
			return err
		}

		if len(diffs) == 0 {
			fmt.Println("No differences found.")
			return nil
		}

		for _, d := range diffs {
			fmt.Println(formatDiff(d))
		}
		fmt.Printf("\n%d chart(s) differ\n", len(diffs))
		return nil
	},
}

// formatDiff renders one diff as a single status line.
func formatDiff(d *chartsync.ChartDiff) string {
	var notes []string
	if d.IsNew() {
		notes = append(notes, "new")
	}
	if d.IsDeletedInTarget() {
		notes = append(notes, "deleted in target")
	}
	if d.InConflict() {
		notes = append(notes, "CONFLICT")
	}
	for _, t := range d.ChangeTypes() {
		notes = append(notes, string(t))
	}
	if d.Error != "" {
		notes = append(notes, "error: "+d.Error)
	}
	return fmt.Sprintf("#%-6d %-10s %-40s %s",
		d.ChartID(), d.ApprovalStatus(), d.Source.Slug, strings.Join(notes, ", "))
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync SOURCE TARGET",
	Short: "Apply approved chart changes to the target environment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chartIDs, _ := cmd.Flags().GetInt64Slice("chart-id")
		include, _ := cmd.Flags().GetString("include")
		exclude, _ := cmd.Flags().GetString("exclude")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := newApp("Sync", args[0], args[1], chartIDs, strings.Join(os.Args[2:], " "))
		if err != nil {
			return err
		}
		defer a.Close()

		count, err := a.Sync(cmd.Context(), app.SyncOptions{
			Include: include,
			Exclude: exclude,
			DryRun:  dryRun,
		})
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		if dryRun {
			fmt.Printf("Dry run: %d chart(s) would be synced (pass --dry-run=false to apply)\n", count)
		} else {
			fmt.Printf("Synced %d chart(s)\n", count)
		}
		return nil
	},
}

// decision commands

func decisionCmd(use, short, operation string, decide func(*app.SyncApp, *cobra.Command, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			chartID, err := parseChartID(args[2])
			if err != nil {
				return err
			}

			a, err := newApp(operation, args[0], args[1], []int64{chartID}, strings.Join(args, " "))
			if err != nil {
				return err
			}
			defer a.Close()

			return decide(a, cmd, chartID)
		},
	}
}

func parseChartID(arg string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(arg, "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid chart id %q", arg)
	}
	return id, nil
}

var approveCmd = decisionCmd(
	"approve SOURCE TARGET CHART_ID", "Approve a chart's pending changes", "Approve",
	func(a *app.SyncApp, cmd *cobra.Command, chartID int64) error {
		if err := a.Approve(cmd.Context(), chartID); err != nil {
			return err
		}
		fmt.Printf("Chart %d approved\n", chartID)
		return nil
	})

var rejectCmd = decisionCmd(
	"reject SOURCE TARGET CHART_ID", "Reject a chart's pending changes", "Reject",
	func(a *app.SyncApp, cmd *cobra.Command, chartID int64) error {
		if err := a.Reject(cmd.Context(), chartID); err != nil {
			return err
		}
		fmt.Printf("Chart %d rejected\n", chartID)
		return nil
	})

var unreviewCmd = decisionCmd(
	"unreview SOURCE TARGET CHART_ID", "Revert a chart's decision to pending", "Unreview",
	func(a *app.SyncApp, cmd *cobra.Command, chartID int64) error {
		if err := a.Unreview(cmd.Context(), chartID); err != nil {
			return err
		}
		fmt.Printf("Chart %d reverted to pending\n", chartID)
		return nil
	})

var resolveConflictCmd = decisionCmd(
	"resolve-conflict SOURCE TARGET CHART_ID", "Acknowledge a target-side edit", "ResolveConflict",
	func(a *app.SyncApp, cmd *cobra.Command, chartID int64) error {
		if err := a.ResolveConflict(cmd.Context(), chartID); err != nil {
			return err
		}
		fmt.Printf("Conflict on chart %d resolved\n", chartID)
		return nil
	})

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := readConfig()
		if err != nil {
			return err
		}

		records, err := database.NewRecordStore(cfg.RecordsDB, chartsync.RealClock{})
		if err != nil {
			return fmt.Errorf("opening record store: %w", err)
		}
		defer records.Close()

		runs, err := records.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No sync runs recorded.")
			return nil
		}

		for _, run := range runs {
			duration := ""
			if run.FinishedAt != nil {
				d := run.FinishedAt.Sub(run.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("%s  %-16s  %s  %-10s  %s\n",
				run.ID[:8],
				run.Operation,
				run.StartedAt.Format("2006-01-02 15:04:05"),
				run.Status,
				duration,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().Int64Slice("chart-id", nil, "Restrict to the given chart id (repeatable)")
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Int64Slice("chart-id", nil, "Restrict to the given chart id (repeatable)")
	syncCmd.Flags().String("include", "", "Only sync charts with a variable catalog path matching this pattern")
	syncCmd.Flags().String("exclude", "", "Skip charts with a variable catalog path matching this pattern")
	syncCmd.Flags().Bool("dry-run", true, "Preview without writing to the target (default true)")
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(unreviewCmd)
	rootCmd.AddCommand(resolveConflictCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
}
