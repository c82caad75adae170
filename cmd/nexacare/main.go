package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nexacare/nexacare/internal/config"
	"github.com/nexacare/nexacare/internal/domain/appointment"
	"github.com/nexacare/nexacare/internal/platform/db"
	"github.com/nexacare/nexacare/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "nexacare",
		Short:        "NexaCare appointment service",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(slotsCmd())
	root.AddCommand(notifyWorkerCmd())
	return root
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	level := zerolog.DebugLevel
	if cfg.IsProduction() {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "nexacare").Logger()
}

// policyFromConfig turns the slot and booking settings into the service policy.
func policyFromConfig(cfg *config.Config) (appointment.Policy, error) {
	loc, err := cfg.Location()
	if err != nil {
		return appointment.Policy{}, err
	}
	w := appointment.Window{
		StartHour:   cfg.SlotStartHour,
		EndHour:     cfg.SlotEndHour,
		SlotMinutes: cfg.SlotMinutes,
		BreakHour:   cfg.BreakHour(),
	}
	if err := w.Validate(); err != nil {
		return appointment.Policy{}, fmt.Errorf("slot window: %w", err)
	}
	return appointment.Policy{Window: w, MinLeadDays: cfg.BookingMinLeadDays, Location: loc}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the appointment API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openMigrator(ctx context.Context, dir string) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrationSource(dir)), pool.Close, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()
			migrator, closeDB, err := openMigrator(ctx, dir)
			if err != nil {
				return err
			}
			defer closeDB()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()
			migrator, closeDB, err := openMigrator(ctx, dir)
			if err != nil {
				return err
			}
			defer closeDB()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func slotsCmd() *cobra.Command {
	def := appointment.DefaultWindow()
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the canonical slot set for a service window",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetInt("start")
			end, _ := cmd.Flags().GetInt("end")
			minutes, _ := cmd.Flags().GetInt("minutes")
			brk, _ := cmd.Flags().GetInt("break")

			w := appointment.Window{StartHour: start, EndHour: end, SlotMinutes: minutes}
			if brk >= 0 {
				w.BreakHour = &brk
			}
			if err := w.Validate(); err != nil {
				return err
			}
			for _, s := range appointment.GenerateSlots(w) {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
	cmd.Flags().Int("start", def.StartHour, "First hour of service")
	cmd.Flags().Int("end", def.EndHour, "Hour service ends")
	cmd.Flags().Int("minutes", def.SlotMinutes, "Slot length in minutes")
	cmd.Flags().Int("break", *def.BreakHour, "Break hour with no slots; negative disables")
	return cmd
}
