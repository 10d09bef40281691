package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"obsched/internal/app"
	"obsched/internal/config"
	"obsched/internal/model"
	"obsched/internal/storage"
	"obsched/internal/svcctl"
	logx "obsched/pkg/logx"
)

func initDBCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the tables the configured role needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(cfgPath).Load()
			if err != nil {
				return err
			}
			sc, err := app.StorageConfig(cfg)
			if err != nil {
				return err
			}
			role := model.ParseRole(cfg.Scheduler.Role)
			if err := storage.Bootstrap(cmd.Context(), sc, role, logx.NewConsole("warn")); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready for role %s (%s)\n", role, sc.Driver)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "./scheduler.yaml", "scheduler config file")
	return cmd
}

func serviceCmd() *cobra.Command {
	var prefixes []string
	cmd := &cobra.Command{Use: "service", Short: "Control scheduler systemd units"}
	cmd.PersistentFlags().StringSliceVar(&prefixes, "prefix", svcctl.DefaultPrefixes, "unit name prefixes that may be controlled")

	action := func(use, short string, fn func(m *svcctl.Manager, cmd *cobra.Command, unit string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <unit>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := svcctl.New(cmd.Context(), prefixes)
				if err != nil {
					return err
				}
				defer m.Close()
				return fn(m, cmd, args[0])
			},
		}
	}
	cmd.AddCommand(
		action("status", "Show a unit's state", func(m *svcctl.Manager, cmd *cobra.Command, unit string) error {
			st, err := m.Status(cmd.Context(), unit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st)
			return nil
		}),
		action("start", "Start a unit", func(m *svcctl.Manager, cmd *cobra.Command, unit string) error {
			return m.Start(cmd.Context(), unit)
		}),
		action("stop", "Stop a unit", func(m *svcctl.Manager, cmd *cobra.Command, unit string) error {
			return m.Stop(cmd.Context(), unit)
		}),
		action("restart", "Restart a unit", func(m *svcctl.Manager, cmd *cobra.Command, unit string) error {
			return m.Restart(cmd.Context(), unit)
		}),
		&cobra.Command{
			Use:   "list",
			Short: "List loaded scheduler units",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := svcctl.New(cmd.Context(), prefixes)
				if err != nil {
					return err
				}
				defer m.Close()
				units, err := m.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, u := range units {
					fmt.Fprintln(cmd.OutOrStdout(), u)
				}
				return nil
			},
		},
	)
	return cmd
}
