package cmd

import (
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/nixup-tools/nixup/internal/cmdfmt"
	"github.com/nixup-tools/nixup/internal/config"
	"github.com/nixup-tools/nixup/pkg/deploy"
	"github.com/nixup-tools/nixup/pkg/generations"
	"github.com/spf13/cobra"
)

type infoConfig struct {
	profile string
	filter  string
}

func newInfoCmd() *cobra.Command {
	cfg := infoConfig{}

	cmd := &cobra.Command{
		Use:   "info",
		Short: "List the generations recorded in the system profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfoCmd(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.profile, "profile", deploy.OSPlatform().SystemProfile, "The profile whose generations to list.")
	cmd.Flags().StringVar(&cfg.filter, "filter", "", generations.FilterHelp)
	return cmd
}

func runInfoCmd(cmd *cobra.Command, cfg infoConfig) error {
	log, err := config.GetLogger()
	if err != nil {
		return err
	}
	global, err := config.GetGlobal()
	if err != nil {
		return err
	}

	var filter generations.Filter
	if cfg.filter != "" {
		filter, err = generations.CompileFilter(cfg.filter)
		if err != nil {
			return err
		}
	}

	registry := generations.NewRegistry(osfs.New("/"), log.Logger, global.NumWorkers)
	gens, err := registry.List(cmd.Context(), cfg.profile)
	if err != nil {
		return err
	}

	printer := cmdfmt.NewPrinter()
	printer.SetColumnConfigs([]table.ColumnConfig{
		{Name: "generation"},
		{Name: "current"},
		{Name: "created"},
		{Name: "description"},
		{Name: "kernel"},
	})
	for _, gen := range gens {
		keep, err := generations.ApplyFilter(gen, filter)
		if err != nil {
			return fmt.Errorf("applying filter to generation %d: %w", gen.Number, err)
		}
		if !keep {
			continue
		}
		current := ""
		if gen.Current {
			current = "yes"
		}
		printer.AppendRow(table.Row{
			gen.Number,
			current,
			gen.Created.Format(time.DateTime),
			gen.Description,
			gen.Kernel,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), printer.Render())
	return nil
}
