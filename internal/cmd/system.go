package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/nixup-tools/nixup/internal/config"
	"github.com/nixup-tools/nixup/pkg/runner"
	"github.com/spf13/cobra"
)

// The system family is a thin front over the external system-manager
// binary, which applies declarative configurations to non-NixOS Linux
// hosts. Unlike the os/home/darwin families it does not build through
// the deployment pipeline; it forwards the subcommand and lets
// system-manager do the work, optionally on a remote host over ssh.

type systemBuildConfig struct {
	flake       string
	switchNow   bool
	dryActivate bool
	noLink      bool
	targetHost  string
}

func newSystemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "system",
		Short: "Manage non-NixOS Linux hosts through system-manager",
	}
	cmd.AddCommand(newSystemBuildCmd())
	cmd.AddCommand(newSystemListGenerationsCmd())
	cmd.AddCommand(newSystemRollbackCmd())
	return cmd
}

func newSystemBuildCmd() *cobra.Command {
	cfg := systemBuildConfig{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a system-manager configuration",
		Long: `Build a system-manager configuration, optionally activating it with
--switch. Arguments after "--" are handed to system-manager verbatim.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystemManager(cmd.Context(), cfg.targetHost, systemBuildArgs(cfg, args))
		},
	}

	cmd.Flags().StringVar(&cfg.flake, "flake", "", "Build the configuration from this flake reference.")
	cmd.Flags().BoolVar(&cfg.switchNow, "switch", false, "Activate the configuration after building it.")
	cmd.Flags().BoolVar(&cfg.dryActivate, "dry-activate", false, "Show what activating the configuration would do without doing it.")
	cmd.Flags().BoolVar(&cfg.noLink, "no-link", false, "Do not create a result link for the build.")
	cmd.Flags().StringVar(&cfg.targetHost, "target-host", "", "Run system-manager on this host (user@hostname) over ssh.")
	cmd.MarkFlagsMutuallyExclusive("switch", "dry-activate")
	return cmd
}

func newSystemListGenerationsCmd() *cobra.Command {
	var targetHost string

	cmd := &cobra.Command{
		Use:   "list-generations",
		Short: "List the generations system-manager has recorded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystemManager(cmd.Context(), targetHost, []string{"list-generations"})
		},
	}

	cmd.Flags().StringVar(&targetHost, "target-host", "", "Run system-manager on this host (user@hostname) over ssh.")
	return cmd
}

func newSystemRollbackCmd() *cobra.Command {
	var targetHost string

	cmd := &cobra.Command{
		Use:   "rollback [generation]",
		Short: "Return a system-manager host to an earlier generation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystemManager(cmd.Context(), targetHost, append([]string{"rollback"}, args...))
		},
	}

	cmd.Flags().StringVar(&targetHost, "target-host", "", "Run system-manager on this host (user@hostname) over ssh.")
	return cmd
}

// systemBuildArgs renders the build flags as a system-manager argument
// vector, with the passthrough arguments appended verbatim.
func systemBuildArgs(cfg systemBuildConfig, extraArgs []string) []string {
	args := []string{"build"}
	if cfg.flake != "" {
		args = append(args, "--flake", cfg.flake)
	}
	if cfg.switchNow {
		args = append(args, "--switch")
	}
	if cfg.dryActivate {
		args = append(args, "--dry-activate")
	}
	if cfg.noLink {
		args = append(args, "--no-link")
	}
	return append(args, extraArgs...)
}

func runSystemManager(ctx context.Context, targetHost string, args []string) error {
	log, err := config.GetLogger()
	if err != nil {
		return err
	}
	if runtime.GOOS == "darwin" {
		return errors.New("system-manager is only available on Linux")
	}

	// The remote host resolves the binary through its own PATH; only a
	// local run needs the lookup.
	bin := "system-manager"
	if targetHost == "" {
		bin, err = exec.LookPath("system-manager")
		if err != nil {
			return fmt.Errorf("system-manager not found in $PATH: %w", err)
		}
	}

	c := runner.New(log.Logger, bin, args...)
	if targetHost != "" {
		c.SSH(targetHost)
	}
	return c.Run(ctx)
}
