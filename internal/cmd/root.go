// Package cmd wires the command line surface: the os, home and darwin
// command families over the shared deployment pipeline.
package cmd

import (
	"context"
	"os"

	"github.com/nixup-tools/nixup/internal/config"
	"github.com/nixup-tools/nixup/pkg/nix"
	"github.com/nixup-tools/nixup/pkg/runner"
	"github.com/spf13/cobra"
)

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nixup",
		Short: "A deployment front-end for declarative Nix system configurations",
		Long: `nixup builds, compares and activates declarative system configurations
(NixOS, home-manager and nix-darwin) and manages the generations they
leave behind.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return preflight(cmd.Context())
		},
	}

	config.InitGlobalFlags(cmd)

	cmd.AddCommand(newOSCmd())
	cmd.AddCommand(newHomeCmd())
	cmd.AddCommand(newDarwinCmd())
	cmd.AddCommand(newSystemCmd())
	return cmd
}

// preflight runs before every command: migrate the legacy FLAKE
// variable and verify the installed toolchain is usable.
func preflight(ctx context.Context) error {
	log, err := config.GetLogger()
	if err != nil {
		return err
	}
	warn, err := nix.MigrateFlakeEnv(os.LookupEnv, os.Setenv)
	if err != nil {
		return err
	}
	if warn {
		log.Warn("the FLAKE environment variable is deprecated, use " + nix.EnvFlake + " instead")
	}
	global, err := config.GetGlobal()
	if err != nil {
		return err
	}
	if global.NoChecks {
		return nil
	}
	capture := func(ctx context.Context, name string, args ...string) (string, error) {
		return runner.New(log.Logger, name, args...).Output(ctx)
	}
	return nix.Verify(ctx, capture)
}
