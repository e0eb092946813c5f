package cmd

import (
	"github.com/nixup-tools/nixup/pkg/deploy"
	"github.com/nixup-tools/nixup/pkg/nix"
	"github.com/spf13/cobra"
)

var darwinFlakeVars = []string{nix.EnvDarwinFlake, nix.EnvFlake}

func newDarwinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "darwin",
		Short: "Build and activate nix-darwin system configurations",
	}

	cmd.AddCommand(newDarwinRebuildCmd(deploy.VariantSwitch, "switch [installable] [-- nix args...]",
		"Build the configuration and activate it"))
	cmd.AddCommand(newDarwinRebuildCmd(deploy.VariantBuild, "build [installable] [-- nix args...]",
		"Build the configuration without activating it"))
	cmd.AddCommand(newDarwinReplCmd())
	return cmd
}

func newDarwinRebuildCmd(variant deploy.Variant, use, short string) *cobra.Command {
	var (
		cfg      rebuildConfig
		hostname string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ins, extraArgs, err := parseInstallable(cmd, args, &cfg, darwinFlakeVars...)
			if err != nil {
				return err
			}
			o, err := newOrchestrator(cmd.Context(), deploy.DarwinPlatform(), cfg.dry)
			if err != nil {
				return err
			}
			return o.Rebuild(cmd.Context(), variant, cfg.toRequest(ins, osHostname(hostname), extraArgs))
		},
	}

	addRebuildFlags(cmd, &cfg)
	cmd.Flags().StringVarP(&hostname, "hostname", "H", "", "Which configuration in the tree to build (default: the system hostname).")
	return cmd
}

func newDarwinReplCmd() *cobra.Command {
	return newReplCmd(replSpec{
		platformFn: func() (deploy.Platform, error) { return deploy.DarwinPlatform(), nil },
		nameFn:     osHostname,
		flagName:   "hostname",
		flagShort:  "H",
		flagUsage:  "Which configuration in the tree to open (default: the system hostname).",
		envVars:    darwinFlakeVars,
	})
}
