package cmd

import (
	"github.com/nixup-tools/nixup/pkg/deploy"
	"github.com/nixup-tools/nixup/pkg/nix"
	"github.com/spf13/cobra"
)

var homeFlakeVars = []string{nix.EnvHomeFlake, nix.EnvFlake}

func newHomeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "home",
		Short: "Build and activate home-manager configurations",
	}

	cmd.AddCommand(newHomeRebuildCmd(deploy.VariantSwitch, "switch [installable] [-- nix args...]",
		"Build the configuration and activate it"))
	cmd.AddCommand(newHomeRebuildCmd(deploy.VariantBuild, "build [installable] [-- nix args...]",
		"Build the configuration without activating it"))
	cmd.AddCommand(newHomeReplCmd())
	return cmd
}

func newHomeRebuildCmd(variant deploy.Variant, use, short string) *cobra.Command {
	var (
		cfg             rebuildConfig
		configuration   string
		backupExtension string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ins, extraArgs, err := parseInstallable(cmd, args, &cfg, homeFlakeVars...)
			if err != nil {
				return err
			}
			platform, err := deploy.HomePlatform(deploy.SystemEnv())
			if err != nil {
				return err
			}
			o, err := newOrchestrator(cmd.Context(), platform, cfg.dry)
			if err != nil {
				return err
			}
			req := cfg.toRequest(ins, configuration, extraArgs)
			req.BackupExtension = backupExtension
			return o.Rebuild(cmd.Context(), variant, req)
		},
	}

	addRebuildFlags(cmd, &cfg)
	cmd.Flags().StringVarP(&configuration, "configuration", "c", "",
		"Which configuration in the tree to build (default: try \"user@hostname\", then \"user\").")
	cmd.Flags().StringVarP(&backupExtension, "backup-extension", "b", "",
		"Back up files that activation would overwrite, appending this extension to their names.")
	return cmd
}

func newHomeReplCmd() *cobra.Command {
	return newReplCmd(replSpec{
		platformFn: func() (deploy.Platform, error) { return deploy.HomePlatform(deploy.SystemEnv()) },
		nameFn:     func(flag string) string { return flag },
		flagName:   "configuration",
		flagShort:  "c",
		flagUsage:  "Which configuration in the tree to open (default: try \"user@hostname\", then \"user\").",
		envVars:    homeFlakeVars,
	})
}
