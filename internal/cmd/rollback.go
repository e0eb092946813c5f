package cmd

import (
	"fmt"

	"github.com/nixup-tools/nixup/pkg/deploy"
	"github.com/spf13/cobra"
)

func newOSRollbackCmd() *cobra.Command {
	var (
		to               uint64
		ask              bool
		dry              bool
		noDiff           bool
		specialisation   string
		noSpecialisation bool
		bypassRootCheck  bool
	)

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Return the system to an earlier generation",
		Long: `Point the system profile back at an earlier generation and activate
it. By default the generation immediately before the current one is
selected; --to picks an exact generation number (see "nixup os info"
for the list). If activating the selected generation fails, the
profile is pointed back at the generation that was current when the
rollback started.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("to") && to == 0 {
				return fmt.Errorf("invalid generation number 0 (generations are numbered from 1)")
			}
			o, err := newOrchestrator(cmd.Context(), deploy.OSPlatform(), dry)
			if err != nil {
				return err
			}
			return o.Rollback(cmd.Context(), deploy.RollbackRequest{
				To:               to,
				Ask:              ask,
				Dry:              dry,
				NoDiff:           noDiff,
				Specialisation:   specialisation,
				NoSpecialisation: noSpecialisation,
				BypassRootCheck:  bypassRootCheck,
			})
		},
	}

	cmd.Flags().Uint64Var(&to, "to", 0, "Roll back to this exact generation number instead of the previous one.")
	cmd.Flags().BoolVarP(&ask, "ask", "a", false, "Ask for confirmation before activating the selected generation.")
	cmd.Flags().BoolVarP(&dry, "dry", "n", false, "Show what would change without touching the profile.")
	cmd.Flags().BoolVar(&noDiff, "no-diff", false, "Do not compare the selected generation against the active configuration.")
	cmd.Flags().StringVarP(&specialisation, "specialisation", "s", "", "Activate this specialisation of the selected generation.")
	cmd.Flags().BoolVarP(&noSpecialisation, "no-specialisation", "S", false, "Activate the base configuration of the selected generation.")
	cmd.Flags().BoolVar(&bypassRootCheck, "bypass-root-check", false, "Allow running as root.")
	cmd.MarkFlagsMutuallyExclusive("specialisation", "no-specialisation")
	return cmd
}
