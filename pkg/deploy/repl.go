package deploy

import (
	"context"

	"github.com/nixup-tools/nixup/pkg/nix"
)

// Repl resolves the installable against the configuration tree (without
// descending to a concrete derivation) and hands the terminal over to
// the evaluator's interactive repl. Store and system references carry no
// expression to evaluate and are rejected.
func (o *Orchestrator) Repl(ctx context.Context, ins nix.Installable, explicit string, extraArgs []string) error {
	log := o.operationLogger("repl")
	if ins.Kind == nix.KindStore || ins.Kind == nix.KindSystem {
		return ErrStoreRepl
	}
	resolved, err := o.resolveInstallable(ctx, log, ins, explicit, nil)
	if err != nil {
		return err
	}
	return o.tc.Repl(ctx, resolved, extraArgs)
}
