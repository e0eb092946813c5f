package deploy

import (
	"context"
	"fmt"
	"strings"

	"github.com/nixup-tools/nixup/pkg/nix"
	"go.uber.org/zap"
)

// resolveInstallable addresses a configuration inside the evaluation
// tree. An installable that already carries an attribute path is taken
// as-is (first match wins, the user's choice is never overridden), store
// and system references have no tree to resolve against. Otherwise the
// platform's configuration root is probed for the explicit name, or for
// the "{user}@{host}" and "{user}" candidates in that order. extra is
// appended below the matched name when the operation needs a concrete
// derivation; the repl passes nil.
func (o *Orchestrator) resolveInstallable(ctx context.Context, log *zap.Logger, ins nix.Installable, explicit string, extra []string) (nix.Installable, error) {
	switch ins.Kind {
	case nix.KindStore, nix.KindSystem:
		return ins, nil
	}
	if len(ins.Attribute) > 0 {
		return ins, nil
	}

	root := o.platform.ConfigAttribute
	if explicit != "" {
		attempted := nix.JoinAttribute([]string{root, explicit})
		if !o.hasAttribute(ctx, log, ins, root, explicit) {
			return nix.Installable{}, fmt.Errorf("%w: %s", ErrConfigurationNotFound, attempted)
		}
		return ins.AppendAttribute(append([]string{root, explicit}, extra...)...), nil
	}

	var attempted []string
	for _, name := range o.candidateNames() {
		attempted = append(attempted, nix.JoinAttribute([]string{root, name}))
		if o.hasAttribute(ctx, log, ins, root, name) {
			log.Debug("auto-detected configuration name", zap.String("name", name))
			return ins.AppendAttribute(append([]string{root, name}, extra...)...), nil
		}
	}
	return nix.Installable{}, fmt.Errorf("%w: tried %s",
		ErrConfigurationNotFound, strings.Join(attempted, ", "))
}

// candidateNames lists the configuration names probed during
// auto-detection, most specific first.
func (o *Orchestrator) candidateNames() []string {
	var names []string
	if o.env.Username != "" && o.env.Hostname != "" {
		names = append(names, o.env.Username+"@"+o.env.Hostname)
	}
	if o.env.Username != "" {
		names = append(names, o.env.Username)
	}
	return names
}

// hasAttribute asks the evaluator whether the configuration tree has an
// entry with the given name. Only a literal "true" on stdout counts as
// present; errors and any other output mean absent.
func (o *Orchestrator) hasAttribute(ctx context.Context, log *zap.Logger, ins nix.Installable, root, name string) bool {
	out, err := o.tc.Eval(ctx, ins.AppendAttribute(root), fmt.Sprintf("x: x ? %q", name))
	if err != nil {
		log.Debug("attribute probe failed",
			zap.String("root", root),
			zap.String("name", name),
			zap.Error(err),
		)
		return false
	}
	return strings.TrimSpace(out) == "true"
}
