package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/nixup-tools/nixup/pkg/nix"
	"github.com/nixup-tools/nixup/pkg/runner"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// The toolchain is the boundary to every external binary the
// orchestrator drives. Each concern is its own small interface so tests
// can fake exactly the slice they exercise.

// Builder invokes the external builder and leaves the result reachable
// at outLink.
type Builder interface {
	Build(ctx context.Context, ins nix.Installable, outLink string, opts BuildOptions) error
}

// Evaluator answers evaluation queries against an installable. Output is
// the evaluator's trimmed stdout.
type Evaluator interface {
	Eval(ctx context.Context, ins nix.Installable, apply string) (string, error)
}

// Differ renders the closure difference between two configurations.
type Differ interface {
	Diff(ctx context.Context, oldPath, newPath string) error
}

// Copier transfers a built store path to a remote host.
type Copier interface {
	Copy(ctx context.Context, path, host string) error
}

// Activator runs an activation program.
type Activator interface {
	Activate(ctx context.Context, act Activation) error
}

// Profiler mutates profile symlinks: registering a new generation and
// atomically repointing the profile itself.
type Profiler interface {
	RegisterProfile(ctx context.Context, profile, path, host string) error
	RepointProfile(ctx context.Context, profile, target string) error
}

// Repler hands the terminal over to the evaluator's interactive repl.
type Repler interface {
	Repl(ctx context.Context, ins nix.Installable, extraArgs []string) error
}

// Toolchain is the full external tool boundary.
type Toolchain interface {
	Builder
	Evaluator
	Differ
	Copier
	Activator
	Profiler
	Repler
}

// BuildOptions tune one builder invocation.
type BuildOptions struct {
	// ExtraArgs are passed to the builder verbatim, after everything
	// the orchestrator generates.
	ExtraArgs []string
	// Builders, when non-empty, is handed to the builder as its remote
	// builder specification.
	Builders string
	// NoProgress skips the log-formatting pipeline and streams raw
	// builder output.
	NoProgress bool
	Message    string
}

// Activation describes one activation-program run.
type Activation struct {
	// Program is the absolute path of the activation program beneath
	// the built artifact.
	Program string
	Args    []string
	Elevate bool
	// Host runs the activation remotely instead of locally.
	Host    string
	SetEnv  map[string]string
	Message string
}

type ToolchainOption func(*defaultToolchain)

// WithDry describes every mutating command instead of executing it.
// Evaluation queries still run, they are read-only and resolution
// depends on their answers.
func WithDry(dry bool) ToolchainOption {
	return func(t *defaultToolchain) { t.dry = dry }
}

func WithElevator(e runner.Elevator) ToolchainOption {
	return func(t *defaultToolchain) { t.elevator = e }
}

// NewToolchain returns the production toolchain over the nix, nom, nvd,
// ssh and sudo binaries.
func NewToolchain(logger *zap.Logger, opts ...ToolchainOption) Toolchain {
	t := &defaultToolchain{logger: logger, elevator: runner.DetectElevator(context.Background(), logger, "")}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type defaultToolchain struct {
	logger   *zap.Logger
	dry      bool
	elevator runner.Elevator
}

func (t *defaultToolchain) Build(ctx context.Context, ins nix.Installable, outLink string, opts BuildOptions) error {
	args := append([]string{"build"}, ins.Args()...)
	args = append(args, "--out-link", outLink)
	if opts.Builders != "" {
		args = append(args, "--builders", opts.Builders)
	}
	args = append(args, opts.ExtraArgs...)
	head := runner.New(t.logger, "nix", args...).Dry(t.dry).Message(opts.Message)
	if opts.NoProgress {
		return head.Run(ctx)
	}
	head.Arg("--log-format", "internal-json", "--verbose")
	return head.PipeTo(ctx, runner.New(t.logger, "nom", "--json").Dry(t.dry))
}

func (t *defaultToolchain) Eval(ctx context.Context, ins nix.Installable, apply string) (string, error) {
	args := append([]string{"eval"}, ins.Args()...)
	if apply != "" {
		args = append(args, "--apply", apply)
	}
	return runner.New(t.logger, "nix", args...).Output(ctx)
}

func (t *defaultToolchain) Diff(ctx context.Context, oldPath, newPath string) error {
	return runner.New(t.logger, "nvd", "diff", oldPath, newPath).Dry(t.dry).Run(ctx)
}

func (t *defaultToolchain) Copy(ctx context.Context, path, host string) error {
	return runner.New(t.logger, "nix", "copy", "--to", "ssh://"+host, path).
		Dry(t.dry).
		Message("copying configuration to " + host).
		Run(ctx)
}

func (t *defaultToolchain) Activate(ctx context.Context, act Activation) error {
	program := act.Program
	if act.Host == "" && !t.dry {
		if resolved, err := filepath.EvalSymlinks(program); err == nil {
			program = resolved
		}
		if err := unix.Access(program, unix.X_OK); err != nil {
			return fmt.Errorf("activation program %s is not executable: %w", program, err)
		}
	}
	c := runner.New(t.logger, program, act.Args...).Dry(t.dry).Message(act.Message)
	keys := make([]string, 0, len(act.SetEnv))
	for k := range act.SetEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.SetEnv(k, act.SetEnv[k])
	}
	if act.Elevate {
		c.Elevate(t.elevator).PreserveNixEnv()
	}
	if act.Host != "" {
		c.SSH(act.Host)
	}
	return c.Run(ctx)
}

func (t *defaultToolchain) RegisterProfile(ctx context.Context, profile, path, host string) error {
	c := runner.New(t.logger, "nix", "build", "--no-link", "--profile", profile, path).
		Dry(t.dry).
		Message("registering configuration in profile " + profile).
		Elevate(t.elevator).
		PreserveNixEnv()
	if host != "" {
		c.SSH(host)
	}
	return c.Run(ctx)
}

func (t *defaultToolchain) RepointProfile(ctx context.Context, profile, target string) error {
	return runner.New(t.logger, "ln", "-sfn", target, profile).
		Dry(t.dry).
		Message(fmt.Sprintf("pointing profile %s at %s", profile, target)).
		Elevate(t.elevator).
		Run(ctx)
}

func (t *defaultToolchain) Repl(ctx context.Context, ins nix.Installable, extraArgs []string) error {
	args := append([]string{"repl"}, ins.Args()...)
	args = append(args, extraArgs...)
	return runner.New(t.logger, "nix", args...).Dry(t.dry).Run(ctx)
}
