// Package runner builds and executes the external commands the deployment
// flow depends on. A command can be elevated through a host-specific sudo
// strategy, wrapped for remote execution over ssh, and given per-variable
// control over the environment it runs with. In dry mode a command is
// described through the logger and never executed.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"go.uber.org/zap"
)

type envAction int

const (
	envSet envAction = iota
	envPreserve
	envUnset
)

type envRule struct {
	action envAction
	key    string
	value  string
}

// Command accumulates everything needed to run one external program. All
// setters return the receiver so call sites can chain them.
type Command struct {
	logger   *zap.Logger
	name     string
	args     []string
	env      []envRule
	message  string
	dry      bool
	elevator Elevator
	sshHost  string
}

func New(logger *zap.Logger, name string, args ...string) *Command {
	return &Command{logger: logger, name: name, args: args}
}

// Arg appends additional arguments to the command line.
func (c *Command) Arg(args ...string) *Command {
	c.args = append(c.args, args...)
	return c
}

// SetEnv gives the command a variable with a literal value. Under
// elevation the variable is carried across the sudo boundary with an env
// trampoline, since sudo resets the environment.
func (c *Command) SetEnv(key, value string) *Command {
	c.env = append(c.env, envRule{action: envSet, key: key, value: value})
	return c
}

// PreserveEnv keeps the named ambient variables visible to the command
// across an elevation boundary. Without elevation this is a no-op because
// the environment is inherited anyway.
func (c *Command) PreserveEnv(keys ...string) *Command {
	for _, k := range keys {
		c.env = append(c.env, envRule{action: envPreserve, key: k})
	}
	return c
}

// PreserveNixEnv keeps the variables a nix invocation needs across an
// elevation boundary.
func (c *Command) PreserveNixEnv() *Command {
	return c.PreserveEnv("PATH", "NIX_CONFIG", "NIX_PATH", "NIX_REMOTE",
		"NIX_SSL_CERT_FILE", "NIX_USER_CONF_FILES")
}

// UnsetEnv removes the named variables from the command's environment.
func (c *Command) UnsetEnv(keys ...string) *Command {
	for _, k := range keys {
		c.env = append(c.env, envRule{action: envUnset, key: k})
	}
	return c
}

// Message sets an operator-facing log line emitted right before the
// command runs (or would run, in dry mode).
func (c *Command) Message(message string) *Command {
	c.message = message
	return c
}

func (c *Command) Dry(dry bool) *Command {
	c.dry = dry
	return c
}

// Elevate wraps the command in a privileged invocation built by the given
// strategy. Passing nil leaves the command unelevated.
func (c *Command) Elevate(elevator Elevator) *Command {
	c.elevator = elevator
	return c
}

// SSH runs the command on the given host by handing the fully quoted
// command line to "ssh -T <host>" on stdin.
func (c *Command) SSH(host string) *Command {
	c.sshHost = host
	return c
}

// render produces the local argument vector, the process environment (nil
// meaning plain inheritance), and the stdin payload for remote execution.
func (c *Command) render() (argv []string, env []string, stdin string) {
	var (
		preserve []string
		set      [][2]string
		unset    []string
	)
	for _, r := range c.env {
		switch r.action {
		case envSet:
			set = append(set, [2]string{r.key, r.value})
		case envPreserve:
			preserve = append(preserve, r.key)
		case envUnset:
			unset = append(unset, r.key)
		}
	}
	sort.Slice(set, func(i, j int) bool { return set[i][0] < set[j][0] })

	argv = append([]string{c.name}, c.args...)
	if c.elevator != nil {
		var extra []string
		argv, extra = c.elevator.Elevate(argv, preserve, set)
		env = append(environWithout(unset), extra...)
	} else if len(set) > 0 || len(unset) > 0 {
		env = environWithout(unset)
		for _, kv := range set {
			env = append(env, kv[0]+"="+kv[1])
		}
	}

	if c.sshHost != "" {
		line := make([]string, 0, len(argv)+len(set)+1)
		if c.elevator == nil && len(set) > 0 {
			// Without the sudo trampoline the remote shell still needs
			// the literal variables, so prefix them the same way.
			line = append(line, "env")
			for _, kv := range set {
				line = append(line, shellQuote(kv[0]+"="+kv[1]))
			}
		}
		for _, a := range argv {
			line = append(line, shellQuote(a))
		}
		stdin = strings.Join(line, " ")
		argv = []string{"ssh", "-T", c.sshHost}
		env = nil
	}
	return argv, env, stdin
}

// environWithout returns the ambient environment minus the given keys.
// With no keys to drop it returns nil so callers can distinguish "plain
// inheritance" from an explicitly constructed environment.
func environWithout(unset []string) []string {
	env := os.Environ()
	if len(unset) == 0 {
		return env
	}
	kept := env[:0]
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		drop := false
		for _, u := range unset {
			if key == u {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, kv)
		}
	}
	return kept
}

// Run executes the command with inherited stdio. A non-zero exit surfaces
// as an error wrapping the raw *exec.ExitError; failing to spawn is
// reported distinctly. In dry mode the command is only described.
func (c *Command) Run(ctx context.Context) error {
	if c.message != "" {
		c.logger.Info(c.message)
	}
	argv, env, stdin := c.render()
	c.logger.Debug("running command",
		zap.Strings("argv", argv),
		zap.String("stdin", stdin),
		zap.Bool("dry", c.dry),
	)
	if c.dry {
		return nil
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin + "\n")
	} else {
		cmd.Stdin = os.Stdin
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("unable to start %s: %w", c.name, err)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("command %s failed: %w", c.name, err)
	}
	return nil
}

// Output executes the command and returns its trimmed stdout. Capture
// mode never elevates or wraps for remote execution (it backs evaluator
// probes, which must run as the invoking user) and returns an empty
// string without executing anything in dry mode. Stderr passes through.
func (c *Command) Output(ctx context.Context) (string, error) {
	if c.message != "" {
		c.logger.Info(c.message)
	}
	c.logger.Debug("capturing command output",
		zap.String("name", c.name),
		zap.Strings("args", c.args),
		zap.Bool("dry", c.dry),
	)
	if c.dry {
		return "", nil
	}
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("command %s failed: %w", c.name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// PipeTo executes the command with both its stdout and stderr streamed
// into next's stdin. next always runs locally and unelevated. The
// pipeline fails when next exits non-zero or the head cannot be started
// or waited on; when both fail the head's error is attached to the
// tail's without hiding it.
func (c *Command) PipeTo(ctx context.Context, next *Command) error {
	if c.message != "" {
		c.logger.Info(c.message)
	}
	argv, env, stdin := c.render()
	c.logger.Debug("running command pipeline",
		zap.Strings("argv", argv),
		zap.String("stdin", stdin),
		zap.String("pipeTo", next.name),
		zap.Bool("dry", c.dry || next.dry),
	)
	if c.dry || next.dry {
		return nil
	}

	head := exec.CommandContext(ctx, argv[0], argv[1:]...)
	head.Env = env
	if stdin != "" {
		head.Stdin = strings.NewReader(stdin + "\n")
	}
	tail := exec.CommandContext(ctx, next.name, next.args...)
	tail.Stdout = os.Stdout
	tail.Stderr = os.Stderr
	pipe, err := tail.StdinPipe()
	if err != nil {
		return fmt.Errorf("unable to connect %s to %s: %w", c.name, next.name, err)
	}
	head.Stdout = pipe
	head.Stderr = pipe

	if err := tail.Start(); err != nil {
		return fmt.Errorf("unable to start %s: %w", next.name, err)
	}
	if err := head.Start(); err != nil {
		pipe.Close()
		tail.Wait()
		return fmt.Errorf("unable to start %s: %w", c.name, err)
	}
	headErr := head.Wait()
	pipe.Close()
	tailErr := tail.Wait()
	if tailErr != nil {
		if headErr != nil {
			return fmt.Errorf("command %s failed: %w (and %s error: %v)", next.name, tailErr, c.name, headErr)
		}
		return fmt.Errorf("command %s failed: %w", next.name, tailErr)
	}
	if headErr != nil {
		return fmt.Errorf("command %s failed: %w", c.name, headErr)
	}
	return nil
}

func shellQuote(arg string) string {
	if arg == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
