package runner

import (
	"context"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Elevator builds the privileged form of a command line. Two strategies
// exist because sudo's environment handling diverges between Linux and
// macOS: Linux sudo always understands --preserve-env=LIST, while the
// sudo shipped with macOS may predate the flag and needs --set-home to
// normalize the home directory.
type Elevator interface {
	// Elevate wraps argv in a privileged invocation. preserve names the
	// ambient variables the elevated command must keep and set carries
	// the variables it must see with literal values (emitted through an
	// "env KEY=VALUE" trampoline, since sudo resets the environment).
	// The returned extra entries are appended to the local process
	// environment of the wrapper itself.
	Elevate(argv []string, preserve []string, set [][2]string) (wrapped []string, extraEnv []string)
}

// DetectElevator probes the host once at startup and returns the sudo
// strategy matching it. askpass, when non-empty, is an external helper
// sudo runs to obtain the password instead of prompting on the terminal.
func DetectElevator(ctx context.Context, logger *zap.Logger, askpass string) Elevator {
	if runtime.GOOS == "darwin" {
		help, err := New(logger, "sudo", "--help").Output(ctx)
		supported := err == nil && strings.Contains(help, "--preserve-env")
		logger.Debug("probed sudo for --preserve-env support", zap.Bool("supported", supported))
		return darwinSudo{askpass: askpass, preserveFlag: supported}
	}
	return linuxSudo{askpass: askpass}
}

type linuxSudo struct {
	askpass string
}

func (s linuxSudo) Elevate(argv []string, preserve []string, set [][2]string) ([]string, []string) {
	out := []string{"sudo"}
	var extra []string
	if s.askpass != "" {
		extra = append(extra, "SUDO_ASKPASS="+s.askpass)
		out = append(out, "-A")
	}
	if len(preserve) > 0 {
		out = append(out, "--preserve-env="+joinPreserved(preserve))
	}
	out = appendSetTrampoline(out, set)
	return append(out, argv...), extra
}

type darwinSudo struct {
	askpass      string
	preserveFlag bool
}

func (s darwinSudo) Elevate(argv []string, preserve []string, set [][2]string) ([]string, []string) {
	out := []string{"sudo", "--set-home"}
	var extra []string
	if s.askpass != "" {
		extra = append(extra, "SUDO_ASKPASS="+s.askpass)
		out = append(out, "-A")
	}
	if s.preserveFlag && len(preserve) > 0 {
		out = append(out, "--preserve-env="+joinPreserved(preserve))
	}
	out = appendSetTrampoline(out, set)
	return append(out, argv...), extra
}

func joinPreserved(preserve []string) string {
	keys := make([]string, len(preserve))
	copy(keys, preserve)
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func appendSetTrampoline(out []string, set [][2]string) []string {
	if len(set) == 0 {
		return out
	}
	out = append(out, "env")
	for _, kv := range set {
		out = append(out, kv[0]+"="+kv[1])
	}
	return out
}
