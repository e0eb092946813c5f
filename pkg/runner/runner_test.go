package runner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: "''"},
		{name: "plain", input: "switch", want: "'switch'"},
		{name: "spaces", input: "a b", want: "'a b'"},
		{name: "single quote", input: "it's", want: `'it'\''s'`},
		{name: "hash", input: "flake#attr", want: "'flake#attr'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shellQuote(tt.input))
		})
	}
}

func TestRenderPlain(t *testing.T) {
	c := New(zap.NewNop(), "nvd", "diff", "/old", "/new")
	argv, env, stdin := c.render()
	assert.Equal(t, []string{"nvd", "diff", "/old", "/new"}, argv)
	assert.Nil(t, env, "without env rules the environment is inherited")
	assert.Empty(t, stdin)
}

func TestRenderSetEnv(t *testing.T) {
	c := New(zap.NewNop(), "activate").SetEnv("HOME_MANAGER_BACKUP_EXT", "bak")
	argv, env, _ := c.render()
	assert.Equal(t, []string{"activate"}, argv)
	require.NotNil(t, env)
	assert.Contains(t, env, "HOME_MANAGER_BACKUP_EXT=bak")
}

func TestRenderUnsetEnv(t *testing.T) {
	t.Setenv("NIXUP_TEST_DROPPED", "1")
	c := New(zap.NewNop(), "true").UnsetEnv("NIXUP_TEST_DROPPED")
	_, env, _ := c.render()
	require.NotNil(t, env)
	for _, kv := range env {
		assert.False(t, strings.HasPrefix(kv, "NIXUP_TEST_DROPPED="), "unset variable leaked: %s", kv)
	}
}

func TestRenderSSH(t *testing.T) {
	c := New(zap.NewNop(), "ls", "-l", "/nix/store").SSH("deploy@host")
	argv, env, stdin := c.render()
	assert.Equal(t, []string{"ssh", "-T", "deploy@host"}, argv)
	assert.Nil(t, env)
	assert.Equal(t, "'ls' '-l' '/nix/store'", stdin)
}

func TestRenderSSHWithSetEnv(t *testing.T) {
	c := New(zap.NewNop(), "activate").SetEnv("HOME_MANAGER_BACKUP_EXT", "bak").SSH("host")
	_, _, stdin := c.render()
	assert.Equal(t, "env 'HOME_MANAGER_BACKUP_EXT=bak' 'activate'", stdin)
}

func TestRenderElevatedSSH(t *testing.T) {
	c := New(zap.NewNop(), "/run/sw/bin/switch", "test").
		Elevate(linuxSudo{}).
		SSH("host")
	argv, _, stdin := c.render()
	assert.Equal(t, []string{"ssh", "-T", "host"}, argv)
	assert.Equal(t, "'sudo' '/run/sw/bin/switch' 'test'", stdin)
}

func TestLinuxSudoShape(t *testing.T) {
	tests := []struct {
		name     string
		elevator linuxSudo
		preserve []string
		set      [][2]string
		want     []string
		wantEnv  []string
	}{
		{
			name:     "bare",
			elevator: linuxSudo{},
			want:     []string{"sudo", "switch", "boot"},
		},
		{
			name:     "preserve list is sorted",
			elevator: linuxSudo{},
			preserve: []string{"PATH", "NIX_PATH", "HOME"},
			want:     []string{"sudo", "--preserve-env=HOME,NIX_PATH,PATH", "switch", "boot"},
		},
		{
			name:     "set variables use the env trampoline",
			elevator: linuxSudo{},
			set:      [][2]string{{"USER", "alice"}},
			want:     []string{"sudo", "env", "USER=alice", "switch", "boot"},
		},
		{
			name:     "askpass",
			elevator: linuxSudo{askpass: "/run/askpass"},
			want:     []string{"sudo", "-A", "switch", "boot"},
			wantEnv:  []string{"SUDO_ASKPASS=/run/askpass"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			argv, env := tt.elevator.Elevate([]string{"switch", "boot"}, tt.preserve, tt.set)
			assert.Equal(t, tt.want, argv)
			assert.Equal(t, tt.wantEnv, env)
		})
	}
}

func TestDarwinSudoShape(t *testing.T) {
	tests := []struct {
		name     string
		elevator darwinSudo
		preserve []string
		set      [][2]string
		want     []string
	}{
		{
			name:     "always sets home",
			elevator: darwinSudo{},
			want:     []string{"sudo", "--set-home", "activate"},
		},
		{
			name:     "preserve emitted only when supported",
			elevator: darwinSudo{preserveFlag: false},
			preserve: []string{"PATH"},
			want:     []string{"sudo", "--set-home", "activate"},
		},
		{
			name:     "preserve with support",
			elevator: darwinSudo{preserveFlag: true},
			preserve: []string{"PATH"},
			want:     []string{"sudo", "--set-home", "--preserve-env=PATH", "activate"},
		},
		{
			name:     "set trampoline",
			elevator: darwinSudo{preserveFlag: true},
			set:      [][2]string{{"HOME", "/Users/alice"}},
			want:     []string{"sudo", "--set-home", "env", "HOME=/Users/alice", "activate"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			argv, _ := tt.elevator.Elevate([]string{"activate"}, tt.preserve, tt.set)
			assert.Equal(t, tt.want, argv)
		})
	}
}

func TestDryRunDoesNotExecute(t *testing.T) {
	c := New(zap.NewNop(), "/definitely/not/a/binary").Dry(true)
	assert.NoError(t, c.Run(context.Background()))

	out, err := New(zap.NewNop(), "/definitely/not/a/binary").Dry(true).Output(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, out)

	err = New(zap.NewNop(), "/definitely/not/a/binary").Dry(true).
		PipeTo(context.Background(), New(zap.NewNop(), "/also/missing"))
	assert.NoError(t, err)
}

func TestRunSpawnFailure(t *testing.T) {
	err := New(zap.NewNop(), "/definitely/not/a/binary").Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to start")
}
