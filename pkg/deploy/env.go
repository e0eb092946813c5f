package deploy

import (
	"fmt"
	"os"
)

// Env carries the ambient identity a deployment needs: who is deploying,
// where their home is, and the local host name. It is captured once at
// the process boundary and threaded through explicitly so nothing deeper
// in the pipeline reads the process environment ad hoc. Empty fields are
// legal until a step actually needs them.
type Env struct {
	Username    string
	Home        string
	Hostname    string
	SudoAskpass string
}

// SystemEnv captures the identity of the invoking process.
func SystemEnv() Env {
	hostname, _ := os.Hostname()
	return Env{
		Username:    os.Getenv("USER"),
		Home:        os.Getenv("HOME"),
		Hostname:    hostname,
		SudoAskpass: os.Getenv("NIXUP_SUDO_ASKPASS"),
	}
}

func (e Env) user() (string, error) {
	if e.Username == "" {
		return "", fmt.Errorf("%w: $USER", ErrMissingEnv)
	}
	return e.Username, nil
}

func (e Env) home() (string, error) {
	if e.Home == "" {
		return "", fmt.Errorf("%w: $HOME", ErrMissingEnv)
	}
	return e.Home, nil
}
