package cmdfmt

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// Confirm blocks for a yes/no answer on the terminal. Running without a
// terminal attached is an error rather than a silent yes: a
// non-interactive caller that wants confirmation prompts has
// misconfigured itself.
func Confirm(ctx context.Context, title string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("confirmation requires an interactive terminal (run without asking for confirmation or attach a terminal)")
	}
	var accepted bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Affirmative("Yes").
			Negative("No").
			Value(&accepted),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return false, err
	}
	return accepted, nil
}
