// Package ui holds the interactive pieces of the CLI: the bulk-delete
// confirmation and the end-of-run alert.
package ui

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"

	"github.com/kimhsiao/contactsync/internal/models"
	syncpkg "github.com/kimhsiao/contactsync/internal/sync"
)

// PromptGate asks on the terminal before a bulk deletion.
type PromptGate struct {
	in         io.Reader
	out        io.Writer
	accessible bool
	confirm    func(ctx context.Context, title, description string) (bool, error)
}

var _ syncpkg.Gate = (*PromptGate)(nil)

// NewPromptGate returns a gate prompting on in/out. Accessible mode uses
// plain line prompts instead of the full-screen form.
func NewPromptGate(in io.Reader, out io.Writer, accessible bool) *PromptGate {
	g := &PromptGate{in: in, out: out, accessible: accessible}
	g.confirm = g.runForm
	return g
}

// ConfirmBulkDelete implements sync.Gate. Aborting the prompt declines.
func (g *PromptGate) ConfirmBulkDelete(ctx context.Context, account models.SyncAccount, localCount, remoteCount int) (bool, error) {
	ok, err := g.confirm(ctx, ConfirmTitle(account), ConfirmDescription(localCount, remoteCount))
	if errors.Is(err, huh.ErrUserAborted) || errors.Is(err, context.Canceled) {
		return false, nil
	}
	return ok, err
}

func (g *PromptGate) runForm(ctx context.Context, title, description string) (bool, error) {
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Delete").
			Negative("Keep everything").
			Value(&ok),
	)).
		WithAccessible(g.accessible).
		WithInput(g.in).
		WithOutput(g.out)
	if err := form.RunWithContext(ctx); err != nil {
		return false, err
	}
	return ok, nil
}

// ConfirmTitle is the prompt title for account.
func ConfirmTitle(account models.SyncAccount) string {
	name := account.Name
	if name == "" {
		name = string(account.ID)
	}
	return fmt.Sprintf("Delete contacts of %q?", name)
}

// ConfirmDescription explains what will be deleted where.
func ConfirmDescription(localCount, remoteCount int) string {
	return fmt.Sprintf("This sync would delete %s locally and %s on the server.\n"+
		"Keeping everything disables the account until it is re-enabled.",
		plural(localCount, "contact"), plural(remoteCount, "contact"))
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// StaticGate answers every confirmation the same way. Unattended runs use
// it.
type StaticGate struct {
	Answer bool
}

// ConfirmBulkDelete implements sync.Gate.
func (g StaticGate) ConfirmBulkDelete(ctx context.Context, account models.SyncAccount, localCount, remoteCount int) (bool, error) {
	return g.Answer, nil
}
