// Package pairing confirms Bluetooth pairing prompts on an Android IUT by
// tapping the dialog's confirmation button, standing in for the human who
// would otherwise press it.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaz8081/btp-android/internal/stack"
	"github.com/chaz8081/btp-android/internal/uiview"
)

// ErrNoConfirmButton is returned when none of the confirmation labels is on screen.
var ErrNoConfirmButton = errors.New("pairing: no confirmation button on screen")

// DefaultLabels are tried in order. Older dialogs use "OK", newer ones "PAIR".
var DefaultLabels = []string{"OK", "PAIR"}

// Finder locates the first of several labelled buttons on screen.
type Finder interface {
	FindFirst(ctx context.Context, labels ...string) (string, uiview.Point, bool, error)
}

// Tapper injects a tap at a screen coordinate.
type Tapper interface {
	Tap(ctx context.Context, x, y int) error
}

// Confirmer taps the confirmation button of a pairing dialog.
type Confirmer struct {
	finder Finder
	tapper Tapper
	labels []string
}

// Compile-time check that Confirmer can be registered on a Stack.
var _ stack.PairingHandler = (*Confirmer)(nil)

// NewConfirmer returns a Confirmer that tries DefaultLabels.
func NewConfirmer(finder Finder, tapper Tapper) *Confirmer {
	return &Confirmer{finder: finder, tapper: tapper, labels: DefaultLabels}
}

// Confirm finds the first confirmation button on screen and taps it. When
// no button is found nothing is tapped and ErrNoConfirmButton is returned.
func (c *Confirmer) Confirm(ctx context.Context) error {
	label, p, ok, err := c.finder.FindFirst(ctx, c.labels...)
	if err != nil {
		return fmt.Errorf("pairing: find button: %w", err)
	}
	if !ok {
		slog.Warn("[PAIR] no confirmation button found", "labels", c.labels)
		return ErrNoConfirmButton
	}

	slog.Info("[PAIR] tapping confirmation", "label", label, "x", p.X, "y", p.Y)
	if err := c.tapper.Tap(ctx, p.X, p.Y); err != nil {
		return fmt.Errorf("pairing: tap %q: %w", label, err)
	}
	return nil
}

// Handle implements stack.PairingHandler. Consent and passkey confirmation
// requests both resolve to the same tap.
func (c *Confirmer) Handle(ctx context.Context, cmd stack.Command) error {
	switch cmd := cmd.(type) {
	case stack.ConsentRequest:
		slog.Debug("[PAIR] pairing consent requested", "peer", cmd.Addr.String())
	case stack.PasskeyConfirmRequest:
		slog.Debug("[PAIR] passkey confirmation requested", "peer", cmd.Addr.String(), "passkey", cmd.Passkey, "match", cmd.Match)
	}
	return c.Confirm(ctx)
}
