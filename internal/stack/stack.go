// Package stack models the Bluetooth state the test suite tracks for an IUT.
// The controller only uses it to route pairing requests that need a
// confirmation on the device screen.
package stack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

// Command is a pairing request raised by the IUT that needs an action on
// the device before pairing can continue.
type Command interface {
	Peer() bluetooth.MAC
}

// ConsentRequest asks the user to accept bonding with a peer.
type ConsentRequest struct {
	AddrType uint8
	Addr     bluetooth.MAC
}

// Peer implements Command.
func (r ConsentRequest) Peer() bluetooth.MAC { return r.Addr }

// PasskeyConfirmRequest asks the user to confirm that the passkey shown on
// both sides matches.
type PasskeyConfirmRequest struct {
	AddrType uint8
	Addr     bluetooth.MAC
	Passkey  uint32
	Match    bool
}

// Peer implements Command.
func (r PasskeyConfirmRequest) Peer() bluetooth.MAC { return r.Addr }

// PairingHandler performs the on-device action for a pairing command.
type PairingHandler interface {
	Handle(ctx context.Context, cmd Command) error
}

// HandlerFunc adapts a function to PairingHandler.
type HandlerFunc func(ctx context.Context, cmd Command) error

// Handle implements PairingHandler.
func (f HandlerFunc) Handle(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// Stack holds the protocol state of one IUT. Safe for concurrent use.
type Stack struct {
	mu             sync.Mutex
	consent        PairingHandler
	passkeyConfirm PairingHandler
	passkey        *uint32 // last passkey displayed by the IUT
	lastPeer       *bluetooth.MAC
}

// New returns an empty Stack.
func New() *Stack {
	return &Stack{}
}

// SetPairingConsentHandler registers the handler for bonding consent requests.
func (s *Stack) SetPairingConsentHandler(h PairingHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consent = h
}

// SetPasskeyConfirmHandler registers the handler for passkey match confirmations.
func (s *Stack) SetPasskeyConfirmHandler(h PairingHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passkeyConfirm = h
}

// PasskeyDisplayed records the passkey the IUT showed for a pairing.
func (s *Stack) PasskeyDisplayed(addr bluetooth.MAC, passkey uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passkey = &passkey
	s.lastPeer = &addr
}

// PairingConsent dispatches a ConsentRequest to the registered handler.
func (s *Stack) PairingConsent(ctx context.Context, addrType uint8, addr bluetooth.MAC) error {
	s.mu.Lock()
	h := s.consent
	s.lastPeer = &addr
	s.mu.Unlock()

	return dispatch(ctx, h, ConsentRequest{AddrType: addrType, Addr: addr})
}

// PasskeyConfirm dispatches a PasskeyConfirmRequest to the registered
// handler. Match reports whether passkey equals the one last displayed;
// it is true when none was displayed.
func (s *Stack) PasskeyConfirm(ctx context.Context, addrType uint8, addr bluetooth.MAC, passkey uint32) error {
	s.mu.Lock()
	h := s.passkeyConfirm
	match := s.passkey == nil || *s.passkey == passkey
	s.lastPeer = &addr
	s.mu.Unlock()

	return dispatch(ctx, h, PasskeyConfirmRequest{AddrType: addrType, Addr: addr, Passkey: passkey, Match: match})
}

// LastPeer returns the address of the most recent pairing peer.
func (s *Stack) LastPeer() (bluetooth.MAC, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPeer == nil {
		return bluetooth.MAC{}, false
	}
	return *s.lastPeer, true
}

// Cleanup forgets per-test pairing state. Registered handlers are kept.
func (s *Stack) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passkey = nil
	s.lastPeer = nil
}

func dispatch(ctx context.Context, h PairingHandler, cmd Command) error {
	if h == nil {
		slog.Warn("[STACK] no handler registered", "command", fmt.Sprintf("%T", cmd), "peer", cmd.Peer().String())
		return nil
	}
	if err := h.Handle(ctx, cmd); err != nil {
		return fmt.Errorf("stack: %T for %s: %w", cmd, cmd.Peer().String(), err)
	}
	return nil
}
