package btp

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/btp-android/internal/stack"
)

// addrSize is the encoded size of an address type plus a 6-byte address.
const addrSize = 7

// Handler routes GAP pairing events to a Stack. Other events are left
// for the worker's reader.
type Handler struct {
	stack *stack.Stack
}

// Compile-time check that Handler implements EventHandler.
var _ EventHandler = (*Handler)(nil)

// NewHandler returns a Handler bound to s.
func NewHandler(s *stack.Stack) *Handler {
	return &Handler{stack: s}
}

// HandleEvent implements EventHandler.
func (h *Handler) HandleEvent(ctx context.Context, f Frame) bool {
	if f.Service != ServiceGAP {
		return false
	}

	switch f.Opcode {
	case GAPEvPasskeyDisplay:
		addrType, addr, passkey, err := decodeAddrPasskey(f.Data)
		if err != nil {
			slog.Warn("[BTP] bad passkey display event", "error", err)
			return true
		}
		slog.Info("[BTP] passkey displayed", "peer", addr.String(), "type", addrType, "passkey", passkey)
		h.stack.PasskeyDisplayed(addr, passkey)
		return true

	case GAPEvPasskeyConfirmReq:
		addrType, addr, passkey, err := decodeAddrPasskey(f.Data)
		if err != nil {
			slog.Warn("[BTP] bad passkey confirm event", "error", err)
			return true
		}
		if err := h.stack.PasskeyConfirm(ctx, addrType, addr, passkey); err != nil {
			slog.Error("[BTP] passkey confirmation failed", "peer", addr.String(), "error", err)
		}
		return true

	case GAPEvPairingConsentReq:
		addrType, addr, err := decodeAddr(f.Data)
		if err != nil {
			slog.Warn("[BTP] bad pairing consent event", "error", err)
			return true
		}
		if err := h.stack.PairingConsent(ctx, addrType, addr); err != nil {
			slog.Error("[BTP] pairing consent failed", "peer", addr.String(), "error", err)
		}
		return true
	}
	return false
}

// decodeAddr reads an address type and a little-endian device address.
func decodeAddr(data []byte) (uint8, bluetooth.MAC, error) {
	if len(data) < addrSize {
		return 0, bluetooth.MAC{}, fmt.Errorf("btp: address needs %d bytes, got %d", addrSize, len(data))
	}
	var mac bluetooth.MAC
	copy(mac[:], data[1:addrSize])
	return data[0], mac, nil
}

func decodeAddrPasskey(data []byte) (uint8, bluetooth.MAC, uint32, error) {
	addrType, mac, err := decodeAddr(data)
	if err != nil {
		return 0, mac, 0, err
	}
	if len(data) < addrSize+4 {
		return 0, mac, 0, fmt.Errorf("btp: passkey needs %d bytes, got %d", addrSize+4, len(data))
	}
	return addrType, mac, binary.LittleEndian.Uint32(data[addrSize:]), nil
}
