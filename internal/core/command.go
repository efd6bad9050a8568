package core

import (
	"context"
	"errors"

	"github.com/autopeer-io/velopark/internal/protocol"
)

// ErrSenderUnavailable is returned when no command transport is attached.
var ErrSenderUnavailable = errors.New("command sender unavailable")

// CommandSender publishes commands to devices. A nil error only means the
// transport accepted the command; delivery is at-most-once and never
// coupled to persisted ride state.
type CommandSender interface {
	// Available reports whether commands can be published right now.
	Available() bool
	SendCommand(ctx context.Context, cmd *protocol.Command) error
	SendLED(ctx context.Context, cmd *protocol.LEDCommand) error
}

// NoCommandSender is the sender used when the bus is absent.
type NoCommandSender struct{}

var _ CommandSender = NoCommandSender{}

func (NoCommandSender) Available() bool { return false }

func (NoCommandSender) SendCommand(context.Context, *protocol.Command) error {
	return ErrSenderUnavailable
}

func (NoCommandSender) SendLED(context.Context, *protocol.LEDCommand) error {
	return ErrSenderUnavailable
}
