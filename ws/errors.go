package ws

import (
	"errors"
	"fmt"

	"github.com/akinalp/convo/pkg"
)

var (
	// ErrUnauthorized is returned by Subscribe when the user does not
	// participate in the conversation. Membership is left unchanged.
	ErrUnauthorized = fmt.Errorf("%w: not a participant of this conversation", pkg.ErrForbidden)

	// ErrTransportUnavailable is logged when an event is emitted with no
	// broadcast transport configured. The write that produced it stands.
	ErrTransportUnavailable = errors.New("broadcast transport unavailable")

	// ErrSlowConsumer closes a session whose queue is full of events that
	// cannot be superseded.
	ErrSlowConsumer = errors.New("slow consumer")

	ErrSessionClosed  = errors.New("session closed")
	ErrUnknownSession = errors.New("unknown session")
)
