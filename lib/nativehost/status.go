package nativehost

import (
	"errors"

	"github.com/snowmerak/nethost/lib/bridge"
	"github.com/snowmerak/nethost/lib/channel"
	"github.com/snowmerak/nethost/lib/hoststream"
	"github.com/snowmerak/nethost/lib/message"
)

// Status codes returned across the native ABI.
const (
	StatusOK                = 0
	StatusNotReady          = -1
	StatusAlreadyRegistered = -2
	StatusNilCallback       = -3
	StatusMalformedMessage  = -4
	StatusStopped           = -5
	StatusNotStarted        = -6
	StatusAlreadyStarted    = -7
	StatusBadArguments      = -8
	StatusInternal          = -100
)

// Status maps err to the status code reported to native callers.
func Status(err error) int32 {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, bridge.ErrNotReady):
		return StatusNotReady
	case errors.Is(err, bridge.ErrAlreadyRegistered):
		return StatusAlreadyRegistered
	case errors.Is(err, bridge.ErrNilSink):
		return StatusNilCallback
	case errors.Is(err, message.ErrMalformed):
		return StatusMalformedMessage
	case errors.Is(err, channel.ErrCompleted), errors.Is(err, ErrStopped):
		return StatusStopped
	case errors.Is(err, ErrNotStarted):
		return StatusNotStarted
	case errors.Is(err, ErrAlreadyStarted):
		return StatusAlreadyStarted
	case errors.Is(err, hoststream.ErrNoEndpoint):
		return StatusBadArguments
	}
	return StatusInternal
}
