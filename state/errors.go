package state

import (
	"errors"
	"fmt"
)

var (
	ErrConfig          = errors.New("invalid configuration")
	ErrNoFreeSlot      = errors.New("no free link slot")
	ErrTransport       = errors.New("transport error")
	ErrProtocol        = errors.New("protocol error")
	ErrSelfReference   = errors.New("cannot attach to self")
	ErrAlreadyAttached = errors.New("already attached to router")
	ErrRejected        = errors.New("attach request rejected")
	ErrNoResponse      = errors.New("no response from router")
	ErrHelloTimeout    = errors.New("timed out waiting for TWO_WAY")
	ErrSlotEmpty       = errors.New("link slot is empty")
	ErrSelfPath        = errors.New("destination is the local router")
	ErrNoPath          = errors.New("no path found")
	ErrShutdown        = errors.New("router is shutting down")
)

// RejectReason is carried by ATTACH_REJECT so the requesting router can tell
// an operator decision apart from capacity exhaustion.
type RejectReason uint8

const (
	ReasonDeclined RejectReason = iota
	ReasonCapacity
	ReasonTimeout
	ReasonMismatch
	ReasonDuplicate
)

func (r RejectReason) String() string {
	switch r {
	case ReasonDeclined:
		return "declined"
	case ReasonCapacity:
		return "no free slot"
	case ReasonTimeout:
		return "decision timed out"
	case ReasonMismatch:
		return "router id mismatch"
	case ReasonDuplicate:
		return "already attached"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// RejectedError is returned by attach when the remote router answered with ATTACH_REJECT.
type RejectedError struct {
	Reason RejectReason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected.Error(), e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	if target == ErrRejected {
		return true
	}
	// a remote capacity rejection is still capacity exhaustion
	return target == ErrNoFreeSlot && e.Reason == ReasonCapacity
}
