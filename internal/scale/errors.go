package scale

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Domain errors for the scale package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, scale.ErrTimeout) {
//	    // some scales did not finish in time
//	}
var (
	// ErrConfig is returned when a sync cannot start: no scales, no items or
	// no vendor library.
	ErrConfig = errors.New("scale: invalid configuration")

	// ErrProtocol is returned when a vendor call fails for one scale.
	ErrProtocol = errors.New("scale: protocol error")

	// ErrTimeout is returned when the sync deadline passes with scales still
	// downloading.
	ErrTimeout = errors.New("scale: sync timed out")

	// ErrNoDeviceCompleted is returned when a sync ends without any scale
	// completing.
	ErrNoDeviceCompleted = errors.New("scale: no scale completed")

	// ErrDuplicateDevice is returned when an address is added twice.
	ErrDuplicateDevice = errors.New("scale: device already added")

	// ErrUnknownDevice is returned for an address that was never added.
	ErrUnknownDevice = errors.New("scale: unknown device")

	// ErrShortRecord is returned when decoding a record of the wrong size.
	ErrShortRecord = errors.New("scale: record has wrong size")

	// ErrRegistryClosed is returned when adding to a closed registry.
	ErrRegistryClosed = errors.New("scale: registry closed")
)

// TimeoutError reports the scales that were still incomplete when the
// sync deadline passed.
type TimeoutError struct {
	Incomplete []string
	Elapsed    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s after %s: %d scale(s) incomplete: %s",
		ErrTimeout.Error(),
		e.Elapsed.Round(time.Millisecond),
		len(e.Incomplete),
		strings.Join(e.Incomplete, ", "),
	)
}

// Is makes errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
