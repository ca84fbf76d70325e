// Package engine implements the positioning engine: it owns the
// provider set, propagates configuration to every provider, mediates
// updates through the update policy, and acts as the reference-data bus.
package engine

import "errors"

// ErrInvalidArgument is returned when AddProvider is called with a nil
// provider. No other engine operation returns it; out-of-range values are
// not range-checked at the engine boundary.
var ErrInvalidArgument = errors.New("engine: invalid argument")

// Cancellation (a stream torn down while a dispatch is in flight) has no
// sentinel here: it's realized structurally by
// pkg/cell.Signal.Connect/Disconnect, which detaches a subscriber before
// its next dispatch rather than returning an error to anything. There is
// no dispatch site in this codebase that returns an error on a cancelled
// stream, so no ErrCancelled value is declared.

// ErrProviderFault marks a panic recovered at the ForEachProvider dispatch
// boundary. It never escapes the dispatch site: the panicking
// provider's error is logged and ForEachProvider continues with the rest.
var ErrProviderFault = errors.New("engine: provider fault")
