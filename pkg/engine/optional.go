package engine

import "github.com/starfail/locationengine/pkg/model"

// Optional wraps a model.Update[T] with presence, so the last-known cells
// can distinguish "never had a fix" without a nil pointer.
type Optional[T any] struct {
	Update  model.Update[T]
	Present bool
}

// optionalChanged reports whether nw should be treated as a change from
// old for Cell notification purposes. It compares timestamp and source
// identity only (not the payload), matching the fact that the update
// policy has already decided whether nw is a genuinely new authoritative
// value before this is ever called.
func optionalChanged[T any](old, nw Optional[T]) bool {
	if !old.Present {
		return true
	}
	return old.Update.When != nw.Update.When || old.Update.SourceID != nw.Update.SourceID
}
