package sentinel

import "errors"

// ErrNotFound reports that a lookup matched nothing: an unknown event ID,
// a subject with no behavioral baseline, an event without analysis
// metadata. Stores and caches return it (optionally wrapped) so callers
// can translate it into a coded domain error at the transport boundary.
//
// For validation failures use pkg/domain-errors directly.
var ErrNotFound = errors.New("not found")
