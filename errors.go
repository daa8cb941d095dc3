package feedcast

import "github.com/jpalmerr/feedcast/internal/poller"

var (
	// ErrDuplicateSource is returned by [Server.Sources] when a source type
	// is already registered or repeated within the call.
	ErrDuplicateSource = poller.ErrDuplicateSource

	// ErrDuplicatePath is returned by [Server.Sources] when two sources would
	// be served on the same route.
	ErrDuplicatePath = poller.ErrDuplicatePath

	// ErrUnknownSource is logged when a client connects on a route no source
	// was registered for. The connection stays open but receives nothing.
	ErrUnknownSource = poller.ErrUnknownSource

	// ErrFetch wraps failures of a single poll: transport errors, non-2xx
	// responses and undecodable bodies. The poll is skipped and retried on
	// the next tick.
	ErrFetch = poller.ErrFetch
)
