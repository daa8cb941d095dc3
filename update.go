package feedcast

import "time"

// Update describes one broadcast: a poll that produced a changed payload.
//
// Update is passed to callbacks registered with [WithUpdateCallback]. The
// Payload slice is a copy owned by the callback.
type Update struct {
	// Source is the type of the source that changed.
	Source string

	// Payload is the JSON frame that was pushed to clients.
	Payload []byte

	// Subscribers is the number of connections the frame was pushed to.
	Subscribers int

	// ChangedAt is when the change was detected.
	ChangedAt time.Time
}
