// Package activity derives the "any client connected" signal for feedcast.
//
// A [Tracker] counts open websocket connections and reduces that count to a
// single boolean: whether no connection is open. Downstream components (the
// interval manager in particular) subscribe to the boolean rather than to raw
// connection events, so churn that never crosses zero produces no signal.
package activity
