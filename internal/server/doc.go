// Package server provides the HTTP and websocket transport for feedcast.
//
// This package is internal to feedcast and handles all network concerns:
//
//   - Source routes: one websocket route per registered source
//   - Connection lifecycle: upgrade, writer goroutine, close observers
//   - Heartbeat: periodic pings that terminate unresponsive clients
//   - REST API: "/api/sources" and "/api/sessions" snapshots
//   - Dashboard serving: the embedded demo page at "/"
//
// Every open and close is reported to the activity tracker and recorded in
// the session store. The server supports graceful shutdown via context
// cancellation, with a 5-second timeout for in-flight requests.
//
// Users of the feedcast library should not need to interact with this
// package directly. The server is started by [feedcast.Server.Broadcast].
package server
