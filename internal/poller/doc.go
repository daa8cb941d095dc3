// Package poller runs the fetch/compare/broadcast cycle for feedcast sources.
//
// This package is internal to feedcast. It owns the source registry and, per
// source, the last decoded payload and the set of subscribed connections.
//
// The main components are:
//
//   - [Client]: HTTP client wrapper with timeout and size limits, plus JSON and
//     XML decoding via [Client.Load]
//   - [Manager]: source registry; consumes ticks, detects unchanged payloads
//     through each source's [Comparator] and fans changes out to [Conn] values
//   - [Source]: configuration for one polled endpoint
//
// Tick streams come from a [Ticker] (the interval package in production), so
// the Manager never owns timers itself.
//
// Users of the feedcast library should not need to interact with this
// package directly. Configuration is done through the main feedcast package.
package poller
