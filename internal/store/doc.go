// Package store keeps a record of live client connections.
//
// The main components are:
//
//   - [Store]: Interface defining session storage operations
//   - [MemoryStore]: In-memory implementation, the default
//   - [RedisStore]: Implementation backed by a Redis hash
//   - [Session]: Storage representation of one connection
//
// Stores are written by the websocket transport as connections open and
// close, and read by the status API. They never affect delivery: a failing
// store is logged and the connection carries on.
package store
