// Package session owns the host side of the peripheral connection.
//
// Ownership boundary:
// - the connection state machine (scan, connect, ready, running, teardown)
// - the serialized control request/response path and its deadline
// - chunked data sends and the break/reset signals
// - supervised reconnect with backoff
//
// The session drives a transport.Conn and speaks wire frames; it never
// touches raw link bytes itself.
package session
