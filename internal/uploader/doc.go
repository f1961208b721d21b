// Package uploader delivers a script file into the peripheral's file
// store over the control channel. Every step is a plain-text command
// whose success the peripheral confirms by echoing a sentinel byte;
// content travels as single-quoted string literals, escaped so no
// chunk boundary can split an escape sequence.
//
// Ownership boundary: the uploader composes control round trips, it
// never touches the transport. Serialization against ad hoc control
// sends comes from the session's control path, not from this package.
package uploader
