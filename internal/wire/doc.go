// Package wire owns the byte-tagged frame format shared by host and
// peripheral.
//
// Ownership boundary:
// - frame kinds, sub-tags, and reserved signal bytes
// - MTU-derived encode limits
// - encode/decode of every frame that crosses the link
//
// Nothing outside this package builds or parses raw link bytes.
package wire
