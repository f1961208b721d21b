// Package transport owns the link adapters beneath the session layer.
//
// Ownership boundary:
// - the Transport/Conn seam the session drives
// - the BlueZ D-Bus GATT central (production link)
// - the TCP bridge (development and simulator link)
//
// Adapters move raw frames only; framing semantics live in wire and
// sequencing lives in session.
package transport
