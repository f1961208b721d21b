// Package remote is the peripheral's side of the protocol: chunk
// reassembly, the render loop, and a minimal command interpreter for
// the simulator. The host never imports the Device or Interp types;
// they exist so the simulator behaves like real hardware, including
// its failure modes.
//
// Ownership boundary: remote consumes a transport.Conn handed to it by
// whoever accepted the link. It decodes frames itself and owns all
// peripheral-local state (accumulator, sealed text, file store).
package remote
