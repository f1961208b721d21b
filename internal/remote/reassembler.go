package remote

import (
	"sync"

	"github.com/dvrsch/lensctl/internal/wire"
)

// Reassembler folds continuation and final chunks back into logical
// messages. At most one message is in flight at a time; the protocol
// is not multiplexed.
type Reassembler struct {
	mu          sync.Mutex
	accumulator []byte
	sealed      string
}

// Ingest applies one data chunk. A continuation grows the accumulator;
// a final seals accumulator plus payload as the current message and
// empties the accumulator. Unknown sub-tags are ignored.
func (r *Reassembler) Ingest(f wire.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch f.SubTag {
	case wire.SubContinuation:
		r.accumulator = append(r.accumulator, f.Payload...)
	case wire.SubFinal:
		r.sealed = string(r.accumulator) + string(f.Payload)
		r.accumulator = r.accumulator[:0]
	}
}

// Sealed returns the last complete message. Reads are idempotent: the
// value only changes when the next final chunk arrives.
func (r *Reassembler) Sealed() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Interrupt abandons the message in flight; the sealed text stays.
func (r *Reassembler) Interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accumulator = r.accumulator[:0]
}

// Reset clears both the accumulator and the sealed text.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accumulator = r.accumulator[:0]
	r.sealed = ""
}
