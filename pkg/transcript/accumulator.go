package transcript

import "sync"

// Accumulator holds per-utterance token state: an append-only buffer of
// confirmed tokens and a wholesale-replaced buffer of provisional ones.
// Finalization is monotonic; a final token is never revised or removed.
type Accumulator struct {
	mu       sync.Mutex
	final    []Token
	nonfinal []Token
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Reset clears all buffers. Called at every speech-start boundary so a new
// utterance never inherits tokens from the previous one.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.final = a.final[:0]
	a.nonfinal = a.nonfinal[:0]
	a.mu.Unlock()
}

// Merge folds one inbound batch into the utterance state. Final tokens are
// appended in arrival order; the non-final buffer is replaced by the
// batch's non-final subset, since each batch carries the service's entire
// current guess at the unconfirmed tail.
func (a *Accumulator) Merge(batch Batch) {
	if len(batch) == 0 {
		return
	}
	a.mu.Lock()
	a.nonfinal = a.nonfinal[:0]
	for _, tok := range batch {
		if tok.IsFinal {
			a.final = append(a.final, tok)
		} else {
			a.nonfinal = append(a.nonfinal, tok)
		}
	}
	a.mu.Unlock()
}

// Snapshot returns copies of both buffers for rendering.
func (a *Accumulator) Snapshot() (final, nonfinal []Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	final = append([]Token(nil), a.final...)
	nonfinal = append([]Token(nil), a.nonfinal...)
	return final, nonfinal
}

// HasFinal reports whether any confirmed tokens have arrived.
func (a *Accumulator) HasFinal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.final) > 0
}

// HasNonFinal reports whether any provisional tokens are pending.
func (a *Accumulator) HasNonFinal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.nonfinal) > 0
}
