package session

// replayWindow is a sliding bitmap over received sequence numbers. Frames
// within the window may arrive out of order; a frame older than the window
// is rejected (non-fatally) and a duplicate inside it is a replay.
type replayWindow struct {
	size    uint64
	bits    []uint64
	highest uint64
	started bool
}

func newReplayWindow(size int) *replayWindow {
	if size <= 0 {
		size = 1024
	}
	words := (size + 63) / 64
	return &replayWindow{size: uint64(words * 64), bits: make([]uint64, words)}
}

func (w *replayWindow) bit(seq uint64) (word int, mask uint64) {
	idx := seq % w.size
	return int(idx / 64), 1 << (idx % 64)
}

// check validates and records seq. Returns ErrReplayDetected for a
// duplicate within the window and ErrSequenceGap for anything older than
// the window.
func (w *replayWindow) check(seq uint64) error {
	if !w.started {
		w.started = true
		w.highest = seq
		word, mask := w.bit(seq)
		w.bits[word] |= mask
		return nil
	}

	switch {
	case seq > w.highest:
		// Window advances; clear the bits the advance skips over.
		delta := seq - w.highest
		if delta >= w.size {
			for i := range w.bits {
				w.bits[i] = 0
			}
		} else {
			for s := w.highest + 1; s < seq; s++ {
				word, mask := w.bit(s)
				w.bits[word] &^= mask
			}
			word, mask := w.bit(seq)
			w.bits[word] &^= mask
		}
		w.highest = seq
	case w.highest-seq >= w.size:
		return ErrSequenceGap
	}

	word, mask := w.bit(seq)
	if w.bits[word]&mask != 0 {
		return ErrReplayDetected
	}
	w.bits[word] |= mask
	return nil
}
