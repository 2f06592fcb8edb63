package vocoder

// convQueue is the per-block ring buffer used by incremental generation.
// It holds the last `window` block inputs, one [batch*channels] frame per
// slot, where window = (kernel_size-1)*dilation + 1.
//
// Slots start zeroed, which is exactly the causal zero padding the parallel
// mode applies: a tap that reaches before the first pushed frame reads zeros,
// so underflow cannot occur.  One queue set exists per in-flight generation
// call; queues are never stored on the model.
type convQueue struct {
	window int64
	frame  int64 // batch * channels
	pos    int64 // slot the next push writes
	buf    []float32
}

func newConvQueue(window, batch, channels int64) *convQueue {
	frame := batch * channels

	return &convQueue{
		window: window,
		frame:  frame,
		buf:    make([]float32, window*frame),
	}
}

// push appends the current frame, evicting the oldest slot.
func (q *convQueue) push(frame []float32) {
	copy(q.buf[q.pos*q.frame:(q.pos+1)*q.frame], frame)
	q.pos = (q.pos + 1) % q.window
}

// tap returns the frame pushed `back` steps before the most recent push.
// back = 0 is the newest frame; back may reach window-1.
func (q *convQueue) tap(back int64) []float32 {
	idx := ((q.pos-1-back)%q.window + q.window) % q.window

	return q.buf[idx*q.frame : (idx+1)*q.frame]
}
