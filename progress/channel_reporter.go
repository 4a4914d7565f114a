package progress

import "sync"

// ChannelReporter delivers progress on a buffered channel.
//
// Report never blocks. Uploading events are dropped while the buffer is full;
// Starting and terminal events replace the oldest buffered event instead.
// The channel is closed after the terminal event.
type ChannelReporter struct {
	ch     chan Progress
	closed bool
	mu     sync.Mutex
}

// NewChannelReporter creates a ChannelReporter with the given buffer size (at least 1).
func NewChannelReporter(buffer int) *ChannelReporter {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelReporter{ch: make(chan Progress, buffer)}
}

// C returns the progress channel.
func (r *ChannelReporter) C() <-chan Progress {
	return r.ch
}

// Report ...
func (r *ChannelReporter) Report(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	if p.Status == Uploading {
		select {
		case r.ch <- p:
		default:
		}
		return
	}

	for {
		select {
		case r.ch <- p:
			if p.Status.Terminal() {
				close(r.ch)
				r.closed = true
			}
			return
		default:
			select {
			case <-r.ch:
			default:
			}
		}
	}
}
