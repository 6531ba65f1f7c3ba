package worker

import "errors"

// ErrSourceClosed is returned by ChanSource.Next once Close has been
// called and the queued backlog is drained.
var ErrSourceClosed = errors.New("worker: command source closed")

// ChanSource is a channel-backed CommandSource: dispatch.Dispatcher
// and the per-client wire readers push Command values onto In, and
// Loop.Run polls Next non-blockingly.
type ChanSource struct {
	In     chan Command
	closed chan struct{}
}

func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{
		In:     make(chan Command, buffer),
		closed: make(chan struct{}),
	}
}

// Close signals that no more commands will be pushed; Next keeps
// draining whatever is already buffered in In before reporting
// ErrSourceClosed.
func (s *ChanSource) Close() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

func (s *ChanSource) Next() (Command, bool, error) {
	select {
	case cmd := <-s.In:
		return cmd, true, nil
	default:
	}
	select {
	case <-s.closed:
		return Command{}, false, ErrSourceClosed
	default:
		return Command{}, false, nil
	}
}
