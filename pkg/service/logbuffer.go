package service

import (
	"io"
	"os"
	"sync"
)

const defaultLogBufMax = 8192

// LogBuffer captures a service's output into a fixed window of memory,
// readable over the control socket. The buffer is an io.Writer whose
// window never grows past its limit: once full, further output is
// counted and dropped, so a chatty child can neither block nor consume
// unbounded memory.
//
// For pipe capture the launcher obtains the child's write end with
// OpenPipe and calls BeginCapture once the child holds it; a single
// goroutine then drains the pipe into the same bounded Write path.
type LogBuffer struct {
	mu        sync.Mutex
	window    []byte
	limit     int
	truncated int // bytes dropped since the last ContentsAndClear

	src   *os.File // read side of the capture pipe
	child *os.File // supervisor's copy of the child's write side
	done  chan struct{}
}

// NewLogBuffer creates a LogBuffer bounded at limit bytes.
func NewLogBuffer(limit int) *LogBuffer {
	if limit <= 0 {
		limit = defaultLogBufMax
	}
	return &LogBuffer{limit: limit}
}

// Write implements io.Writer over the bounded window. It always
// reports full consumption; output beyond the window is dropped and
// tallied rather than back-pressured onto the producer.
func (lb *LogBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	lb.write(p)
	lb.mu.Unlock()
	return len(p), nil
}

// write appends within the window. Callers hold lb.mu.
func (lb *LogBuffer) write(p []byte) {
	room := lb.limit - len(lb.window)
	if room <= 0 {
		lb.truncated += len(p)
		return
	}
	if len(p) > room {
		lb.truncated += len(p) - room
		p = p[:room]
	}
	lb.window = append(lb.window, p...)
}

// OpenPipe allocates the capture pipe and returns the end the child
// writes to. BeginCapture must follow once the child has been
// launched; Close discards the pipe if the launch failed.
func (lb *LogBuffer) OpenPipe() (*os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	lb.src = r
	lb.child = w
	return w, nil
}

// BeginCapture starts draining the pipe. The supervisor's copy of the
// child end is closed first: the pipe cannot deliver EOF while any
// write fd remains open on this side.
func (lb *LogBuffer) BeginCapture() {
	if lb.child != nil {
		lb.child.Close()
		lb.child = nil
	}
	if lb.src == nil {
		return
	}
	src := lb.src
	lb.src = nil
	lb.done = make(chan struct{})
	go lb.drain(src, lb.done)
}

// drain copies the pipe into the bounded window until the child closes
// its end. Write never fails, so the copy ends only at EOF.
func (lb *LogBuffer) drain(src *os.File, done chan struct{}) {
	defer close(done)
	defer src.Close()
	io.Copy(lb, src)
}

// Contents returns a copy of the captured output.
func (lb *LogBuffer) Contents() []byte {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if len(lb.window) == 0 {
		return nil
	}
	out := make([]byte, len(lb.window))
	copy(out, lb.window)
	return out
}

// ContentsAndClear returns the captured output and resets the window
// and the truncation tally.
func (lb *LogBuffer) ContentsAndClear() []byte {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	out := lb.window
	lb.window = nil
	lb.truncated = 0
	return out
}

// Truncated returns how many bytes were dropped since the last
// ContentsAndClear.
func (lb *LogBuffer) Truncated() int {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.truncated
}

// NoteRestart marks a service restart in the captured output, so a
// reader can tell the runs apart. An empty window needs no marker.
func (lb *LogBuffer) NoteRestart() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if len(lb.window) == 0 {
		return
	}
	msg := "(cinder: note: service restarted)\n"
	if lb.window[len(lb.window)-1] != '\n' {
		msg = "\n" + msg
	}
	// All or nothing; a clipped marker would only confuse the reader.
	if lb.limit-len(lb.window) >= len(msg) {
		lb.write([]byte(msg))
	}
}

// Close releases the pipe. If capture is running it waits for the
// drain goroutine to see EOF; if the launch never happened both pipe
// ends are simply discarded.
func (lb *LogBuffer) Close() {
	if lb.child != nil {
		lb.child.Close()
		lb.child = nil
	}
	if lb.src != nil {
		lb.src.Close()
		lb.src = nil
	}
	if lb.done != nil {
		<-lb.done
		lb.done = nil
	}
}
