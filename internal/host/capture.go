package host

import (
	"io"
	"strings"
	"sync"
)

// Stream names an output stream.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Chunk is a run of text written to one stream.
type Chunk struct {
	Stream Stream `json:"stream"`
	Text   string `json:"text"`
}

// Display is a value recorded with display(), or new content for an
// earlier display when Update is set.
type Display struct {
	ID     string `json:"id"`
	MIME   string `json:"mime"`
	Data   string `json:"data"`
	Update bool   `json:"update,omitempty"`
}

// Capture collects interleaved stdout and stderr text and displays produced
// during one execution. Writes may come from any goroutine. Text is also
// copied to the optional tee writers as it arrives.
type Capture struct {
	mu       sync.Mutex
	chunks   []Chunk
	displays []Display
	stdout   io.Writer
	stderr   io.Writer
}

// NewCapture returns a capture that also forwards to stdout and stderr when
// they are non-nil.
func NewCapture(stdout, stderr io.Writer) *Capture {
	return &Capture{stdout: stdout, stderr: stderr}
}

// Write appends text to stream, merging it into the previous chunk when that
// chunk belongs to the same stream.
func (c *Capture) Write(stream Stream, text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.chunks); n > 0 && c.chunks[n-1].Stream == stream {
		c.chunks[n-1].Text += text
	} else {
		c.chunks = append(c.chunks, Chunk{Stream: stream, Text: text})
	}
	tee := c.stdout
	if stream == Stderr {
		tee = c.stderr
	}
	if tee != nil {
		_, _ = io.WriteString(tee, text)
	}
}

// Writer returns an io.Writer appending to stream.
func (c *Capture) Writer(stream Stream) io.Writer {
	return streamWriter{c: c, stream: stream}
}

type streamWriter struct {
	c      *Capture
	stream Stream
}

func (w streamWriter) Write(p []byte) (int, error) {
	w.c.Write(w.stream, string(p))
	return len(p), nil
}

// AddDisplay records a displayable value or a display update.
func (c *Capture) AddDisplay(d Display) {
	c.mu.Lock()
	c.displays = append(c.displays, d)
	c.mu.Unlock()
}

// Chunks returns the captured chunks in write order.
func (c *Capture) Chunks() []Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Chunk(nil), c.chunks...)
}

// Displays returns the recorded displays.
func (c *Capture) Displays() []Display {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Display(nil), c.displays...)
}

// Text returns everything written to stream.
func (c *Capture) Text(stream Stream) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	for _, ch := range c.chunks {
		if ch.Stream == stream {
			b.WriteString(ch.Text)
		}
	}
	return b.String()
}
