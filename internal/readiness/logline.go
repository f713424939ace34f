package readiness

import (
	"bytes"
	"context"
	"regexp"
	"sync"
	"sync/atomic"
)

// maxPartialLine bounds the buffered tail of output that has no newline yet.
const maxPartialLine = 64 * 1024

// LineMatcher is an io.Writer that scans one output stream line by line and
// sets the shared matched flag when a line matches. Streams must not share a
// LineMatcher: partial lines from different writers would be joined.
type LineMatcher struct {
	re      *regexp.Regexp
	matched *atomic.Bool

	mu  sync.Mutex
	buf []byte
}

func (m *LineMatcher) Write(b []byte) (int, error) {
	if m.matched.Load() {
		return len(b), nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = append(m.buf, b...)
	for {
		i := bytes.IndexByte(m.buf, '\n')
		if i < 0 {
			break
		}
		line := m.buf[:i]
		m.buf = m.buf[i+1:]
		if m.re.Match(bytes.TrimRight(line, "\r")) {
			m.matched.Store(true)
			m.buf = nil
			return len(b), nil
		}
	}
	if len(m.buf) > maxPartialLine {
		m.buf = m.buf[len(m.buf)-4096:]
	}
	return len(b), nil
}

// Matched reports whether a matching line has been seen on any stream.
func (m *LineMatcher) Matched() bool { return m.matched.Load() }

// LogProbe is ready once a stdout or stderr line matches the pattern.
type LogProbe struct {
	re      *regexp.Regexp
	matched atomic.Bool
}

func NewLogProbe(re *regexp.Regexp) *LogProbe {
	return &LogProbe{re: re}
}

// Tap returns a new matcher for one output stream.
func (p *LogProbe) Tap() *LineMatcher { return &LineMatcher{re: p.re, matched: &p.matched} }

func (p *LogProbe) Ready(context.Context) (bool, error) { return p.matched.Load(), nil }

func (p *LogProbe) Describe() string { return "log:" + p.re.String() }
