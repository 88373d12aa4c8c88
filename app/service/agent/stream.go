package agent

import "strings"

// lineBuffer accumulates streamed content and decides when to flush it to
// the UI. Content past the threshold is flushed as-is regardless of line
// boundaries; otherwise complete lines flush immediately and the trailing
// partial line waits for more input. No character is ever dropped.
type lineBuffer struct {
	threshold int
	buf       string
}

func newLineBuffer(threshold int) *lineBuffer {
	return &lineBuffer{threshold: threshold}
}

// Write appends an increment and returns the chunks ready for the UI.
func (b *lineBuffer) Write(content string) []string {
	b.buf += content

	if len(b.buf) > b.threshold {
		out := []string{b.buf}
		b.buf = ""
		return out
	}

	lines := strings.Split(b.buf, "\n")
	if len(lines) < 2 {
		return nil
	}

	var out []string
	for _, line := range lines[:len(lines)-1] {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	b.buf = lines[len(lines)-1]

	return out
}

// Flush returns the remaining partial content, if any.
func (b *lineBuffer) Flush() (string, bool) {
	if strings.TrimSpace(b.buf) == "" {
		b.buf = ""
		return "", false
	}

	out := b.buf
	b.buf = ""

	return out, true
}
