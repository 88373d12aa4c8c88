package memory

import "time"

type Source string

const (
	SourceScreen       Source = "screen"
	SourceConversation Source = "conversation"
)

// Record is one recallable observation: a screen snapshot's OCR text or a
// completed conversation exchange.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	Text      string    `json:"text"`
}
