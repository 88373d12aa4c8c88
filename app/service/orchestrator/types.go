package orchestrator

import (
	"context"

	"sibyl/app/bus"
)

// SpeechInput captures microphone audio. It streams telemetry continuously
// while active and, after Stop, produces at most one recognized-text
// callback followed by (or replaced with) a listening-ended callback.
type SpeechInput interface {
	Start(ctx context.Context) error
	Stop()
	OnData(func(bus.SpeechTelemetry))
	OnSpeechRecognized(func(bus.SpeechRecognized))
	OnListeningEnded(func())
	OnError(func(error))
	Close() error
}

// SpeechOutput speaks text. Speak blocks until playback finishes; Stop cuts
// playback from another goroutine.
type SpeechOutput interface {
	Speak(ctx context.Context, text string) error
	Stop()
	OnComplete(func())
	OnError(func(error))
	WarmupEngine()
	Close() error
}
