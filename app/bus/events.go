package bus

// SpeechTelemetry is a live observation from the microphone. Ticks carry no
// ordering dependency on the conversation turn.
type SpeechTelemetry struct {
	// Volume is normalized to 0..1
	Volume        float64
	AudioData     []byte
	FrequencyData []byte
	Active        bool
}

func (SpeechTelemetry) Kind() Kind { return KindSpeechTelemetry }

// SpeechRecognized carries a transcript from the speech input adapter.
type SpeechRecognized struct {
	Text  string
	Final bool
}

func (SpeechRecognized) Kind() Kind { return KindSpeechRecognized }

// ListeningEnded signals that a capture session finished, with or without a
// final transcript.
type ListeningEnded struct{}

func (ListeningEnded) Kind() Kind { return KindListeningEnded }

type InputError struct {
	Err error
}

func (InputError) Kind() Kind { return KindInputError }

type OutputError struct {
	Err error
}

func (OutputError) Kind() Kind { return KindOutputError }

// UserInterrupt is published when live speech is detected over the
// interruption threshold while a response is playing.
type UserInterrupt struct{}

func (UserInterrupt) Kind() Kind { return KindUserInterrupt }
