package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"

	"sibyl/app/bus"
	"sibyl/app/config"

	"github.com/samber/do"
)

const (
	sampleRate = 16000
	// 100ms of s16le mono audio per telemetry tick
	frameBytes = sampleRate / 10 * 2
	// frequency telemetry resolution
	frequencyBins = 32
	// scales raw RMS into the 0..1 volume range
	volumeGain = 8.0
)

// Client captures microphone audio through ffmpeg and transcribes the
// buffered session with the whisper.cpp CLI once capture stops.
type Client struct {
	cfg *config.Config

	mu           sync.Mutex
	onData       func(bus.SpeechTelemetry)
	onRecognized func(bus.SpeechRecognized)
	onEnded      func()
	onError      func(error)
	capture      *captureProcess
	cancel       context.CancelFunc
	pcm          []byte
	active       bool
}

func NewClient(di *do.Injector) (*Client, error) {
	return &Client{
		cfg: do.MustInvoke[*config.Config](di),
	}, nil
}

func (c *Client) OnData(fn func(bus.SpeechTelemetry)) {
	c.mu.Lock()
	c.onData = fn
	c.mu.Unlock()
}

func (c *Client) OnSpeechRecognized(fn func(bus.SpeechRecognized)) {
	c.mu.Lock()
	c.onRecognized = fn
	c.mu.Unlock()
}

func (c *Client) OnListeningEnded(fn func()) {
	c.mu.Lock()
	c.onEnded = fn
	c.mu.Unlock()
}

func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Start opens the capture process and begins streaming telemetry. Calling
// it while already capturing is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)

	capture, err := newCaptureProcess(ctx, c.cfg.Speech.Input.Backend, c.cfg.Speech.Input.Device)
	if err != nil {
		cancel()
		c.mu.Unlock()
		return err
	}

	if err = capture.Start(); err != nil {
		cancel()
		c.mu.Unlock()
		return err
	}

	c.capture = capture
	c.cancel = cancel
	c.pcm = nil
	c.active = true
	c.mu.Unlock()

	slog.Info("Speech capture started",
		"backend", c.cfg.Speech.Input.Backend,
		"device", c.cfg.Speech.Input.Device)

	go c.pump(capture)

	return nil
}

// Stop closes capture; transcription of the buffered audio follows from the
// pump goroutine winding down.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	capture := c.capture
	cancel := c.cancel
	c.mu.Unlock()

	if capture != nil {
		capture.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Client) pump(capture *captureProcess) {
	stream := capture.AudioStream()
	frame := make([]byte, frameBytes)

	for {
		n, err := io.ReadFull(stream, frame)
		if n > 0 {
			c.onFrame(frame[:n])
		}
		if err != nil {
			break
		}
	}

	_ = capture.Wait()
	c.finalize()
}

func (c *Client) onFrame(frame []byte) {
	c.mu.Lock()
	c.pcm = append(c.pcm, frame...)
	onData := c.onData
	c.mu.Unlock()

	if onData == nil {
		return
	}

	onData(bus.SpeechTelemetry{
		Volume:        frameVolume(frame),
		AudioData:     append([]byte(nil), frame...),
		FrequencyData: frameSpectrum(frame),
		Active:        true,
	})
}

// finalize transcribes the buffered session and reports the result. Runs
// once per capture session.
func (c *Client) finalize() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.capture = nil
	c.cancel = nil
	pcm := c.pcm
	c.pcm = nil
	onRecognized := c.onRecognized
	onEnded := c.onEnded
	onError := c.onError
	c.mu.Unlock()

	text, err := c.transcribe(pcm)
	if err != nil {
		slog.Error("Transcription failed", "error", err)
		if onError != nil {
			onError(err)
		}
	} else if strings.TrimSpace(text) != "" && onRecognized != nil {
		onRecognized(bus.SpeechRecognized{
			Text:  strings.TrimSpace(text),
			Final: true,
		})
	}

	if onEnded != nil {
		onEnded()
	}
}

func (c *Client) transcribe(pcm []byte) (string, error) {
	if len(pcm) < frameBytes {
		return "", nil
	}

	wavFile, err := os.CreateTemp("", "capture-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create temp wav: %w", err)
	}
	defer os.Remove(wavFile.Name())

	if err = writeWAV(wavFile, pcm); err != nil {
		wavFile.Close()
		return "", err
	}
	wavFile.Close()

	cmd := exec.Command(c.cfg.Speech.Input.WhisperPath,
		"-m", c.cfg.Speech.Input.WhisperModel,
		"-f", wavFile.Name(),
		"-nt")

	var out bytes.Buffer
	cmd.Stdout = &out

	if err = cmd.Run(); err != nil {
		return "", fmt.Errorf("whisper failed: %w", err)
	}

	return out.String(), nil
}

func (c *Client) Close() error {
	c.Stop()

	return nil
}

func frameVolume(frame []byte) float64 {
	samples := len(frame) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < samples; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2])))
		sum += v * v
	}

	rms := math.Sqrt(sum / float64(samples))

	return math.Min(1, rms/math.MaxInt16*volumeGain)
}

// frameSpectrum is a coarse amplitude profile, not a real FFT: enough for
// waveform visualization.
func frameSpectrum(frame []byte) []byte {
	samples := len(frame) / 2
	if samples == 0 {
		return nil
	}

	bins := make([]byte, frequencyBins)
	perBin := samples / frequencyBins
	if perBin == 0 {
		perBin = 1
	}

	for bin := range bins {
		var peak float64
		for i := bin * perBin; i < (bin+1)*perBin && i < samples; i++ {
			v := math.Abs(float64(int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2]))))
			if v > peak {
				peak = v
			}
		}
		bins[bin] = byte(math.Min(255, peak/math.MaxInt16*255))
	}

	return bins
}

func writeWAV(w io.Writer, pcm []byte) error {
	var header bytes.Buffer

	dataLen := uint32(len(pcm))
	header.WriteString("RIFF")
	binary.Write(&header, binary.LittleEndian, 36+dataLen)
	header.WriteString("WAVE")
	header.WriteString("fmt ")
	binary.Write(&header, binary.LittleEndian, uint32(16))
	binary.Write(&header, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&header, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&header, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&header, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(&header, binary.LittleEndian, uint16(2))            // block align
	binary.Write(&header, binary.LittleEndian, uint16(16))           // bits per sample
	header.WriteString("data")
	binary.Write(&header, binary.LittleEndian, dataLen)

	if _, err := w.Write(header.Bytes()); err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("failed to write wav data: %w", err)
	}

	return nil
}
