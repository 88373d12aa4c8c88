package whisper

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func pcmSine(hz float64, durMs int, amplitude float64) []byte {
	n := sampleRate * durMs / 1000
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(amplitude * math.MaxInt16 * math.Sin(2*math.Pi*hz*float64(i)/sampleRate))
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(v))
	}

	return out
}

func TestFrameVolumeSilence(t *testing.T) {
	if v := frameVolume(make([]byte, frameBytes)); v != 0 {
		t.Fatalf("silence scored %v", v)
	}
}

func TestFrameVolumeScalesWithAmplitude(t *testing.T) {
	quiet := frameVolume(pcmSine(440, 100, 0.01))
	loud := frameVolume(pcmSine(440, 100, 0.5))

	if quiet >= loud {
		t.Fatalf("quiet %v >= loud %v", quiet, loud)
	}
	if loud > 1 {
		t.Fatalf("volume %v exceeds the normalized range", loud)
	}
}

func TestFrameVolumeClampsAtOne(t *testing.T) {
	if v := frameVolume(pcmSine(440, 100, 1)); v != 1 {
		t.Fatalf("full-scale signal scored %v", v)
	}
}

func TestFrameSpectrumShape(t *testing.T) {
	bins := frameSpectrum(pcmSine(440, 100, 0.5))
	if len(bins) != frequencyBins {
		t.Fatalf("got %d bins, want %d", len(bins), frequencyBins)
	}

	nonZero := false
	for _, b := range bins {
		if b > 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Fatalf("live signal produced an empty spectrum")
	}
}

func TestWriteWAVHeader(t *testing.T) {
	pcm := pcmSine(440, 10, 0.2)

	var buf bytes.Buffer
	if err := writeWAV(&buf, pcm); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data := buf.Bytes()
	if len(data) != 44+len(pcm) {
		t.Fatalf("got %d bytes, want %d", len(data), 44+len(pcm))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("bad container magic: %q %q", data[0:4], data[8:12])
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != sampleRate {
		t.Fatalf("got sample rate %d", rate)
	}
	if size := binary.LittleEndian.Uint32(data[40:44]); int(size) != len(pcm) {
		t.Fatalf("got data size %d, want %d", size, len(pcm))
	}
}
