package whisper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
)

// captureProcess wraps an ffmpeg microphone capture emitting s16le mono
// 16 kHz PCM on stdout.
type captureProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func newCaptureProcess(ctx context.Context, backend, device string) (*captureProcess, error) {
	args := []string{
		"-loglevel", "warning",
		"-f", backend,
		"-i", device,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	return &captureProcess{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

func (c *captureProcess) Start() error {
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg capture: %w", err)
	}

	go c.logStderr()

	return nil
}

func (c *captureProcess) AudioStream() io.Reader {
	return bufio.NewReader(c.stdout)
}

func (c *captureProcess) Stop() {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

func (c *captureProcess) Wait() error {
	return c.cmd.Wait()
}

func (c *captureProcess) logStderr() {
	scanner := bufio.NewScanner(c.stderr)
	for scanner.Scan() {
		slog.Debug("ffmpeg", "stderr", scanner.Text())
	}
}
