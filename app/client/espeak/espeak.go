package espeak

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"

	"sibyl/app/config"

	"github.com/samber/do"
)

// Client speaks text by spawning the configured synthesis command once per
// utterance. Stop kills whatever is currently playing.
type Client struct {
	cfg *config.Config

	mu         sync.Mutex
	current    *exec.Cmd
	onComplete func()
	onError    func(error)
}

func NewClient(di *do.Injector) (*Client, error) {
	return &Client{
		cfg: do.MustInvoke[*config.Config](di),
	}, nil
}

func (c *Client) OnComplete(fn func()) {
	c.mu.Lock()
	c.onComplete = fn
	c.mu.Unlock()
}

func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// WarmupEngine runs the synthesizer once on silence so the first real
// utterance does not pay the cold-start cost.
func (c *Client) WarmupEngine() {
	go func() {
		args := append(append([]string(nil), c.cfg.Speech.Output.Args...), "")
		if err := exec.Command(c.cfg.Speech.Output.Command, args...).Run(); err != nil {
			slog.Debug("Speech engine warmup failed", "error", err)
		}
	}()
}

// Speak blocks until the utterance finishes or is stopped. A new Speak
// kills the previous one.
func (c *Client) Speak(ctx context.Context, text string) error {
	args := append(append([]string(nil), c.cfg.Speech.Output.Args...), text)
	cmd := exec.CommandContext(ctx, c.cfg.Speech.Output.Command, args...)

	c.mu.Lock()
	if c.current != nil && c.current.Process != nil {
		_ = c.current.Process.Kill()
	}
	c.current = cmd
	c.mu.Unlock()

	err := cmd.Run()

	c.mu.Lock()
	stale := c.current != cmd
	if !stale {
		c.current = nil
	}
	onComplete := c.onComplete
	onError := c.onError
	c.mu.Unlock()

	// a killed utterance is not an error worth reporting
	if stale {
		return nil
	}

	if err != nil && ctx.Err() == nil {
		if onError != nil {
			onError(err)
		}

		return err
	}

	if onComplete != nil {
		onComplete()
	}

	return nil
}

func (c *Client) Stop() {
	c.mu.Lock()
	if c.current != nil && c.current.Process != nil {
		_ = c.current.Process.Kill()
	}
	c.current = nil
	c.mu.Unlock()
}

func (c *Client) Close() error {
	c.Stop()

	return nil
}
