package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"sibyl/app/service/memory"

	"github.com/tmc/langchaingo/tools"
)

// builtinTool adapts a closure to the langchaingo tool interface.
type builtinTool struct {
	name        string
	description string
	call        func(ctx context.Context, input string) (string, error)
}

func (t *builtinTool) Name() string {
	return t.name
}

func (t *builtinTool) Description() string {
	return t.description
}

func (t *builtinTool) Call(ctx context.Context, input string) (string, error) {
	return t.call(ctx, input)
}

var _ tools.Tool = (*builtinTool)(nil)

func decodeParams[T any](input string) (T, error) {
	var params T
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return params, fmt.Errorf("invalid parameters JSON: %w", err)
	}
	return params, nil
}

func (r *Registry) registerBuiltins() {
	r.Register(Definition{
		Name:        "get_current_time",
		Description: "Get the current date and time",
		Parameters: Schema{
			Type: "object",
			Properties: map[string]Property{
				"format": {
					Type:        "string",
					Description: `Time format: "12h", "24h", or "iso" (default: "12h")`,
				},
			},
			Required: []string{},
		},
	}, &builtinTool{
		name:        "get_current_time",
		description: "Get the current date and time",
		call: func(_ context.Context, input string) (string, error) {
			params, err := decodeParams[struct {
				Format string `json:"format"`
			}](input)
			if err != nil {
				return "", err
			}

			now := time.Now()
			switch params.Format {
			case "24h":
				return now.Format("2006-01-02 15:04:05"), nil
			case "iso":
				return now.Format(time.RFC3339), nil
			default:
				return now.Format("Monday, January 2, 2006 3:04:05 PM"), nil
			}
		},
	})

	r.Register(Definition{
		Name:        "search_memory",
		Description: "Search stored screen snapshots and past conversations by keywords",
		Parameters: Schema{
			Type: "object",
			Properties: map[string]Property{
				"query": {
					Type:        "string",
					Description: "Keywords to search for",
				},
				"limit": {
					Type:        "number",
					Description: "Maximum results to return (default: 5)",
				},
			},
			Required: []string{"query"},
		},
	}, &builtinTool{
		name:        "search_memory",
		description: "Search stored screen snapshots and past conversations by keywords",
		call: func(_ context.Context, input string) (string, error) {
			params, err := decodeParams[struct {
				Query string  `json:"query"`
				Limit float64 `json:"limit"`
			}](input)
			if err != nil {
				return "", err
			}

			limit := int(params.Limit)
			if limit <= 0 {
				limit = 5
			}

			records, err := r.memorySvc.Search(params.Query, limit)
			if err != nil {
				return "", err
			}

			out, _ := json.Marshal(records)
			return string(out), nil
		},
	})

	r.Register(Definition{
		Name:        "read_screen_text",
		Description: "Read all visible text on the screen via OCR",
		Parameters: Schema{
			Type:       "object",
			Properties: map[string]Property{},
			Required:   []string{},
		},
	}, &builtinTool{
		name:        "read_screen_text",
		description: "Read all visible text on the screen via OCR",
		call: func(ctx context.Context, _ string) (string, error) {
			if r.cfg.Tools.OCRCommand == "" {
				return "", fmt.Errorf("no OCR command configured")
			}

			out, err := exec.CommandContext(ctx, r.cfg.Tools.OCRCommand).Output()
			if err != nil {
				return "", fmt.Errorf("OCR command failed: %w", err)
			}

			text := strings.TrimSpace(string(out))

			// Snapshot the screen text so search_memory can recall it later.
			if err = r.memorySvc.Add(memory.SourceScreen, text); err != nil {
				return "", fmt.Errorf("failed to store snapshot: %w", err)
			}

			return text, nil
		},
	})

	r.Register(Definition{
		Name:        "click",
		Description: "Click the mouse at specific screen coordinates",
		Parameters: Schema{
			Type: "object",
			Properties: map[string]Property{
				"x": {Type: "number", Description: "X coordinate"},
				"y": {Type: "number", Description: "Y coordinate"},
			},
			Required: []string{"x", "y"},
		},
	}, &builtinTool{
		name:        "click",
		description: "Click the mouse at specific screen coordinates",
		call: func(ctx context.Context, input string) (string, error) {
			params, err := decodeParams[struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
			}](input)
			if err != nil {
				return "", err
			}

			return r.runInput(ctx,
				"mousemove", strconv.Itoa(int(params.X)), strconv.Itoa(int(params.Y)),
				"click", "1")
		},
	})

	r.Register(Definition{
		Name:        "type_text",
		Description: "Type text at the current cursor position",
		Parameters: Schema{
			Type: "object",
			Properties: map[string]Property{
				"text": {Type: "string", Description: "Text to type"},
			},
			Required: []string{"text"},
		},
	}, &builtinTool{
		name:        "type_text",
		description: "Type text at the current cursor position",
		call: func(ctx context.Context, input string) (string, error) {
			params, err := decodeParams[struct {
				Text string `json:"text"`
			}](input)
			if err != nil {
				return "", err
			}

			return r.runInput(ctx, "type", "--", params.Text)
		},
	})

	r.Register(Definition{
		Name:        "press_key",
		Description: "Press a keyboard key (e.g. Return, Escape, BackSpace)",
		Parameters: Schema{
			Type: "object",
			Properties: map[string]Property{
				"key": {Type: "string", Description: "Key name to press"},
			},
			Required: []string{"key"},
		},
	}, &builtinTool{
		name:        "press_key",
		description: "Press a keyboard key",
		call: func(ctx context.Context, input string) (string, error) {
			params, err := decodeParams[struct {
				Key string `json:"key"`
			}](input)
			if err != nil {
				return "", err
			}

			return r.runInput(ctx, "key", params.Key)
		},
	})

	r.Register(Definition{
		Name:        "press_tab",
		Description: "Press the Tab key to move to the next input field",
		Parameters: Schema{
			Type:       "object",
			Properties: map[string]Property{},
			Required:   []string{},
		},
	}, &builtinTool{
		name:        "press_tab",
		description: "Press the Tab key to move to the next input field",
		call: func(ctx context.Context, _ string) (string, error) {
			return r.runInput(ctx, "key", "Tab")
		},
	})

	r.Register(Definition{
		Name:        "scroll",
		Description: "Scroll the screen up or down",
		Parameters: Schema{
			Type: "object",
			Properties: map[string]Property{
				"direction": {
					Type:        "string",
					Description: "Direction to scroll",
					Enum:        []string{"up", "down"},
				},
				"amount": {Type: "number", Description: "Scroll clicks (default: 3)"},
			},
			Required: []string{"direction"},
		},
	}, &builtinTool{
		name:        "scroll",
		description: "Scroll the screen up or down",
		call: func(ctx context.Context, input string) (string, error) {
			params, err := decodeParams[struct {
				Direction string  `json:"direction"`
				Amount    float64 `json:"amount"`
			}](input)
			if err != nil {
				return "", err
			}

			button := "5"
			if params.Direction == "up" {
				button = "4"
			}

			amount := int(params.Amount)
			if amount <= 0 {
				amount = 3
			}

			return r.runInput(ctx, "click", "--repeat", strconv.Itoa(amount), button)
		},
	})
}

// runInput shells out to the configured input-injection command.
func (r *Registry) runInput(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.cfg.Tools.InputCommand, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("input command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return "ok", nil
}
