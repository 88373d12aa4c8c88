package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Duration unmarshals from "2.5s" style YAML strings.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return oops.Errorf("invalid duration %q: %w", node.Value, err)
	}

	*d = Duration(parsed)

	return nil
}

type Config struct {
	Log          Log          `yaml:"log"`
	API          API          `yaml:"api"`
	Model        Model        `yaml:"model"`
	Speech       Speech       `yaml:"speech"`
	Conversation Conversation `yaml:"conversation"`
	Agent        Agent        `yaml:"agent"`
	Display      Display      `yaml:"display"`
	Memory       Memory       `yaml:"memory"`
	Tools        Tools        `yaml:"tools"`
}

type Log struct {
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

type API struct {
	// Listen address of the HTTP control surface
	Address string `yaml:"address" example:":8086"`
}

type Model struct {
	// OpenAI-compatible base url; a local Ollama endpoint works
	BaseURL string `yaml:"base_url" example:"http://127.0.0.1:11434/v1" validate:"required"`
	// API token, may be a placeholder for local backends
	Token string `yaml:"token" example:"ollama"`
	// Model name
	Name string `yaml:"name" example:"gemma3n:e4b" validate:"required"`
}

type Speech struct {
	Input  SpeechInput  `yaml:"input"`
	Output SpeechOutput `yaml:"output"`
}

type SpeechInput struct {
	// Capture device passed to ffmpeg (-i)
	Device string `yaml:"device" example:"default"`
	// Capture backend passed to ffmpeg (-f)
	Backend string `yaml:"backend" example:"pulse"`
	// Path to the whisper.cpp CLI binary
	WhisperPath string `yaml:"whisper_path" example:"whisper-cli"`
	// Path to the whisper model file
	WhisperModel string `yaml:"whisper_model" example:"models/ggml-base.en.bin"`
}

type SpeechOutput struct {
	// TTS command, receives the utterance as its last argument
	Command string `yaml:"command" example:"espeak-ng"`
	// Extra arguments for the TTS command
	Args []string `yaml:"args"`
}

type Conversation struct {
	// Normalized mic volume above which user speech interrupts a response
	InterruptionThreshold float64 `yaml:"interruption_threshold" example:"0.3"`
	// How long the last caption stays visible before the turn completes
	CompletionDelay Duration `yaml:"completion_delay" example:"2.5s"`
	// Most-recent messages kept in the model history
	HistoryLimit int `yaml:"history_limit" example:"20"`
}

type Agent struct {
	// Upper bound on generate -> execute tools -> regenerate cycles per turn
	MaxIterations int `yaml:"max_iterations" example:"10"`
	// Characters buffered before a chunk is force-flushed to the UI
	FlushThreshold int `yaml:"flush_threshold" example:"50"`
}

type Display struct {
	// Dwell time for captions shorter than ShortCutoff
	FastDuration Duration `yaml:"fast_duration" example:"1.5s"`
	// Dwell time for regular captions
	BaseDuration Duration `yaml:"base_duration" example:"2.5s"`
	// Added to BaseDuration for captions longer than LongCutoff
	LongBonus Duration `yaml:"long_bonus" example:"1s"`
	// Length below which the fast duration applies
	ShortCutoff int `yaml:"short_cutoff" example:"20"`
	// Length above which the bonus applies
	LongCutoff int `yaml:"long_cutoff" example:"100"`
}

type Memory struct {
	// Path to the JSONL recall store
	Path string `yaml:"path" example:"data/memory.jsonl"`
	// Most-recent records kept
	Limit int `yaml:"limit" example:"1000"`
}

type Tools struct {
	// OCR command printing visible screen text to stdout
	OCRCommand string `yaml:"ocr_command" example:"screen-ocr"`
	// Input injection command (xdotool compatible argument style)
	InputCommand string `yaml:"input_command" example:"xdotool"`
	// External MCP tool servers spawned over stdio
	MCP []MCPServer `yaml:"mcp" validate:"dive"`
}

type MCPServer struct {
	Name    string   `yaml:"name" validate:"required"`
	Command string   `yaml:"command" validate:"required"`
	Args    []string `yaml:"args"`
}

func Load(path string) (*Config, error) {
	var result Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	result.applyDefaults()

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}

func (c *Config) applyDefaults() {
	if c.API.Address == "" {
		c.API.Address = ":8086"
	}
	if c.Model.Token == "" {
		c.Model.Token = "local"
	}
	if c.Speech.Input.Device == "" {
		c.Speech.Input.Device = "default"
	}
	if c.Speech.Input.Backend == "" {
		c.Speech.Input.Backend = "pulse"
	}
	if c.Speech.Input.WhisperPath == "" {
		c.Speech.Input.WhisperPath = "whisper-cli"
	}
	if c.Speech.Input.WhisperModel == "" {
		c.Speech.Input.WhisperModel = "models/ggml-base.en.bin"
	}
	if c.Speech.Output.Command == "" {
		c.Speech.Output.Command = "espeak-ng"
	}
	if c.Conversation.InterruptionThreshold == 0 {
		c.Conversation.InterruptionThreshold = 0.3
	}
	if c.Conversation.CompletionDelay == 0 {
		c.Conversation.CompletionDelay = Duration(2500 * time.Millisecond)
	}
	if c.Conversation.HistoryLimit == 0 {
		c.Conversation.HistoryLimit = 20
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.FlushThreshold == 0 {
		c.Agent.FlushThreshold = 50
	}
	if c.Display.FastDuration == 0 {
		c.Display.FastDuration = Duration(1500 * time.Millisecond)
	}
	if c.Display.BaseDuration == 0 {
		c.Display.BaseDuration = Duration(2500 * time.Millisecond)
	}
	if c.Display.LongBonus == 0 {
		c.Display.LongBonus = Duration(time.Second)
	}
	if c.Display.ShortCutoff == 0 {
		c.Display.ShortCutoff = 20
	}
	if c.Display.LongCutoff == 0 {
		c.Display.LongCutoff = 100
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "data/memory.jsonl"
	}
	if c.Memory.Limit == 0 {
		c.Memory.Limit = 1000
	}
	if c.Tools.InputCommand == "" {
		c.Tools.InputCommand = "xdotool"
	}
}
