package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"taskflow/internal/domain"
)

// Config models taskflow.yml.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Server struct {
		Addr           string `yaml:"addr"`
		BasePath       string `yaml:"base_path"`
		JWTSecret      string `yaml:"jwt_secret"`
		AllowDevHeader bool   `yaml:"allow_dev_header"`
	} `yaml:"server"`
	Workflow struct {
		DefaultStages []StageConfig `yaml:"default_stages"`
	} `yaml:"workflow"`
	Inbox struct {
		DueSoonWindow Duration `yaml:"due_soon_window"`
	} `yaml:"inbox"`
	Recurrence struct {
		MaxCatchUp int `yaml:"max_catch_up"`
	} `yaml:"recurrence"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Relay         struct {
		Interval Duration `yaml:"interval"`
		Batch    int      `yaml:"batch"`
	} `yaml:"relay"`
}

type StageConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Color    string `yaml:"color"`
	WIPLimit *int   `yaml:"wip_limit"`
	WIPMode  string `yaml:"wip_mode"`
	Done     bool   `yaml:"done"`
}

type NotificationsConfig struct {
	Timeout   Duration `yaml:"timeout"`
	QueueSize int      `yaml:"queue_size"`
	Email     struct {
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
		From     string `yaml:"from"`
	} `yaml:"email"`
	Chat struct {
		WebhookURL string `yaml:"webhook_url"`
		Channel    string `yaml:"channel"`
	} `yaml:"chat"`
}

// Duration accepts Go duration strings such as "24h" or "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Stages converts the configured default workflow into domain stages.
func (c *Config) Stages() []domain.Stage {
	out := make([]domain.Stage, 0, len(c.Workflow.DefaultStages))
	for _, s := range c.Workflow.DefaultStages {
		mode := domain.StageMode(s.WIPMode)
		if mode == "" {
			mode = domain.ModeWarning
		}
		out = append(out, domain.Stage{
			ID:       s.ID,
			Name:     s.Name,
			Color:    s.Color,
			WIPLimit: s.WIPLimit,
			WIPMode:  mode,
			IsDone:   s.Done,
		})
	}
	return out
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Workflow.DefaultStages) == 0 {
		return fmt.Errorf("config.workflow.default_stages is required")
	}
	seen := map[string]bool{}
	done := 0
	for i, s := range c.Workflow.DefaultStages {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("config.workflow.default_stages[%d].id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("config.workflow.default_stages has duplicate id %s", s.ID)
		}
		seen[s.ID] = true
		if s.WIPMode != "" && !domain.StageMode(s.WIPMode).Valid() {
			return fmt.Errorf("stage %s has invalid wip_mode %s", s.ID, s.WIPMode)
		}
		if s.WIPLimit != nil && *s.WIPLimit < 0 {
			return fmt.Errorf("stage %s has negative wip_limit", s.ID)
		}
		if s.Done {
			done++
		}
	}
	if done != 1 {
		return fmt.Errorf("config.workflow.default_stages must have exactly one done stage, found %d", done)
	}
	if c.Inbox.DueSoonWindow.Duration <= 0 {
		return fmt.Errorf("config.inbox.due_soon_window must be positive")
	}
	if c.Recurrence.MaxCatchUp <= 0 {
		return fmt.Errorf("config.recurrence.max_catch_up must be positive")
	}
	if c.Notifications.Timeout.Duration <= 0 {
		return fmt.Errorf("config.notifications.timeout must be positive")
	}
	if c.Notifications.QueueSize <= 0 {
		return fmt.Errorf("config.notifications.queue_size must be positive")
	}
	if c.Relay.Batch <= 0 {
		return fmt.Errorf("config.relay.batch must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskflow.yml")
}

// Load reads the workspace config, falling back to defaults when the file is absent.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes layered over the defaults, then validates.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `database:
  path: .taskflow/taskflow.db

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  allow_dev_header: false

workflow:
  default_stages:
    - id: todo
      name: To Do
      color: gray
    - id: doing
      name: In Progress
      color: blue
      wip_mode: warning
    - id: review
      name: Review
      color: purple
    - id: done
      name: Done
      color: green
      done: true

inbox:
  due_soon_window: 24h

recurrence:
  max_catch_up: 31

notifications:
  timeout: 10s
  queue_size: 256
  email:
    from: "Taskflow <no-reply@taskflow.local>"
  chat:
    channel: "#tasks"

relay:
  interval: 2s
  batch: 100
`
