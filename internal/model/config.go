// Package model defines the data structures for scriptorium's configuration,
// session state, and the session context snapshot.
package model

type Config struct {
	Project       ProjectConfig       `yaml:"project"`
	Session       SessionConfig       `yaml:"session"`
	Generation    GenerationConfig    `yaml:"generation"`
	Store         StoreConfig         `yaml:"store"`
	Inbox         InboxConfig         `yaml:"inbox"`
	Control       ControlConfig       `yaml:"control"`
	Logging       LoggingConfig       `yaml:"logging"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Root        string `yaml:"root"`
	Created     string `yaml:"created"`
}

type SessionConfig struct {
	// MaxReviewIterations bounds the quality loop per task (draft review plus
	// revision reviews). After the last failing review the task is
	// force-approved.
	MaxReviewIterations int `yaml:"max_review_iterations"`
	// LengthTolerance is the multiplier over a task's target word count above
	// which a single condensation call is issued. Reference value 1.2.
	LengthTolerance float64 `yaml:"length_tolerance"`
	// DefaultTargetWords applies to tasks that declare no target length.
	DefaultTargetWords int `yaml:"default_target_words"`
	// ExcerptChars is the per-task excerpt size fed to the final
	// cross-task consistency review.
	ExcerptChars int `yaml:"excerpt_chars"`
	// OpeningAudit toggles the data-quality audit before the first task.
	OpeningAudit bool `yaml:"opening_audit"`
}

type GenerationConfig struct {
	Providers     []ProviderConfig `yaml:"providers"`
	TimeoutSec    int              `yaml:"timeout_sec"`
	DedupInflight bool             `yaml:"dedup_inflight"`
}

type ProviderConfig struct {
	Name      string `yaml:"name"`
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type StoreConfig struct {
	Dir string `yaml:"dir"`
}

type InboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type ControlConfig struct {
	SocketName string `yaml:"socket_name"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type NotificationsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Defaults fills zero-valued fields that have a reference value. Loaded
// config files are expected to be complete; this keeps hand-built configs in
// tests and partial files workable.
func (c *Config) Defaults() {
	if c.Session.MaxReviewIterations == 0 {
		c.Session.MaxReviewIterations = 3
	}
	if c.Session.LengthTolerance == 0 {
		c.Session.LengthTolerance = 1.2
	}
	if c.Session.DefaultTargetWords == 0 {
		c.Session.DefaultTargetWords = 800
	}
	if c.Session.ExcerptChars == 0 {
		c.Session.ExcerptChars = 2000
	}
	if c.Generation.TimeoutSec == 0 {
		c.Generation.TimeoutSec = 120
	}
	if c.Control.SocketName == "" {
		c.Control.SocketName = "session.sock"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
