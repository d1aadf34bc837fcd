package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration for guildkeeper.
type Config struct {
	Discord     DiscordConfig     `json:"discord"`
	Voice       VoiceConfig       `json:"voice"`
	Audit       AuditConfig       `json:"audit"`
	MemberCount MemberCountConfig `json:"memberCount"`
	Slack       SlackConfig       `json:"slack"`
	Kafka       KafkaConfig       `json:"kafka"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Paths       PathsConfig       `json:"paths"`
	Log         LogConfig         `json:"log"`
}

// ---------------------------------------------------------------------------
// Discord – gateway session
// ---------------------------------------------------------------------------

// DiscordConfig contains the bot credentials and request settings.
type DiscordConfig struct {
	Token          string        `json:"token" envconfig:"TOKEN"`
	RequestTimeout time.Duration `json:"requestTimeout" envconfig:"REQUEST_TIMEOUT"`
	// RegisterCommands registers /rename-channel per guild on ready.
	RegisterCommands bool `json:"registerCommands" envconfig:"REGISTER_COMMANDS"`
}

// ---------------------------------------------------------------------------
// Voice – temporary channel lifecycle
// ---------------------------------------------------------------------------

// VoiceConfig identifies the trigger channel and the category new channels go into.
type VoiceConfig struct {
	TriggerChannelID string `json:"triggerChannelId" envconfig:"TRIGGER_CHANNEL_ID"`
	CategoryID       string `json:"categoryId" envconfig:"CATEGORY_ID"`
	// NameFormat receives the owner's display name.
	NameFormat string `json:"nameFormat" envconfig:"NAME_FORMAT"`
}

// ---------------------------------------------------------------------------
// Audit – notification delivery
// ---------------------------------------------------------------------------

// AuditConfig selects the audit channel and the optional event groups.
type AuditConfig struct {
	ChannelID     string `json:"channelId" envconfig:"CHANNEL_ID"`
	VoiceEvents   bool   `json:"voiceEvents" envconfig:"VOICE_EVENTS"`
	MessageEvents bool   `json:"messageEvents" envconfig:"MESSAGE_EVENTS"`
	HistoryLimit  int    `json:"historyLimit" envconfig:"HISTORY_LIMIT"`
}

// MemberCountConfig drives the "Members: N" channel. Empty ChannelID disables it.
type MemberCountConfig struct {
	ChannelID string `json:"channelId" envconfig:"CHANNEL_ID"`
	Schedule  string `json:"schedule" envconfig:"SCHEDULE"`
	Format    string `json:"format" envconfig:"FORMAT"`
}

// Enabled reports whether a member-count channel is configured.
func (c MemberCountConfig) Enabled() bool {
	return strings.TrimSpace(c.ChannelID) != ""
}

// SlackConfig mirrors audit notifications to a Slack incoming webhook.
type SlackConfig struct {
	Enabled    bool   `json:"enabled" envconfig:"ENABLED"`
	WebhookURL string `json:"webhookUrl" envconfig:"WEBHOOK_URL"`
	Channel    string `json:"channel" envconfig:"CHANNEL"`
	Username   string `json:"username" envconfig:"SENDER_NAME"`
}

// KafkaConfig publishes audit notifications to a Kafka topic.
type KafkaConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers string `json:"brokers" envconfig:"BROKERS"`
	Topic   string `json:"topic" envconfig:"TOPIC"`
}

// BrokerList splits the comma-separated broker string.
func (c KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Scheduler – cron-based job scheduling
// ---------------------------------------------------------------------------

// SchedulerConfig contains settings for the cron scheduler.
type SchedulerConfig struct {
	Enabled        bool          `json:"enabled" envconfig:"ENABLED"`
	TickInterval   time.Duration `json:"tickInterval" envconfig:"TICK_INTERVAL"`
	MaxConcGuild   int           `json:"maxConcGuild" envconfig:"MAX_CONC_GUILD"`
	MaxConcDefault int           `json:"maxConcDefault" envconfig:"MAX_CONC_DEFAULT"`
}

// PathsConfig groups filesystem locations.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
}

// TimelinePath is the sqlite audit database.
func (p PathsConfig) TimelinePath() string {
	return filepath.Join(p.DataDir, "timeline.db")
}

// LockPath is the single-instance lock file.
func (p PathsConfig) LockPath() string {
	return filepath.Join(p.DataDir, "guildkeeper.lock")
}

// SchedulerLockPath guards scheduler ticks.
func (p PathsConfig) SchedulerLockPath() string {
	return filepath.Join(p.DataDir, "scheduler.lock")
}

// SecretsPath is the encrypted local secret store.
func (p PathsConfig) SecretsPath() string {
	return filepath.Join(p.DataDir, "secrets.tomb")
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`
	Format string `json:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			RequestTimeout:   15 * time.Second,
			RegisterCommands: true,
		},
		Voice: VoiceConfig{
			NameFormat: "%s's channel",
		},
		Audit: AuditConfig{
			VoiceEvents:   true,
			MessageEvents: true,
			HistoryLimit:  20,
		},
		MemberCount: MemberCountConfig{
			Schedule: "*/30 * * * *",
			Format:   "Members: %d",
		},
		Slack: SlackConfig{
			Username: "guildkeeper",
		},
		Kafka: KafkaConfig{
			Topic: "guildkeeper.audit",
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			TickInterval:   60 * time.Second,
			MaxConcGuild:   1,
			MaxConcDefault: 2,
		},
		Paths: PathsConfig{
			DataDir: "~/" + ConfigDir,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// IsSnowflake reports whether id looks like a platform id: non-empty, digits only.
func IsSnowflake(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Validate reports every problem that would keep the agent from starting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Discord.Token) == "" {
		errs = append(errs, errors.New("discord token is required (DISCORD_TOKEN)"))
	}
	ids := []struct{ name, value string }{
		{"voice trigger channel (AUTO_VOICE_TRIGGER_CHANNEL_ID)", c.Voice.TriggerChannelID},
		{"voice category (AUTO_VOICE_CATEGORY_ID)", c.Voice.CategoryID},
		{"audit channel (LOG_CHANNEL_ID)", c.Audit.ChannelID},
	}
	for _, id := range ids {
		if !IsSnowflake(id.value) {
			errs = append(errs, fmt.Errorf("%s must be a numeric id, got %q", id.name, id.value))
		}
	}
	if c.MemberCount.Enabled() && !IsSnowflake(c.MemberCount.ChannelID) {
		errs = append(errs, fmt.Errorf("member count channel (TARGET_CHANNEL_ID) must be a numeric id, got %q", c.MemberCount.ChannelID))
	}
	if c.MemberCount.Enabled() && !strings.Contains(c.MemberCount.Format, "%d") {
		errs = append(errs, fmt.Errorf("member count format %q must contain %%d", c.MemberCount.Format))
	}
	if c.Slack.Enabled && strings.TrimSpace(c.Slack.WebhookURL) == "" {
		errs = append(errs, errors.New("slack is enabled but no webhook url is set"))
	}
	if c.Kafka.Enabled && (len(c.Kafka.BrokerList()) == 0 || strings.TrimSpace(c.Kafka.Topic) == "") {
		errs = append(errs, errors.New("kafka is enabled but brokers or topic are missing"))
	}
	return errors.Join(errs...)
}
