// Package config provides configuration types and loading for the conductor.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups mirror the spec's configuration surface: agent, channels,
// security, scheduler, workers, web, persistence.
type Config struct {
	Agent       AgentConfig       `json:"agent"`
	Channels    ChannelsConfig    `json:"channels"`
	Security    SecurityConfig    `json:"security"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Workers     []WorkerConfig    `json:"workers,omitempty"`
	Web         WebConfig         `json:"web"`
	Persistence PersistenceConfig `json:"persistence"`
}

// ---------------------------------------------------------------------------
// Agent – provider, persona, budget
// ---------------------------------------------------------------------------

// AgentConfig groups LLM provider and agent-loop settings.
type AgentConfig struct {
	Provider       string       `json:"provider" envconfig:"AGENT_PROVIDER"`
	Model          string       `json:"model" envconfig:"AGENT_MODEL"`
	APIKey         string       `json:"apiKey" envconfig:"AGENT_API_KEY"`
	Persona        string       `json:"persona,omitempty" envconfig:"AGENT_PERSONA"`
	SkillsDirs     []string     `json:"skillsDirs,omitempty"`
	MaxTokens      int          `json:"maxTokens" envconfig:"AGENT_MAX_TOKENS"`
	Thinking       bool         `json:"thinking" envconfig:"AGENT_THINKING"`
	EmbeddingModel string       `json:"embeddingModel,omitempty" envconfig:"AGENT_EMBEDDING_MODEL"`
	Budget         BudgetConfig `json:"budget"`
}

// BudgetConfig holds the daily token ceiling and per-session turn ceiling.
// Zero means unlimited, matching spec.md §4.3.
type BudgetConfig struct {
	MaxTokensPerDay    int64 `json:"maxTokensPerDay" envconfig:"AGENT_BUDGET_TOKENS_PER_DAY"`
	MaxTurnsPerSession int   `json:"maxTurnsPerSession" envconfig:"AGENT_BUDGET_TURNS_PER_SESSION"`
}

// ---------------------------------------------------------------------------
// Channels – messaging transports
// ---------------------------------------------------------------------------

// ChannelsConfig contains per-transport configuration.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

// ChannelCommon holds the knobs every transport shares per spec.md §6.
type ChannelCommon struct {
	Enabled          bool     `json:"enabled"`
	AllowFrom        []string `json:"allowFrom,omitempty"`
	DebounceMS       int      `json:"debounceMs"`
	StreamDebounceMS int      `json:"streamDebounceMs"`
	MaxTokensPerDay  int64    `json:"tokensPerDay,omitempty"`
	WorkerRoute      string   `json:"workerRoute,omitempty"`
}

// TelegramConfig configures the Telegram transport.
type TelegramConfig struct {
	ChannelCommon
	Token string `json:"token" envconfig:"TELEGRAM_TOKEN"`
}

// DiscordConfig configures the Discord transport.
type DiscordConfig struct {
	ChannelCommon
	Token string `json:"token" envconfig:"DISCORD_TOKEN"`
}

// SlackConfig configures the Slack transport.
type SlackConfig struct {
	ChannelCommon
	BotToken string `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
	AppToken string `json:"appToken" envconfig:"SLACK_APP_TOKEN"`
	APIBase  string `json:"apiBase,omitempty" envconfig:"SLACK_API_BASE"`
}

// ---------------------------------------------------------------------------
// Security – tool policy and injection detection
// ---------------------------------------------------------------------------

// SecurityConfig groups tool policy and injection-detector settings.
type SecurityConfig struct {
	DenyPatterns []string              `json:"denyPatterns,omitempty"`
	Tools        map[string]ToolPolicy `json:"tools,omitempty"`
	Injection    InjectionConfig       `json:"injection"`
}

// ToolPolicy is the per-tool entry in security.tools.
type ToolPolicy struct {
	Enabled      bool     `json:"enabled"`
	AllowedPaths []string `json:"allowedPaths,omitempty"`
	AllowedHosts []string `json:"allowedHosts,omitempty"`
}

// InjectionConfig configures the injection detector.
type InjectionConfig struct {
	Enabled            bool     `json:"enabled"`
	Action             string   `json:"action"` // warn | block | log
	ExtraPatterns      []string `json:"extraPatterns,omitempty"`
	HeuristicThreshold float64  `json:"heuristicThreshold"`
	LLMJudgeThreshold  float64  `json:"llmJudgeThreshold"`
	LLMJudge           bool     `json:"llmJudge"`
}

// ---------------------------------------------------------------------------
// Scheduler – cortex + cron
// ---------------------------------------------------------------------------

// SchedulerConfig groups scheduler tick, cortex, and cron settings.
type SchedulerConfig struct {
	Enabled      bool         `json:"enabled" envconfig:"SCHEDULER_ENABLED"`
	TickSecs     int          `json:"tickSecs" envconfig:"SCHEDULER_TICK_SECS"`
	LockPath     string       `json:"lockPath,omitempty" envconfig:"SCHEDULER_LOCK_PATH"`
	Cortex       CortexConfig `json:"cortex"`
	KafkaBrokers []string     `json:"kafkaBrokers,omitempty" envconfig:"SCHEDULER_KAFKA_BROKERS"`
	KafkaTopic   string       `json:"kafkaTopic,omitempty" envconfig:"SCHEDULER_KAFKA_TOPIC"`
	// CronJobs is upserted into the cron_jobs table on every startup,
	// overwriting the stored definition (enabled flag included) of each job
	// listed here; jobs present only in the table are left as they are.
	CronJobs []CronJobConfig `json:"cronJobs,omitempty"`
}

// CortexConfig configures periodic memory maintenance.
type CortexConfig struct {
	Enabled       bool   `json:"enabled"`
	IntervalHours int    `json:"intervalHours"`
	Model         string `json:"model,omitempty"`
}

// CronJobConfig is a cron job definition from the config file.
type CronJobConfig struct {
	Name          string `json:"name"`
	Schedule      string `json:"schedule"`
	Prompt        string `json:"prompt"`
	TargetChannel string `json:"targetChannel"`
	SessionMode   string `json:"sessionMode"` // isolated | persisted
	Enabled       bool   `json:"enabled"`
}

// ---------------------------------------------------------------------------
// Workers – named sub-agents
// ---------------------------------------------------------------------------

// WorkerConfig defines a named sub-agent the main agent can invoke or that a
// channel can route directly to.
type WorkerConfig struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt"`
	Model        string `json:"model,omitempty"`
}

// WorkerRoutes collects each channel's workerRoute setting into a map keyed
// by transport prefix ("tg", "dc", "slack"), skipping channels that don't
// route directly to a worker. Built once at startup and handed to the
// Conductor; this is structural config (spec.md §6), not hot-reloadable.
func (c ChannelsConfig) WorkerRoutes() map[string]string {
	routes := make(map[string]string)
	if c.Telegram.WorkerRoute != "" {
		routes["tg"] = c.Telegram.WorkerRoute
	}
	if c.Discord.WorkerRoute != "" {
		routes["dc"] = c.Discord.WorkerRoute
	}
	if c.Slack.WorkerRoute != "" {
		routes["slack"] = c.Slack.WorkerRoute
	}
	return routes
}

// ---------------------------------------------------------------------------
// Web – admin dashboard
// ---------------------------------------------------------------------------

// WebConfig configures the read-only admin surface.
type WebConfig struct {
	Enabled bool   `json:"enabled" envconfig:"WEB_ENABLED"`
	Port    int    `json:"port" envconfig:"WEB_PORT"`
	Bind    string `json:"bind" envconfig:"WEB_BIND"`
}

// ---------------------------------------------------------------------------
// Persistence – embedded store
// ---------------------------------------------------------------------------

// PersistenceConfig configures the embedded SQL store.
type PersistenceConfig struct {
	DBPath string `json:"dbPath" envconfig:"DB_PATH"`
}

// DefaultConfig returns sensible defaults, matching the teacher's
// DefaultConfig helpers (scheduler.DefaultConfig, channels defaults).
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			MaxTokens: 4096,
			Budget:    BudgetConfig{},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{ChannelCommon: ChannelCommon{DebounceMS: 1500, StreamDebounceMS: 300}},
			Discord:  DiscordConfig{ChannelCommon: ChannelCommon{DebounceMS: 1500, StreamDebounceMS: 300}},
			Slack:    SlackConfig{ChannelCommon: ChannelCommon{DebounceMS: 1500, StreamDebounceMS: 300}},
		},
		Security: SecurityConfig{
			Injection: InjectionConfig{
				Enabled:            true,
				Action:             "warn",
				HeuristicThreshold: 0.6,
				LLMJudgeThreshold:  0.3,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			TickSecs: 60,
			Cortex: CortexConfig{
				Enabled:       false,
				IntervalHours: 24,
			},
		},
		Web: WebConfig{
			Enabled: false,
			Port:    8787,
			Bind:    "127.0.0.1",
		},
		Persistence: PersistenceConfig{
			DBPath: "~/.conductor/conductor.db",
		},
	}
}

// TickInterval returns the scheduler tick interval as a time.Duration.
func (c SchedulerConfig) TickInterval() time.Duration {
	if c.TickSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TickSecs) * time.Second
}
