package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yologdev/yoclaw/internal/adminapi"
	"github.com/yologdev/yoclaw/internal/budget"
	"github.com/yologdev/yoclaw/internal/channels"
	"github.com/yologdev/yoclaw/internal/conductor"
	"github.com/yologdev/yoclaw/internal/config"
	"github.com/yologdev/yoclaw/internal/injection"
	"github.com/yologdev/yoclaw/internal/policy"
	"github.com/yologdev/yoclaw/internal/provider"
	"github.com/yologdev/yoclaw/internal/scheduler"
	"github.com/yologdev/yoclaw/internal/session"
	"github.com/yologdev/yoclaw/internal/store"
	"github.com/yologdev/yoclaw/internal/tools"
)

func runConductor(cmd *cobra.Command, args []string) error {
	printHeader("conductor")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Persistence.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	bt := budget.New(cfg.Agent.Budget.MaxTokensPerDay, cfg.Agent.Budget.MaxTurnsPerSession)
	pol := policy.New(toolPolicyMap(cfg.Security.Tools), cfg.Security.DenyPatterns)
	prov := provider.Resolve(cfg.Agent.Provider, "", cfg.Agent.APIKey, cfg.Agent.Model)
	det := buildDetector(cfg, prov)
	registry := buildToolRegistry(pol, st, prov, cfg.Agent.EmbeddingModel)
	adapterRegistry := buildChannelAdapters(cfg)

	cond := conductor.New(st, pol, bt, det, defaultCoalesceWindowMs(cfg), registry, prov, adapterRegistry, cfg.Channels.WorkerRoutes(), conductor.Config{
		StreamDebounceMs: cfg.Channels.Telegram.StreamDebounceMS,
		Model:            cfg.Agent.Model,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startAdapters(ctx, adapterRegistry, cfg, cond)

	if err := seedCronJobs(ctx, st, cfg.Scheduler.CronJobs); err != nil {
		slog.Warn("seed cron jobs failed", "error", err)
	}

	sched := scheduler.New(toSchedulerConfig(cfg.Scheduler), st, cond, adapterRegistry, memoryEmbedder(prov, cfg.Agent.EmbeddingModel))
	defer sched.Close()
	go func() {
		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			slog.Error("scheduler stopped", "error", err)
		}
	}()

	if cfg.Web.Enabled {
		admin := adminapi.New(adminapi.Config{Bind: cfg.Web.Bind, Port: cfg.Web.Port}, st, bt, cond)
		go func() {
			if err := admin.Run(ctx); err != nil {
				slog.Error("admin api stopped", "error", err)
			}
		}()
	}

	slog.Info("conductor running")
	return cond.Run(ctx)
}

func toolPolicyMap(cfg map[string]config.ToolPolicy) map[string]policy.ToolPolicy {
	out := make(map[string]policy.ToolPolicy, len(cfg))
	for name, tp := range cfg {
		out[name] = policy.ToolPolicy{
			Enabled:      tp.Enabled,
			AllowedPaths: tp.AllowedPaths,
			AllowedHosts: tp.AllowedHosts,
		}
	}
	return out
}

func buildDetector(cfg *config.Config, prov provider.LLMProvider) *injection.Detector {
	var judgeProvider provider.LLMProvider
	if cfg.Security.Injection.LLMJudge {
		judgeProvider = prov
	}
	return injection.New(
		injection.Action(cfg.Security.Injection.Action),
		cfg.Security.Injection.ExtraPatterns,
		cfg.Security.Injection.HeuristicThreshold,
		cfg.Security.Injection.LLMJudgeThreshold,
		judgeProvider,
		cfg.Agent.Model,
	)
}

// buildToolRegistry registers the agent's default tool set, each wrapped
// for policy enforcement and audit logging. The Conductor's worker and
// scheduler sub-loops (internal/conductor/prompt.go) reuse this same
// registry; no worker is registered here as a tool under its own name.
// memory_search and memory_store are the agent's only path into the
// persistence layer's FTS/vector/decay search and the cortex-written
// fact/reflection rows; without them nothing the agent does is ever
// retrievable again.
func buildToolRegistry(pol *policy.Policy, st *store.Store, prov provider.LLMProvider, embeddingModel string) *tools.Registry {
	registry := tools.NewRegistry()
	for _, t := range []tools.Tool{
		&tools.ReadFileTool{},
		&tools.WriteFileTool{},
		&tools.ListDirTool{},
		tools.NewHTTPTool(30 * time.Second),
		tools.NewShellTool(30*time.Second, ""),
		tools.NewMemorySearchTool(st, memoryEmbedder(prov, embeddingModel)),
		tools.NewMemoryStoreTool(st, memoryEmbedder(prov, embeddingModel)),
	} {
		registry.Register(tools.Wrap(t, pol, st, ""))
	}
	return registry
}

// memoryEmbedder adapts the configured LLM provider's optional embedding
// capability to store.Embedder's single-string-in shape that Store.Search
// needs for its semantic extension. Providers that don't implement
// provider.Embedder leave Search to degrade to FTS-only ranking.
func memoryEmbedder(prov provider.LLMProvider, model string) store.Embedder {
	embedder, ok := prov.(provider.Embedder)
	if !ok {
		return nil
	}
	return providerEmbedder{embedder: embedder, model: model}
}

type providerEmbedder struct {
	embedder provider.Embedder
	model    string
}

func (e providerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.embedder.Embed(ctx, &provider.EmbeddingRequest{Input: text, Model: e.model})
	if err != nil {
		return nil, err
	}
	return resp.Vector, nil
}

func defaultCoalesceWindowMs(cfg *config.Config) int64 {
	if cfg.Channels.Telegram.DebounceMS > 0 {
		return int64(cfg.Channels.Telegram.DebounceMS)
	}
	return 1500
}

func toSchedulerConfig(cfg config.SchedulerConfig) scheduler.Config {
	return scheduler.Config{
		Enabled:      cfg.Enabled,
		TickInterval: cfg.TickInterval(),
		LockPath:     cfg.LockPath,
		Model:        cfg.Cortex.Model,
		Cortex: scheduler.CortexConfig{
			Enabled:       cfg.Cortex.Enabled,
			IntervalHours: cfg.Cortex.IntervalHours,
			Model:         cfg.Cortex.Model,
		},
		KafkaBrokers: cfg.KafkaBrokers,
		KafkaTopic:   cfg.KafkaTopic,
	}
}

func seedCronJobs(ctx context.Context, st *store.Store, jobs []config.CronJobConfig) error {
	for _, j := range jobs {
		err := st.UpsertCronJob(ctx, store.CronJob{
			Name:          j.Name,
			Schedule:      j.Schedule,
			Prompt:        j.Prompt,
			TargetChannel: j.TargetChannel,
			SessionMode:   store.SessionMode(j.SessionMode),
			Enabled:       j.Enabled,
		})
		if err != nil {
			return fmt.Errorf("seed cron job %q: %w", j.Name, err)
		}
	}
	return nil
}

// buildChannelAdapters constructs and registers every enabled transport
// adapter. Adapters are started separately in startAdapters once the
// Conductor exists, since their inbound handler closes over it.
func buildChannelAdapters(cfg *config.Config) *channels.Registry {
	registry := channels.NewRegistry()

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		adapter, err := channels.NewTelegramAdapter(cfg.Channels.Telegram.Token)
		if err != nil {
			slog.Error("telegram adapter init failed", "error", err)
		} else {
			registry.Register(adapter)
		}
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		adapter, err := channels.NewDiscordAdapter(cfg.Channels.Discord.Token)
		if err != nil {
			slog.Error("discord adapter init failed", "error", err)
		} else {
			registry.Register(adapter)
		}
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		registry.Register(channels.NewSlackAdapter(cfg.Channels.Slack.BotToken, cfg.Channels.Slack.AppToken))
	}

	return registry
}

// startAdapters starts every registered adapter's inbound listener,
// filtering each message through its channel's sender allowlist before
// handing it to the Conductor (spec.md §4.2: "sender allowlist (handled
// upstream)").
func startAdapters(ctx context.Context, registry *channels.Registry, cfg *config.Config, cond *conductor.Conductor) {
	commons := map[string]config.ChannelCommon{
		string(session.TransportTelegram): cfg.Channels.Telegram.ChannelCommon,
		string(session.TransportDiscord):  cfg.Channels.Discord.ChannelCommon,
		string(session.TransportSlack):    cfg.Channels.Slack.ChannelCommon,
	}

	for name, common := range commons {
		adapter, ok := registry.Get(name)
		if !ok {
			continue
		}
		allowFrom := common.AllowFrom
		go func(adapter channels.Channel, allowFrom []string) {
			handler := func(msg channels.IncomingMessage) {
				if !senderAllowed(allowFrom, msg.SenderID) {
					slog.Warn("dropped message from disallowed sender", "sender", msg.SenderID)
					return
				}
				cond.OnIncoming(msg)
			}
			if err := adapter.Start(ctx, handler); err != nil && ctx.Err() == nil {
				slog.Error("adapter stopped", "adapter", adapter.Name(), "error", err)
			}
		}(adapter, allowFrom)
	}
}

func senderAllowed(allowFrom []string, senderID string) bool {
	if len(allowFrom) == 0 {
		return true
	}
	for _, id := range allowFrom {
		if id == senderID {
			return true
		}
	}
	return false
}
