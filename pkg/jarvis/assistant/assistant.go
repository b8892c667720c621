// Package assistant assembles the Jarvis components from a Config: memory,
// the event bus, the concurrency bridge, the classifier and dispatcher, the
// reasoning engine, one handler per domain, the scheduler and the task
// coordinator. Transports (gateway, Discord, CLI) talk to an Assistant.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/bridge"
	"github.com/jholhewres/jarvis/pkg/jarvis/config"
	"github.com/jholhewres/jarvis/pkg/jarvis/dispatch"
	"github.com/jholhewres/jarvis/pkg/jarvis/events"
	"github.com/jholhewres/jarvis/pkg/jarvis/handlers/automation"
	"github.com/jholhewres/jarvis/pkg/jarvis/handlers/chat"
	"github.com/jholhewres/jarvis/pkg/jarvis/handlers/internet"
	"github.com/jholhewres/jarvis/pkg/jarvis/handlers/security"
	"github.com/jholhewres/jarvis/pkg/jarvis/handlers/system"
	"github.com/jholhewres/jarvis/pkg/jarvis/handlers/updater"
	voicehandler "github.com/jholhewres/jarvis/pkg/jarvis/handlers/voice"
	"github.com/jholhewres/jarvis/pkg/jarvis/intent"
	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
	"github.com/jholhewres/jarvis/pkg/jarvis/reasoning"
	"github.com/jholhewres/jarvis/pkg/jarvis/scheduler"
	"github.com/jholhewres/jarvis/pkg/jarvis/secrets"
	"github.com/jholhewres/jarvis/pkg/jarvis/tasks"
	"github.com/jholhewres/jarvis/pkg/jarvis/voice"
)

// Options carries what the config file cannot: build metadata and test
// seams. The zero value is valid.
type Options struct {
	// Version is reported by the updater handler and health checks.
	Version string
	// Secrets overrides the keyring/preference secret store.
	Secrets secrets.Store
	// Runner overrides process execution for the system handler.
	Runner system.Runner
	// Speaker overrides the TTS engine chosen from config.
	Speaker voice.Speaker
}

// Assistant owns every long-lived component.
type Assistant struct {
	configMu sync.RWMutex
	config   *config.Config

	version   string
	startedAt time.Time
	logger    *slog.Logger

	store      memory.Store
	secrets    secrets.Store
	bus        *events.Bus
	exec       *bridge.Executor
	web        *bridge.Web
	classifier *intent.Classifier
	engine     *reasoning.Engine
	scheduler  *scheduler.Scheduler
	delayer    *scheduler.Delayer
	tasks      *tasks.Coordinator
	settings   *voice.Settings
	speaker    voice.Speaker

	system   *system.Handler
	security *security.Handler
	updater  *updater.Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an assistant from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*Assistant, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	a := &Assistant{
		config:    cfg,
		version:   opts.Version,
		startedAt: time.Now(),
		logger:    logger.With("component", "assistant"),
		bus:       events.NewBus(),
	}

	store, err := openStore(cfg.Memory, logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.secrets = opts.Secrets
	if a.secrets == nil {
		a.secrets = secrets.Default(store)
	}

	rules, err := intent.MergeRules(intent.DefaultRules(), cfg.Intent.Keywords, cfg.Intent.Patterns)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("intent rules: %w", err)
	}
	a.classifier, err = intent.New(rules, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("intent rules: %w", err)
	}

	a.exec = bridge.New(bridge.Config{
		QueueSize:     cfg.Bridge.QueueSize,
		MaxConcurrent: cfg.Bridge.MaxConcurrent,
		SubmitWait:    time.Second,
	}, logger)
	a.web = bridge.NewWeb(a.exec, bridge.WebConfig{
		Timeout:   cfg.Bridge.Timeout,
		MaxBody:   cfg.Bridge.MaxBody,
		UserAgent: cfg.Bridge.UserAgent,
		Guard:     bridge.NewSSRFGuard(cfg.Bridge.SSRF, logger),
	}, logger)

	a.settings = voice.NewSettings(cfg.Voice.Rate, cfg.Voice.Volume, voice.Gender(cfg.Voice.Voice))
	a.speaker = opts.Speaker
	if a.speaker == nil && cfg.Voice.Enabled {
		a.speaker = voice.NewCommandSpeaker(ttsEngine(cfg.Voice.Engine), a.settings, logger)
	}

	dispatcher := dispatch.NewDispatcher(dispatch.DefaultTable(), dispatch.NewRegistry(), logger)
	a.engine = reasoning.New(reasoning.Config{
		HistorySize:  cfg.Reasoning.HistorySize,
		SpeakReplies: cfg.Reasoning.SpeakReplies,
	}, a.classifier, dispatcher, store, a.speaker, logger)

	notifier := scheduler.NewNotifier(store, a.speaker, a.bus, logger)
	a.delayer = scheduler.NewDelayer(notifier, cfg.Scheduler.JobTimeout, logger)

	storage, err := taskStorage(cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.scheduler = scheduler.New(scheduler.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		JobTimeout:   cfg.Scheduler.JobTimeout,
	}, storage, automation.TaskRunner(a.engine.Run), notifier, logger)

	a.registerHandlers(cfg, opts, logger)

	a.tasks = tasks.New(tasks.Deps{
		System:  a.system,
		Web:     a.web,
		Delayer: a.delayer,
		Run:     a.engine.Run,
		Speaker: a.speaker,
		Store:   store,
		Bus:     a.bus,
	}, logger)

	config.AuditSecrets(cfg, a.logger)
	return a, nil
}

// registerHandlers binds one handler per domain into the dispatcher.
func (a *Assistant) registerHandlers(cfg *config.Config, opts Options, logger *slog.Logger) {
	registry := a.engine.Dispatcher().Registry()

	// With speak_replies on the engine already vocalizes every reply,
	// including the one "say ..." returns.
	sayer := a.speaker
	if cfg.Reasoning.SpeakReplies {
		sayer = nil
	}
	registry.Register(intent.Voice, voicehandler.New(a.settings, sayer, logger))

	registry.Register(intent.Chat, chat.New(chat.Config{
		DedupeWindow: cfg.Chat.DedupeWindow,
		HistoryTurns: cfg.Chat.HistoryTurns,
	}, a.store, a.completer(cfg), logger))

	a.system = system.New(system.Config{
		AllowExec:   cfg.System.AllowExec,
		AllowedApps: cfg.System.AllowedApps,
		WorkDir:     cfg.System.WorkDir,
	}, opts.Runner, logger)
	registry.Register(intent.System, a.system)

	registry.Register(intent.Internet, internet.New(internet.Config{
		SearchURL:  cfg.Internet.SearchURL,
		WeatherURL: cfg.Internet.WeatherURL,
		NewsURL:    cfg.Internet.NewsURL,
	}, a.web, logger))

	registry.Register(intent.Automation,
		automation.New(a.scheduler, a.delayer, a.system, a.engine.Run, logger))

	a.security = security.New(security.Config{
		PINMinLength: cfg.Security.PINMinLength,
	}, a.secrets, a.store, a.system, logger)
	registry.Register(intent.Security, a.security)
	a.engine.SetPrivacy(a.security)
	a.engine.SetRedactor(a.security)

	a.updater = updater.New(updater.Config{
		ReleaseURL:     cfg.Updater.ReleaseURL,
		CurrentVersion: a.version,
	}, a.web, a.classifier, a.engine.Capabilities, logger)
	registry.Register(intent.Updater, a.updater)
}

// completer returns the LLM backend for chat, or nil for canned replies.
func (a *Assistant) completer(cfg *config.Config) chat.Completer {
	if cfg.Chat.Provider != "openai" {
		return nil
	}
	c, err := chat.NewOpenAICompleter(chat.OpenAIConfig{
		APIKey:       config.ResolveAPIKey(cfg, a.secrets),
		BaseURL:      cfg.Chat.BaseURL,
		Model:        cfg.Chat.Model,
		SystemPrompt: cfg.Chat.SystemPrompt,
		MaxTokens:    cfg.Chat.MaxTokens,
		Timeout:      cfg.Chat.Timeout,
	})
	if err != nil {
		a.logger.Warn("openai chat disabled, using canned replies", "error", err)
		return nil
	}
	return c
}

// Start launches the bridge worker, the scheduler loop and the session
// pruner. It returns once they are running.
func (a *Assistant) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.exec.Start(ctx)

	cfg := a.Config()
	if cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}

	if ttl := cfg.Reasoning.SessionTTL; ttl > 0 {
		a.wg.Add(1)
		go a.sessionWatchdog(ctx, ttl)
	}

	a.logger.Info("assistant started",
		"name", cfg.Name,
		"version", a.version,
		"memory", cfg.Memory.Driver,
		"chat", cfg.Chat.Provider,
		"scheduler", cfg.Scheduler.Enabled,
	)
	return nil
}

// Stop shuts components down in reverse order of their dependencies and
// closes the store. Each stage gets up to timeout.
func (a *Assistant) Stop(timeout time.Duration) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	var errs []error
	if !a.scheduler.Stop(timeout) {
		errs = append(errs, errors.New("scheduler did not stop in time"))
	}
	if !a.delayer.Stop(timeout) {
		errs = append(errs, errors.New("delayer did not stop in time"))
	}
	if !a.exec.Stop(timeout) {
		errs = append(errs, errors.New("bridge did not stop in time"))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	a.logger.Info("assistant stopped")
	return errors.Join(errs...)
}

func (a *Assistant) sessionWatchdog(ctx context.Context, ttl time.Duration) {
	defer a.wg.Done()
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.engine.Prune(ttl)
		}
	}
}

// Process routes command through the session named sessionID ("" is the
// default session).
func (a *Assistant) Process(ctx context.Context, sessionID, command string) string {
	return a.engine.Session(sessionID).Process(ctx, command)
}

// ApplyConfigUpdate applies the parts of newCfg that can change without a
// restart: intent keywords and patterns, the session TTL, and the voice
// rate and gender. The current *config.Config is never mutated; readers
// holding it keep a consistent view.
func (a *Assistant) ApplyConfigUpdate(newCfg *config.Config) {
	a.configMu.Lock()
	defer a.configMu.Unlock()

	rules, err := intent.MergeRules(intent.DefaultRules(), newCfg.Intent.Keywords, newCfg.Intent.Patterns)
	if err == nil {
		err = a.classifier.Reload(rules)
	}
	if err != nil {
		a.logger.Error("config hot-reload rejected", "error", err)
		return
	}
	next := *a.config
	next.Intent = newCfg.Intent
	next.Reasoning.SessionTTL = newCfg.Reasoning.SessionTTL

	s := a.settings.Snapshot()
	if newCfg.Voice.Rate > 0 && newCfg.Voice.Rate != s.Rate {
		a.settings.AdjustRate(newCfg.Voice.Rate - s.Rate)
	}
	if newCfg.Voice.Voice != "" {
		a.settings.SetGender(voice.Gender(newCfg.Voice.Voice))
	}
	next.Voice.Rate = newCfg.Voice.Rate
	next.Voice.Voice = newCfg.Voice.Voice
	a.config = &next

	a.logger.Info("config hot-reload applied", "updated", []string{"intent", "session_ttl", "voice"})
}

// NewListener builds the wake-word loop over r (typically stdin). onReply
// receives each processed command and reply.
func (a *Assistant) NewListener(r io.Reader, onReply func(command, reply string)) *voice.Listener {
	cfg := a.Config()
	process := func(ctx context.Context, command string) string {
		return a.Process(ctx, "voice", command)
	}
	return voice.NewListener(voice.NewLineTranscriber(r), process, a.speaker, a.settings,
		voice.ListenerConfig{WakeWord: cfg.Voice.WakeWord, OnReply: onReply}, a.logger)
}

// Health is a point-in-time status report.
type Health struct {
	Status           string        `json:"status" yaml:"status"`
	Name             string        `json:"name" yaml:"name"`
	Version          string        `json:"version" yaml:"version"`
	Uptime           time.Duration `json:"uptime" yaml:"uptime"`
	GoVersion        string        `json:"go_version" yaml:"go_version"`
	Sessions         int           `json:"sessions" yaml:"sessions"`
	ScheduledTasks   int           `json:"scheduled_tasks" yaml:"scheduled_tasks"`
	PendingReminders int           `json:"pending_reminders" yaml:"pending_reminders"`
	Domains          []string      `json:"domains" yaml:"domains"`
	Memory           string        `json:"memory" yaml:"memory"`
}

// Health reports component status. Memory is probed with a read.
func (a *Assistant) Health(ctx context.Context) Health {
	cfg := a.Config()
	h := Health{
		Status:           "ok",
		Name:             cfg.Name,
		Version:          a.version,
		Uptime:           time.Since(a.startedAt).Round(time.Second),
		GoVersion:        runtime.Version(),
		Sessions:         a.engine.SessionCount(),
		ScheduledTasks:   len(a.scheduler.List()),
		PendingReminders: a.delayer.Pending(),
		Memory:           "ok",
	}
	for _, d := range a.engine.Dispatcher().Registry().Domains() {
		h.Domains = append(h.Domains, d.String())
	}
	if _, err := a.store.RecentInteractions(ctx, 1); err != nil {
		h.Status = "degraded"
		h.Memory = err.Error()
	}
	return h
}

// Config returns the current configuration. Treat it as read-only.
func (a *Assistant) Config() *config.Config {
	a.configMu.RLock()
	defer a.configMu.RUnlock()
	return a.config
}

// Version returns the build version.
func (a *Assistant) Version() string { return a.version }

// Engine returns the reasoning engine.
func (a *Assistant) Engine() *reasoning.Engine { return a.engine }

// Store returns the memory store.
func (a *Assistant) Store() memory.Store { return a.store }

// Bus returns the event bus.
func (a *Assistant) Bus() *events.Bus { return a.bus }

// Scheduler returns the recurring scheduler.
func (a *Assistant) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Tasks returns the task coordinator.
func (a *Assistant) Tasks() *tasks.Coordinator { return a.tasks }

// Security returns the security handler, for PIN checks.
func (a *Assistant) Security() *security.Handler { return a.security }

// Updater returns the updater handler, for release checks.
func (a *Assistant) Updater() *updater.Handler { return a.updater }

// Secrets returns the secret store in use.
func (a *Assistant) Secrets() secrets.Store { return a.secrets }

// ---------- Internal ----------

func openStore(cfg config.MemoryConfig, logger *slog.Logger) (memory.Store, error) {
	if cfg.Driver == "memory" {
		return memory.NewMemStore(cfg.MaxInteractions), nil
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	s, err := memory.NewSQLiteStore(cfg.Path, cfg.MaxInteractions, logger)
	if err != nil {
		return nil, fmt.Errorf("opening memory: %w", err)
	}
	return s, nil
}

func taskStorage(cfg *config.Config, store memory.Store) (scheduler.TaskStorage, error) {
	switch cfg.Scheduler.Storage {
	case "sqlite":
		s, ok := store.(*memory.SQLiteStore)
		if !ok {
			return nil, errors.New("scheduler.storage sqlite requires memory.driver sqlite")
		}
		return scheduler.NewSQLiteTaskStorage(s.DB())
	case "file":
		return scheduler.NewFileTaskStorage(cfg.Scheduler.Path)
	}
	return nil, nil
}

// ttsEngine picks a platform default when none is configured.
func ttsEngine(engine string) string {
	if engine != "" {
		return engine
	}
	if runtime.GOOS == "darwin" {
		return "say"
	}
	return "espeak"
}
