package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/selune-dev/selune/internal/config"
	"github.com/selune-dev/selune/internal/logger"
	"github.com/selune-dev/selune/pkg/controller"
	"github.com/selune-dev/selune/pkg/directory"
	"github.com/selune-dev/selune/pkg/llm"
	"github.com/selune-dev/selune/pkg/platform"
	"github.com/selune-dev/selune/pkg/platform/local"
	"github.com/selune-dev/selune/pkg/platform/rest"
	"github.com/selune-dev/selune/pkg/plugins/database"
	"github.com/selune-dev/selune/pkg/plugins/email"
	"github.com/selune-dev/selune/pkg/plugins/kb"
	"github.com/selune-dev/selune/pkg/plugins/websearch"
	"github.com/selune-dev/selune/pkg/session"
	"github.com/selune-dev/selune/pkg/tools"
)

// app holds the wired runtime shared by the chat, serve, and sessions
// commands.
type app struct {
	cfg        *config.Config
	logger     *logger.Logger
	store      *session.Store
	registry   *tools.Registry
	client     platform.Client
	controller *controller.Controller
	directory  *directory.Directory
	cleanup    *session.Cleanup

	closers []func() error
}

// newApp loads configuration and wires every component up.
func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &app{cfg: cfg}

	a.logger, err = logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.closers = append(a.closers, a.logger.Close)

	a.store, err = session.NewStore(cfg.Sessions.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	if err := a.buildRegistry(); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.buildPlatform(); err != nil {
		a.Close()
		return nil, err
	}

	localNames, hostedNames := a.splitEnabledTools()
	a.controller = controller.New(a.store, a.client, a.registry, controller.Settings{
		AgentName:           "selune",
		Model:               cfg.Platform.Model,
		Instructions:        cfg.Platform.Instructions,
		Temperature:         cfg.Platform.Temperature,
		EnabledTools:        localNames,
		HostedTools:         hostedNames,
		MaxPromptTokens:     cfg.Platform.MaxPromptTokens,
		MaxCompletionTokens: cfg.Platform.MaxCompletionTokens,
	})

	a.directory = directory.New(a.store, a.buildSummarizer())
	if err := a.directory.Watch(); err != nil {
		zl := a.logger.GetZerolog()
		zl.Warn().Err(err).Msg("Session watcher unavailable")
	} else {
		a.closers = append(a.closers, a.directory.Close)
	}

	a.cleanup = session.NewCleanup(
		a.store,
		cfg.Sessions.CleanupSchedule,
		time.Duration(cfg.Sessions.CleanupAgeDays)*24*time.Hour,
	)

	return a, nil
}

// buildRegistry registers every enabled tool backend. The database store,
// when enabled, doubles as the web search restriction source.
func (a *app) buildRegistry() error {
	a.registry = tools.NewRegistry()
	cfg := a.cfg

	var dbStore *database.Store
	if cfg.Tools.Database.Enabled {
		store, err := database.Open(cfg.Tools.Database.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open customer database: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := database.RegisterTools(a.registry, store, cfg.Tools.Database.CustomerID); err != nil {
			return err
		}
		dbStore = store
	}

	if cfg.Tools.Search.Enabled {
		var restrictions websearch.RestrictionSource
		if dbStore != nil {
			restrictions = dbStore
		}
		searcher := websearch.NewSearcher(cfg.Tools.Search.Endpoint, cfg.Tools.Search.APIKey, restrictions)
		if err := websearch.RegisterTools(a.registry, searcher); err != nil {
			return err
		}
	}

	if cfg.Tools.KB.Enabled {
		embedder := kb.NewOpenAIEmbedder(cfg.Tools.KB.EmbeddingKey, cfg.Tools.KB.EmbeddingModel)
		knowledgeBase, err := kb.Open(cfg.Tools.KB.DBPath, embedder)
		if err != nil {
			return fmt.Errorf("failed to open knowledge base: %w", err)
		}
		a.closers = append(a.closers, knowledgeBase.Close)
		if err := kb.RegisterTools(a.registry, knowledgeBase); err != nil {
			return err
		}
	}

	if cfg.Tools.Email.Enabled {
		sender := email.NewSender(cfg.Tools.Email.WebhookURL)
		if err := email.RegisterTools(a.registry, sender); err != nil {
			return err
		}
	}

	return nil
}

func (a *app) buildPlatform() error {
	cfg := a.cfg

	switch cfg.Platform.Kind {
	case "rest":
		a.client = rest.NewClient(cfg.Platform.Endpoint, cfg.Platform.APIKey, a.registry)
	case "local":
		provider, err := llm.NewProvider(cfg.Platform.Provider, cfg.Platform.APIKey)
		if err != nil {
			return fmt.Errorf("failed to create provider: %w", err)
		}
		platformDB := filepath.Join(cfg.DataDir, "platform.db")
		localPlatform, err := local.New(platformDB, provider, a.registry)
		if err != nil {
			return fmt.Errorf("failed to open local platform: %w", err)
		}
		a.closers = append(a.closers, localPlatform.Close)
		a.client = localPlatform
	default:
		return fmt.Errorf("unknown platform kind: %s", cfg.Platform.Kind)
	}
	return nil
}

// splitEnabledTools separates the configured tool names into ones backed by
// the local registry and platform-hosted ones.
func (a *app) splitEnabledTools() (localNames, hostedNames []string) {
	registered := make(map[string]bool)
	for _, name := range a.registry.Names() {
		registered[name] = true
	}

	for _, name := range a.cfg.Platform.EnabledTools {
		if registered[name] {
			localNames = append(localNames, name)
		} else {
			hostedNames = append(hostedNames, name)
		}
	}
	return localNames, hostedNames
}

func (a *app) buildSummarizer() directory.Summarizer {
	cfg := a.cfg.Summarizer
	if cfg.Provider == "" || cfg.Provider == "heuristic" {
		return directory.HeadlineSummarizer{}
	}

	provider, err := llm.NewProvider(cfg.Provider, cfg.APIKey)
	if err != nil {
		zl := a.logger.GetZerolog()
		zl.Warn().Err(err).Msg("Summarizer provider unavailable, using headline")
		return directory.HeadlineSummarizer{}
	}
	return directory.NewLLMSummarizer(provider, cfg.Model)
}

// Close tears components down in reverse wiring order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			zl := a.logger.GetZerolog()
			zl.Warn().Err(err).Msg("Shutdown error")
		}
	}
	a.closers = nil
}
