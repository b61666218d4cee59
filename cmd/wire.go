package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bnema/whiteboard-tutor/internal/adapters/auth"
	"github.com/bnema/whiteboard-tutor/internal/adapters/generator/httpgen"
	"github.com/bnema/whiteboard-tutor/internal/adapters/httpapi"
	statusadapter "github.com/bnema/whiteboard-tutor/internal/adapters/render/status"
	"github.com/bnema/whiteboard-tutor/internal/adapters/repo/sqlite"
	tomlrepo "github.com/bnema/whiteboard-tutor/internal/adapters/repo/toml"
	"github.com/bnema/whiteboard-tutor/internal/adapters/secrets/file"
	"github.com/bnema/whiteboard-tutor/internal/application"
	"github.com/bnema/whiteboard-tutor/internal/config"
	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
)

type app struct {
	cfg         config.Config
	logger      *slog.Logger
	store       *sqlite.Store
	quota       *application.QuotaGate
	queries     *application.Queries
	chat        *application.ChatService
	controller  *application.PhaseController
	secretStore ports.SecretStore
	roomRender  func(application.RoomStatus, statusadapter.RenderOptions) (string, error)
	quotaRender func(application.QuotaStatus, statusadapter.RenderOptions) (string, error)
	now         func() time.Time
}

func wireApp(configFile string, logOutput io.Writer) (*app, error) {
	v, err := config.New(configFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.NewLogger(logOutput)

	ledgers, err := tomlrepo.NewLedgerRepository(v)
	if err != nil {
		return nil, fmt.Errorf("wire ledger repository: %w", err)
	}

	prompts, err := application.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("wire prompts: %w", err)
	}

	store, err := sqlite.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("wire room store: %w", err)
	}

	plans := application.StaticPlanCatalog{}
	for name, limit := range cfg.Quota.Plans {
		plans[domain.PlanName(name)] = limit
	}

	clock := ports.SystemClock{}
	secretStore := file.NewStore(cfg.SecretsDir)
	generator := httpgen.NewClient(httpgen.Config{
		BaseURL: cfg.Generator.BaseURL,
		Model:   cfg.Generator.Model,
		APIKey:  cfg.Generator.APIKey,
		Timeout: cfg.Generator.Timeout,
	}, secretStore)

	sessions := application.NewSessionStore(store)
	quota := application.NewQuotaGate(ledgers, plans, domain.PlanName(cfg.Quota.DefaultPlan), clock, logger)

	return &app{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		quota:       quota,
		queries:     application.NewQueries(store, sessions, quota, clock, logger),
		chat:        application.NewChatService(store, sessions, quota, generator, prompts, clock, logger),
		controller:  application.NewPhaseController(store, sessions, quota, generator, prompts, clock, logger),
		secretStore: secretStore,
		roomRender:  statusadapter.RenderRoom,
		quotaRender: statusadapter.RenderQuota,
		now:         time.Now,
	}, nil
}

func (a *app) router() http.Handler {
	return httpapi.NewRouter(httpapi.Deps{
		Chat:          a.chat,
		Sessions:      a.controller,
		Queries:       a.queries,
		Authenticator: auth.NewTokenAuthenticator(a.cfg.Tokens),
		Login: auth.LoginConfig{
			AuthorizeURL: a.cfg.OAuth.AuthorizeURL,
			ClientID:     a.cfg.OAuth.ClientID,
			RedirectURI:  a.cfg.OAuth.RedirectURI,
			Scopes:       a.cfg.OAuth.Scopes,
		},
		Health: a.store,
		Logger: a.logger,
	})
}

func (a *app) Close() error {
	return a.store.Close()
}
