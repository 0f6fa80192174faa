// Command runcored wires the Run Execution Core into a single process:
// a durable Store (SQLite by default, PostgreSQL for multi-process worker
// fleets), the Queue/Leaser, N worker Loops running every task handler, the
// web/skills/builtin/MCP tool providers, and the Run API + Skill API HTTP
// surface. Production deployments split the API and worker processes by
// running one binary per role against the same PostgreSQL store.
//
// With -mcp the process instead exposes its tool catalog over MCP stdio so
// external MCP clients can call the same web/builtin/skills tools.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/api"
	"github.com/nevindra/runcore/handlers"
	"github.com/nevindra/runcore/mcp"
	"github.com/nevindra/runcore/observer"
	"github.com/nevindra/runcore/provider/resolve"
	"github.com/nevindra/runcore/providers/builtin"
	"github.com/nevindra/runcore/providers/mcpprovider"
	"github.com/nevindra/runcore/providers/skills"
	"github.com/nevindra/runcore/providers/web"
	"github.com/nevindra/runcore/providers/web/backends"
	"github.com/nevindra/runcore/queue"
	"github.com/nevindra/runcore/sandbox"
	"github.com/nevindra/runcore/settings"
	"github.com/nevindra/runcore/store/postgres"
	"github.com/nevindra/runcore/store/sqlite"
	"github.com/nevindra/runcore/toolcatalog"
	"github.com/nevindra/runcore/worker"
)

func main() {
	mcpMode := flag.Bool("mcp", false, "serve the tool catalog over MCP stdio instead of running the server")
	flag.Parse()

	logger, err := buildLogger()
	if err != nil {
		log.Fatalf("runcored: logger: %v", err)
	}
	defer logger.Sync()

	dbPath := getenv("RUNCORE_DB_PATH", "runcore.db")
	addr := getenv("RUNCORE_HTTP_ADDR", ":8080")
	workspaceRoot := getenv("RUNCORE_WORKSPACE_ROOT", "./workspace")
	tomlPath := getenv("RUNCORE_CONFIG", "")
	workers := getenvInt("RUNCORE_WORKERS", 2)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The SQLite file always backs messages/settings (and runs/facts unless
	// PostgreSQL is configured); a PostgreSQL DSN moves the run and fact
	// stores to a shared database so several worker processes can lease from
	// one queue.
	sqliteStore := sqlite.New(dbPath, sqlite.WithLogger(logger))
	if err := sqliteStore.Init(ctx); err != nil {
		logger.Fatal("runcored: store init", zap.Error(err))
	}
	defer sqliteStore.Close()

	messages := sqlite.NewMessageStore(sqliteStore.DB())
	if err := messages.Init(ctx); err != nil {
		logger.Fatal("runcored: message store init", zap.Error(err))
	}
	settingsStore := sqlite.NewSettingsStore(sqliteStore.DB())
	if err := settingsStore.Init(ctx); err != nil {
		logger.Fatal("runcored: settings store init", zap.Error(err))
	}

	var (
		store      oasis.Store      = sqliteStore
		skillStore oasis.SkillStore = sqliteStore
		factStore  oasis.FactStore  = sqlite.NewMemoryStore(sqliteStore.DB(), sqlite.WithMemoryLogger(logger))
	)
	if dsn := os.Getenv("RUNCORE_PG_DSN"); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			logger.Fatal("runcored: postgres connect", zap.Error(err))
		}
		pg := postgres.New(pool)
		if err := pg.Init(ctx); err != nil {
			logger.Fatal("runcored: postgres init", zap.Error(err))
		}
		pgFacts := postgres.NewMemoryStore(pool)
		if err := pgFacts.Init(ctx); err != nil {
			logger.Fatal("runcored: postgres facts init", zap.Error(err))
		}
		store, skillStore, factStore = pg, pg, pgFacts
		defer pg.Close()
	}

	cfg, warnings, err := settings.EffectiveFromStore(ctx, tomlPath, settingsStore)
	if err != nil {
		logger.Fatal("runcored: settings", zap.Error(err))
	}
	for _, w := range warnings {
		logger.Warn("runcored: settings warning",
			zap.String("field", w.Field), zap.String("value", w.Value), zap.String("message", w.Message))
	}

	// OTEL observability is opt-in via the standard endpoint env var; without
	// it the tracer/metrics wrappers stay nil and spans are skipped.
	var (
		inst         *observer.Instruments
		otelShutdown func(context.Context) error
	)
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		inst, otelShutdown, err = observer.Init(ctx, nil)
		if err != nil {
			logger.Warn("runcored: otel init failed, continuing without telemetry", zap.Error(err))
		}
	}

	llmProvider, err := resolve.Provider(resolve.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
	})
	if err != nil {
		logger.Fatal("runcored: llm provider", zap.Error(err))
	}
	if inst != nil {
		llmProvider = observer.WrapProvider(llmProvider, cfg.LLM.Model, inst)
	}
	llmProvider = oasis.WithRetry(llmProvider,
		oasis.RetryMaxAttempts(cfg.LLM.MaxRetries),
		oasis.RetryBaseDelay(time.Duration(cfg.LLM.RetryBackoffS*float64(time.Second))),
		oasis.RetryTimeout(time.Duration(cfg.LLM.TimeoutS)*time.Second),
	)
	if rpm := getenvInt("RUNCORE_LLM_RPM", 0); rpm > 0 {
		llmProvider = oasis.WithRateLimit(llmProvider, oasis.RPM(rpm), oasis.TPM(getenvInt("RUNCORE_LLM_TPM", 0)))
	}
	llm := oasis.AdaptLLM(llmProvider)

	embedding, err := resolve.EmbeddingProvider(resolve.EmbeddingConfig{
		Provider: embeddingProviderName(cfg),
		APIKey:   cfg.LLM.APIKey,
		Model:    getenv("RUNCORE_EMBEDDING_MODEL", "gemini-embedding-001"),
	})
	if err != nil {
		logger.Fatal("runcored: embedding provider", zap.Error(err))
	}

	catalog := toolcatalog.NewCatalog([]string{"web", "skills", "mcp", "builtin", "stub"})
	catalog.Register(web.New(searchBackend(cfg), fetchBackend(cfg, dbPath),
		web.WithSearchTimeout(cfg.WebSearch.TimeoutMs),
		web.WithFetchTimeout(cfg.WebFetch.TimeoutMs),
		web.WithFetchMaxBytes(cfg.WebFetch.MaxBytes),
	))
	catalog.Register(builtin.New(workspaceRoot, builtin.WithSkillAuthoring(skillStore, embedding)))
	catalog.Register(builtin.NewStub())

	skillsProvider := skills.New(fmt.Sprintf("http://127.0.0.1%s", addr), cfg.Skills.ListFallback)
	catalog.Register(skillsProvider)

	if mcpConfigs := loadMCPConfigs(logger); len(mcpConfigs) > 0 {
		mcpProv := mcpprovider.New(ctx, mcpConfigs, logger)
		catalog.Register(mcpProv)
		defer mcpProv.Close()
	}

	tools := toolcatalog.NewRuntime(catalog)

	if *mcpMode {
		if err := serveMCP(ctx, catalog, llm); err != nil && ctx.Err() == nil {
			logger.Fatal("runcored: mcp serve", zap.Error(err))
		}
		return
	}

	runner, err := sandbox.NewRunner(workspaceRoot)
	if err != nil {
		logger.Warn("runcored: sandbox runner unavailable, skill invocations will fail", zap.Error(err))
	}

	handlerSet := map[string]worker.Handler{
		"sleep":                  worker.HandlerFunc(handlers.Sleep),
		"summarize_conversation": handlers.Summarize(handlers.SummarizeDeps{Messages: messages, Facts: factStore, LLM: llm, MaxPromptChars: cfg.LLM.MaxPromptChars}),
		"research_report":        handlers.ResearchReport(handlers.ResearchReportDeps{Tools: tools, LLM: llm}),
		"run_code_snippet":       handlers.RunCodeSnippet(handlers.RunCodeSnippetDeps{Tools: tools, LLM: llm}),
		"edit_docs_propose":      handlers.EditDocsPropose(handlers.EditDocsDeps{Store: store, WorkspacePath: workspaceRoot}),
		"edit_docs_apply":        handlers.EditDocsApply(handlers.EditDocsDeps{Store: store, WorkspacePath: workspaceRoot}),
		"edit_docs_cancel":       handlers.EditDocsCancel(handlers.EditDocsDeps{Store: store, WorkspacePath: workspaceRoot}),
	}
	if cfg.AgentLoop.Enabled {
		if workers < 2 {
			// The agent_turn handler blocks its worker while children run;
			// a second loop is required to execute them.
			workers = 2
		}
		handlerSet["agent_turn"] = handlers.AgentTurn(handlers.AgentTurnDeps{
			Store:           store,
			Messages:        messages,
			LLM:             llm,
			AllowedRunTypes: cfg.AgentLoop.AllowedRunTypes,
			DecisionTimeout: time.Duration(cfg.AgentLoop.DecisionTimeoutSeconds) * time.Second,
			MaxPromptChars:  cfg.LLM.MaxPromptChars,
		})
	}

	q := queue.New(store, queue.Config{
		Lease:       time.Duration(cfg.Run.LeaseSeconds) * time.Second,
		Heartbeat:   time.Duration(cfg.Run.HeartbeatSeconds) * time.Second,
		Poll:        time.Duration(cfg.Run.PollSeconds) * time.Second,
		MaxAttempts: cfg.Run.MaxAttempts,
	})

	emit := func(ctx context.Context, run oasis.Run) {
		emitRunMessage(ctx, messages, run)
	}
	workerOpts := []worker.Option{worker.WithLogger(logger), worker.WithEmitMessage(emit)}
	if inst != nil {
		// TRACE_VERBOSITY=OFF suppresses per-run spans while keeping
		// metrics; BASIC and FULL both span (step-level detail rides on the
		// steps the envelope already records).
		if cfg.Trace.Verbosity != "OFF" {
			workerOpts = append(workerOpts, worker.WithTracer(observer.NewTracer()))
		}
		workerOpts = append(workerOpts, worker.WithMetrics(observer.NewRunMetrics(inst)))
	}
	for i := 0; i < workers; i++ {
		loop := worker.New(store, q, handlerSet, workerOpts...)
		go func() {
			if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("runcored: worker loop exited", zap.Error(err))
			}
		}()
	}

	router := api.NewRouter(api.Deps{
		Store:         store,
		Runner:        runner,
		SkillsRoot:    cfg.Skills.Root,
		WorkspaceRoot: workspaceRoot,
		Emit:          emit,
	})
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		logger.Info("runcored: http listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("runcored: http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("runcored: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if runner != nil {
		_ = runner.Close()
	}
	if otelShutdown != nil {
		_ = otelShutdown(shutdownCtx)
	}
}

func buildLogger() (*zap.Logger, error) {
	if os.Getenv("RUNCORE_DEV_LOG") == "1" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// embeddingProviderName picks gemini embeddings when the chat provider is
// gemini (same credentials), else the deterministic stub.
func embeddingProviderName(cfg settings.Settings) string {
	if cfg.LLM.Provider == "gemini" && cfg.LLM.APIKey != "" {
		return "gemini"
	}
	return "stub"
}

func searchBackend(cfg settings.Settings) backends.SearchBackend {
	switch cfg.WebSearch.Backend {
	case "ddg_html":
		return backends.NewDDGHTMLSearchBackend()
	case "searxng":
		return backends.NewSearXNGSearchBackend(cfg.WebSearch.SearxngBaseURL)
	case "baidu":
		return backends.NewBaiduSearchBackend()
	case "bocha":
		return backends.NewBochaSearchBackend(cfg.WebSearch.BochaAPIKey)
	default:
		return backends.NewStubSearchBackend()
	}
}

func fetchBackend(cfg settings.Settings, dbPath string) backends.FetchBackend {
	var base backends.FetchBackend
	switch cfg.WebFetch.Backend {
	case "httpx":
		base = backends.NewHTTPXFetchBackend(
			backends.WithUserAgent(cfg.WebFetch.UserAgent),
			backends.WithProxy(cfg.WebFetch.Proxy),
		)
	default:
		base = backends.NewStubFetchBackend()
	}
	// The cache gets its own database file: sharing the run store's file
	// from a second connection pool invites SQLITE_BUSY under load.
	cache, err := backends.NewFetchCache(dbPath + ".webcache")
	if err != nil {
		return base
	}
	return backends.NewCachingFetchBackend(base, cache)
}

// loadMCPConfigs reads RUNCORE_MCP_SERVERS, a JSON array of
// {"name":..,"command":..,"args":[..]} entries. Unset or empty means no MCP
// servers are dialed.
func loadMCPConfigs(logger *zap.Logger) []mcpprovider.ServerConfig {
	raw := os.Getenv("RUNCORE_MCP_SERVERS")
	if raw == "" {
		return nil
	}
	var configs []mcpprovider.ServerConfig
	if err := json.Unmarshal([]byte(raw), &configs); err != nil {
		logger.Warn("runcored: RUNCORE_MCP_SERVERS is not valid JSON, ignoring", zap.Error(err))
		return nil
	}
	return configs
}

// serveMCP publishes every catalog tool over MCP stdio. Tool results are
// rendered as JSON text blocks; invocation errors become isError results
// rather than JSON-RPC failures, matching how MCP clients surface tool
// problems.
func serveMCP(ctx context.Context, catalog *toolcatalog.Catalog, llm oasis.LLM) error {
	srv := mcp.NewServer("runcore", "1.0")
	for _, meta := range catalog.AllDefinitions(ctx) {
		meta := meta
		var schema any
		if len(meta.InputSchema) > 0 {
			_ = json.Unmarshal(meta.InputSchema, &schema)
		}
		srv.AddTool(mcp.ToolHandler{
			Definition: mcp.ToolDefinition{
				Name:        meta.Name,
				Description: fmt.Sprintf("%s tool (risk %s)", meta.ProviderID, meta.RiskLevel),
				InputSchema: schema,
			},
			Execute: func(ctx context.Context, args json.RawMessage) mcp.ToolCallResult {
				_, provider, found := catalog.Resolve(ctx, meta.Name)
				if !found {
					return mcp.ErrorResult("tool not found: " + meta.Name)
				}
				value, err := provider.Invoke(ctx, meta.Name, args, llm)
				if err != nil {
					return mcp.ErrorResult(err.Error())
				}
				rendered, err := json.Marshal(value)
				if err != nil {
					return mcp.ErrorResult("unencodable tool result: " + err.Error())
				}
				return mcp.TextResult(string(rendered))
			},
		})
	}
	return srv.Serve(ctx)
}

func emitRunMessage(ctx context.Context, messages *sqlite.MessageStore, run oasis.Run) {
	if run.ParentRunID != "" || run.ConversationID == "" {
		return
	}
	content := extractReplyText(run.Output)
	if content == "" {
		content = "(run completed with no reply)"
	}
	_ = messages.AppendMessage(ctx, oasis.ChatMessageRecord{
		ID:             oasis.NewID(),
		ConversationID: run.ConversationID,
		Role:           "assistant",
		Content:        content,
		CreatedAt:      time.Now().Unix(),
	})
}

// extractReplyText prefers result.reply, like orchestrator.childReply, but
// falls back to artifacts.summary.text (summarize_conversation) rather than
// result.final_response before giving up.
func extractReplyText(output *oasis.TaskResult) string {
	if output == nil {
		return ""
	}
	if len(output.Result) > 0 {
		var m map[string]any
		if err := json.Unmarshal(output.Result, &m); err == nil {
			if s, ok := m["reply"].(string); ok && s != "" {
				return s
			}
		}
	}
	if len(output.Artifacts) > 0 {
		var a map[string]any
		if err := json.Unmarshal(output.Artifacts, &a); err == nil {
			if summary, ok := a["summary"].(map[string]any); ok {
				if s, ok := summary["text"].(string); ok {
					return s
				}
			}
		}
	}
	return ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
