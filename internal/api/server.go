package api

import (
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/nicodishanthj/echogarden/internal/chat"
	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/config"
	"github.com/nicodishanthj/echogarden/internal/graph"
	"github.com/nicodishanthj/echogarden/internal/llm"
	"github.com/nicodishanthj/echogarden/internal/orchestrator"
	"github.com/nicodishanthj/echogarden/internal/retrieval"
	"github.com/nicodishanthj/echogarden/internal/store"
	"github.com/nicodishanthj/echogarden/internal/tools"
	"github.com/nicodishanthj/echogarden/internal/vector"
	"github.com/nicodishanthj/echogarden/internal/watcher"
)

// Server is the stateless HTTP surface over the EchoGarden services.
type Server struct {
	router chi.Router
	cfg    config.Config

	store        *store.Store
	registry     *tools.Registry
	orchestrator *orchestrator.Orchestrator
	retriever    *retrieval.Service
	chat         *chat.Service
	graph        *graph.Service
	vector       vector.Store
	provider     llm.Provider
	watcher      *watcher.Watcher
}

// Deps bundles the services the handlers route over.
type Deps struct {
	Store        *store.Store
	Registry     *tools.Registry
	Orchestrator *orchestrator.Orchestrator
	Retriever    *retrieval.Service
	Chat         *chat.Service
	Graph        *graph.Service
	Vector       vector.Store
	Provider     llm.Provider
	Watcher      *watcher.Watcher
}

func NewServer(cfg config.Config, deps Deps) *Server {
	srv := &Server{
		router:       chi.NewRouter(),
		cfg:          cfg,
		store:        deps.Store,
		registry:     deps.Registry,
		orchestrator: deps.Orchestrator,
		retriever:    deps.Retriever,
		chat:         deps.Chat,
		graph:        deps.Graph,
		vector:       deps.Vector,
		provider:     deps.Provider,
		watcher:      deps.Watcher,
	}
	srv.routes()
	common.Logger().Info("api: server ready")
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/logs", s.handleLogs)

	s.router.Get("/tools", s.handleToolList)
	s.router.Get("/tools/{name}/schema", s.handleToolSchema)
	s.router.Post("/tools/{name}/run", s.handleToolRun)

	s.router.Post("/ingest", s.handleIngest)
	s.router.Get("/cards", s.handleCardList)
	s.router.Get("/cards/{id}", s.handleCardDetail)
	s.router.Get("/cards/{id}/open", s.handleCardOpen)
	s.router.Get("/blobs/{id}", s.handleBlobStream)

	s.router.Post("/retrieve", s.handleRetrieve)
	s.router.Post("/chat", s.handleChat)
	s.router.Get("/conversations", s.handleConversationList)
	s.router.Get("/conversations/{id}", s.handleConversationDetail)
	s.router.Get("/search/history", s.handleSearchHistory)

	s.router.Get("/digest", s.handleDigest)
	s.router.Get("/feed/today", s.handleFeedToday)

	s.router.Post("/graph/upsert", s.handleGraphUpsert)
	s.router.Post("/graph/query", s.handleGraphQuery)
	s.router.Post("/graph/expand", s.handleGraphExpand)
	s.router.Get("/graph/subgraph", s.handleGraphSubgraph)
	s.router.Get("/graph/search", s.handleGraphSearch)
	s.router.Get("/graph/neighbors", s.handleGraphNeighbors)

	s.router.Get("/exec/{trace_id}", s.handleExecTrace)
	s.router.Get("/tool_calls", s.handleToolCalls)

	s.router.Get("/capture/status", s.handleCaptureStatus)
	s.router.Get("/capture/jobs", s.handleCaptureJobs)
	s.router.Route("/capture/browser", func(r chi.Router) {
		r.Use(s.requireCaptureKey)
		r.Post("/highlight", s.handleBrowserHighlight)
		r.Post("/bookmark", s.handleBrowserBookmark)
		r.Post("/research_session", s.handleBrowserResearchSession)
		r.Post("/visit", s.handleBrowserVisit)
		r.Post("/import_history", s.handleBrowserImportHistory)
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": common.LogEntries()})
}
