package api

import (
	"net/http"
	"time"

	"ensemble/internal/board"
	"ensemble/internal/catalog"
	"ensemble/internal/conductor"
	"ensemble/internal/event"
	"ensemble/internal/logging"
	"ensemble/internal/metrics"
	"ensemble/internal/mud"
	"ensemble/internal/pipeline"
	"ensemble/internal/simulation"
)

// Deps carries everything the gateway fronts. Nil fields disable the
// matching endpoints gracefully.
type Deps struct {
	Conductor    *conductor.Engine
	ConductorBus *event.Bus[conductor.Event]
	Simulation   *simulation.Engine
	Mud          *mud.Engine
	Board        *board.Service
	Pipeline     *pipeline.Service
	Catalog      *catalog.Catalog
	Firehose     *event.Bus[event.Envelope]
	Logger       *logging.Logger
	Registry     *metrics.Registry
	AuthToken    string
}

func RegisterRoutes(mux *http.ServeMux, deps Deps) {
	rest := &RestHandler{
		Conductor:  deps.Conductor,
		Simulation: deps.Simulation,
		Mud:        deps.Mud,
		Board:      deps.Board,
		Pipeline:   deps.Pipeline,
		Catalog:    deps.Catalog,
		Logger:     deps.Logger,
		Registry:   deps.Registry,
		StartedAt:  time.Now().UTC(),
	}

	wrap := func(handler apiHandler) http.Handler {
		return loggingMiddleware(deps.Logger, restHandler(deps.AuthToken, handler))
	}

	mux.Handle("/ws/conductor", securityHeadersMiddleware(cacheControlNoStore, &ConductorHandler{
		Engine:    deps.Conductor,
		Bus:       deps.ConductorBus,
		Logger:    deps.Logger,
		AuthToken: deps.AuthToken,
	}))
	mux.Handle("/ws/events", securityHeadersMiddleware(cacheControlNoStore, &EventsHandler{
		Bus:       deps.Firehose,
		Logger:    deps.Logger,
		AuthToken: deps.AuthToken,
	}))
	mux.Handle("/api/events/stream", securityHeadersMiddleware(cacheControlNoStore, &EventsSSEHandler{
		Bus:       deps.Firehose,
		Logger:    deps.Logger,
		AuthToken: deps.AuthToken,
	}))
	mux.Handle("/api/logs/stream", securityHeadersMiddleware(cacheControlNoStore, &LogsSSEHandler{
		Logger:    deps.Logger,
		AuthToken: deps.AuthToken,
	}))

	mux.Handle("/api/status", wrap(rest.handleStatus))
	mux.Handle("/api/logs", wrap(rest.handleLogs))
	mux.Handle("/metrics", wrap(rest.handleMetrics))

	mux.Handle("/api/conductor", wrap(rest.handleConductor))
	mux.Handle("/api/conductor/tempo", wrap(rest.handleConductorTempo))

	mux.Handle("/api/simulation", wrap(rest.handleSimulation))
	mux.Handle("/api/simulation/characters/", wrap(rest.handleSimulationCharacter))

	mux.Handle("/api/mud/players", wrap(rest.handleMudPlayers))
	mux.Handle("/api/mud/players/", wrap(rest.handleMudPlayer))
	mux.Handle("/api/mud/npcs/", wrap(rest.handleMudTalk))
	mux.Handle("/api/mud/ledger", wrap(rest.handleMudLedger))

	mux.Handle("/api/board/citizens", wrap(rest.handleBoardCitizens))
	mux.Handle("/api/board/citizens/", wrap(rest.handleBoardCitizen))
	mux.Handle("/api/board/bulletins", wrap(rest.handleBoardBulletins))
	mux.Handle("/api/board/bulletins/", wrap(rest.handleBoardBulletin))

	mux.Handle("/api/pipeline/documents", wrap(rest.handlePipelineDocuments))
	mux.Handle("/api/pipeline/documents/", wrap(rest.handlePipelineDocument))

	mux.Handle("/api/catalog/categories", wrap(rest.handleCatalogCategories))
	mux.Handle("/api/catalog/packages", wrap(rest.handleCatalogPackages))
	mux.Handle("/api/catalog/templates", wrap(rest.handleCatalogTemplates))
	mux.Handle("/api/catalog/templates/", wrap(rest.handleCatalogTemplate))

	mux.Handle("/api/", securityHeadersMiddleware(cacheControlNoStore, http.NotFoundHandler()))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoCache)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ensemble ok\n"))
	})
}
