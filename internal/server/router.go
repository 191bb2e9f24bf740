package server

import (
	"net/http"
	"time"

	"github.com/diewo77/go-contracts/internal/automation"
	"github.com/diewo77/go-contracts/internal/handlers"
	"github.com/diewo77/go-contracts/internal/middleware"
	"github.com/diewo77/go-contracts/internal/services"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	DB        *gorm.DB
	Redis     *redis.Client         // optional, checked by /healthz
	Enqueuer  handlers.RunEnqueuer  // optional, enables async runs
	Processor *automation.Processor // built from DB when nil
	Limiter   *middleware.RateLimiter
	Location  *time.Location
	Log       zerolog.Logger
}

// New constructs the root http.Handler with all routes and middlewares applied.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	entries := services.NewEntryService(d.DB, d.Log.With().Str("component", "entries").Logger())
	contracts := services.NewContractService(d.DB, d.Log.With().Str("component", "contracts").Logger())
	cancels := services.NewCancellationService(d.DB, entries, d.Log.With().Str("component", "cancellation").Logger())
	processor := d.Processor
	if processor == nil {
		processor = automation.NewProcessor(d.DB, entries, automation.Options{}, d.Log.With().Str("component", "automation").Logger())
	}
	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(0, 0, d.Log)
	}

	// --- Health endpoints ---
	hh := handlers.NewHealthHandler(d.DB, d.Redis)
	mux.HandleFunc("GET /health", hh.Live)
	mux.HandleFunc("GET /healthz", hh.Ready)

	// --- Contracts ---
	ch := handlers.NewContractHandler(contracts, cancels, entries, d.Log)
	mux.HandleFunc("POST /contracts", ch.Create)
	mux.HandleFunc("GET /contracts/due", ch.Due)
	mux.HandleFunc("GET /contracts/expiring", ch.Expiring)
	mux.HandleFunc("GET /contracts/mrr", ch.Revenue)
	mux.HandleFunc("GET /contracts/{id}", ch.Get)
	mux.HandleFunc("PATCH /contracts/{id}", ch.Update)
	mux.HandleFunc("DELETE /contracts/{id}", ch.Delete)
	mux.HandleFunc("POST /contracts/{id}/activate", ch.Activate)
	mux.HandleFunc("POST /contracts/{id}/pause", ch.Pause)
	mux.HandleFunc("POST /contracts/{id}/resume", ch.Resume)
	mux.HandleFunc("POST /contracts/{id}/cancel", ch.Cancel)
	mux.HandleFunc("GET /contracts/{id}/entries", ch.Entries)

	// --- Automation ---
	ah := handlers.NewAutomationHandler(processor, d.Enqueuer, d.Location, d.Log)
	mux.Handle("POST /automation/run", limiter.Limit(http.HandlerFunc(ah.Run)))
	mux.HandleFunc("GET /automation/runs", ah.Runs)

	return middleware.Recover(d.Log)(middleware.Logging(d.Log)(mux))
}
