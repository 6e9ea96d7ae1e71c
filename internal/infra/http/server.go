package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Spok95/filter-ledger/internal/service/catalog"
	"github.com/Spok95/filter-ledger/internal/service/completion"
	"github.com/Spok95/filter-ledger/internal/service/ledger"
	"github.com/Spok95/filter-ledger/internal/service/projection"
	"github.com/Spok95/filter-ledger/internal/service/workorders"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DocumentSender доставляет выгрузку адресатам (Telegram).
type DocumentSender interface {
	SendDocument(ctx context.Context, name string, data []byte, caption string) error
}

// Deps — сервисы, которые обслуживает API. Documents может быть nil.
type Deps struct {
	Catalog          *catalog.Service
	Ledger           *ledger.Ledger
	Completion       *completion.Handler
	WorkOrders       *workorders.Service
	Projection       *projection.Simulator
	Documents        DocumentSender
	Location         string
	ProjectionMonths int
	Log              *slog.Logger
}

type Server struct {
	srv *http.Server
}

func New(addr string, exposeMetrics bool, d Deps) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewHandler(exposeMetrics, d),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// NewHandler собирает маршруты; отдельно от Server, чтобы гонять через httptest.
func NewHandler(exposeMetrics bool, d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if exposeMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	a := &api{Deps: d}

	// справочник
	mux.HandleFunc("GET /api/packages/resolve", a.resolvePackage)
	mux.HandleFunc("GET /api/filters", a.listFilters)
	mux.HandleFunc("PUT /api/filters", a.upsertFilter)
	mux.HandleFunc("GET /api/packages", a.listPackages)
	mux.HandleFunc("PUT /api/packages", a.upsertPackage)
	mux.HandleFunc("GET /api/mappings", a.listMappings)
	mux.HandleFunc("PUT /api/mappings", a.upsertMapping)
	mux.HandleFunc("DELETE /api/mappings", a.deactivateMapping)

	// обслуживания
	mux.HandleFunc("POST /api/maintenances/{id}/complete", a.completeMaintenance)
	mux.HandleFunc("POST /api/maintenances/{id}/reopen", a.reopenMaintenance)

	// наряды
	mux.HandleFunc("POST /api/work-orders", a.generateWorkOrder)
	mux.HandleFunc("GET /api/work-orders", a.listWorkOrders)
	mux.HandleFunc("GET /api/work-orders/{id}", a.getWorkOrder)
	mux.HandleFunc("DELETE /api/work-orders/{id}", a.deleteWorkOrder)
	mux.HandleFunc("POST /api/work-orders/{id}/confirm", a.confirmWorkOrder)
	mux.HandleFunc("POST /api/work-orders/{id}/cancel", a.cancelWorkOrder)
	mux.HandleFunc("PUT /api/work-orders/{id}/delivery-date", a.updateDeliveryDate)
	mux.HandleFunc("DELETE /api/work-orders/{id}/maintenances/{mid}", a.removeMaintenance)
	mux.HandleFunc("GET /api/work-orders/{id}/cost", a.workOrderCost)
	mux.HandleFunc("GET /api/work-orders/{id}/export", a.exportWorkOrder)

	// склад
	mux.HandleFunc("GET /api/stock", a.stock)
	mux.HandleFunc("GET /api/stock.xlsx", a.exportStock)
	mux.HandleFunc("GET /api/stock/reconcile", a.reconcile)
	mux.HandleFunc("POST /api/stock/receipts", a.receive)
	mux.HandleFunc("POST /api/stock/receipts/import", a.importReceipts)
	mux.HandleFunc("PUT /api/stock/min", a.setMinStock)
	mux.HandleFunc("GET /api/stock/projection", a.projection)
	mux.HandleFunc("GET /api/stock/projection.xlsx", a.exportProjection)
	mux.HandleFunc("POST /api/stock/projection/send", a.sendProjection)

	return withRequestID(d.Log, mux)
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
