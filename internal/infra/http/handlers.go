package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	"github.com/Spok95/filter-ledger/internal/domain/maintenance"
	model "github.com/Spok95/filter-ledger/internal/domain/workorders"
	"github.com/Spok95/filter-ledger/internal/reports"
	"github.com/Spok95/filter-ledger/internal/service/projection"
)

type api struct{ Deps }

// ---- справочник ----

type resolveResponse struct {
	PlanCode    string           `json:"plan_code"`
	CycleMonths int              `json:"cycle_months"`
	Known       bool             `json:"known"`
	Package     *filters.Package `json:"package,omitempty"`
}

func (a *api) resolvePackage(w http.ResponseWriter, r *http.Request) {
	cycle, err := queryInt(r, "cycle", 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.Catalog.Resolve(r.URL.Query().Get("plan"), cycle)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{
		PlanCode:    res.PlanCode,
		CycleMonths: res.CycleMonths,
		Known:       res.Known(),
		Package:     res.Package,
	})
}

func (a *api) listFilters(w http.ResponseWriter, r *http.Request) {
	list, err := a.Catalog.Filters(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) upsertFilter(w http.ResponseWriter, r *http.Request) {
	var f filters.Filter
	if err := decode(r, &f); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Catalog.UpsertFilter(r.Context(), f); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listPackages(w http.ResponseWriter, r *http.Request) {
	list, err := a.Catalog.Packages(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) upsertPackage(w http.ResponseWriter, r *http.Request) {
	var p filters.Package
	if err := decode(r, &p); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Catalog.UpsertPackage(r.Context(), p); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listMappings(w http.ResponseWriter, r *http.Request) {
	list, err := a.Catalog.Mappings(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) upsertMapping(w http.ResponseWriter, r *http.Request) {
	var m filters.Mapping
	if err := decode(r, &m); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Catalog.UpsertMapping(r.Context(), m); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) deactivateMapping(w http.ResponseWriter, r *http.Request) {
	cycle, err := queryInt(r, "cycle", 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Catalog.DeactivateMapping(r.Context(), r.URL.Query().Get("plan"), cycle); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- обслуживания ----

type completeRequest struct {
	ActualDate *time.Time `json:"actual_date"`
	Notes      string     `json:"notes"`
}

func (a *api) completeMaintenance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req completeRequest
	if err := decodeOptional(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	var actual time.Time
	if req.ActualDate != nil {
		actual = *req.ActualDate
	}
	rep, err := a.Completion.Complete(r.Context(), id, actual, req.Notes)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *api) reopenMaintenance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rep, err := a.Completion.Reopen(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ---- наряды ----

type generateRequest struct {
	Year         int                 `json:"year"`
	Month        int                 `json:"month"`
	DeliveryType maintenance.Channel `json:"delivery_type"`
}

func (a *api) generateWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Month < 1 || req.Month > 12 {
		a.fail(w, r, apperr.New(apperr.KindValidation, "http.generateWorkOrder", "month must be 1..12, got %d", req.Month))
		return
	}
	wo, err := a.WorkOrders.Generate(r.Context(), req.Year, time.Month(req.Month), req.DeliveryType)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wo)
}

func (a *api) listWorkOrders(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year", 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	month, err := queryInt(r, "month", 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	list, err := a.WorkOrders.List(r.Context(), year, time.Month(month))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) getWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	wo, err := a.WorkOrders.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wo)
}

func (a *api) deleteWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.WorkOrders.Delete(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) confirmWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rep, err := a.WorkOrders.Confirm(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type cancelResponse struct {
	WorkOrder model.WorkOrder      `json:"work_order"`
	Movements []inventory.Movement `json:"movements"`
}

func (a *api) cancelWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	wo, movements, err := a.WorkOrders.Cancel(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{WorkOrder: wo, Movements: movements})
}

type deliveryDateRequest struct {
	// YYYY-MM-DD
	DeliveryDate string `json:"delivery_date"`
}

func (a *api) updateDeliveryDate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req deliveryDateRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	date, err := time.Parse(time.DateOnly, strings.TrimSpace(req.DeliveryDate))
	if err != nil {
		a.fail(w, r, apperr.Wrap(apperr.KindValidation, "http.updateDeliveryDate", err))
		return
	}
	wo, err := a.WorkOrders.UpdateDeliveryDate(r.Context(), id, date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wo)
}

func (a *api) removeMaintenance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	mid, err := pathID(r, "mid")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	wo, err := a.WorkOrders.RemoveMaintenance(r.Context(), id, mid)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wo)
}

func (a *api) workOrderCost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	est, err := a.WorkOrders.EstimatedCost(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (a *api) exportWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	wo, err := a.WorkOrders.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	est, err := a.WorkOrders.EstimatedCost(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	data, err := reports.WorkOrder(wo, est)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeXLSX(w, fmt.Sprintf("work_order_%d_%d-%02d.xlsx", wo.ID, wo.Year, wo.Month), data)
}

// ---- склад ----

type stockRow struct {
	inventory.Record
	Status inventory.Status `json:"status"`
}

func (a *api) stock(w http.ResponseWriter, r *http.Request) {
	recs, err := a.Ledger.Snapshot(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]stockRow, 0, len(recs))
	for _, rec := range recs {
		out = append(out, stockRow{Record: rec, Status: rec.Status()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) exportStock(w http.ResponseWriter, r *http.Request) {
	recs, err := a.Ledger.Snapshot(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	catalog, err := a.Catalog.Filters(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	data, err := reports.Stock(recs, catalog)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeXLSX(w, "stock_"+time.Now().Format("20060102_150405")+".xlsx", data)
}

func (a *api) reconcile(w http.ResponseWriter, r *http.Request) {
	drifts, err := a.Ledger.Reconcile(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drifts": drifts, "consistent": len(drifts) == 0})
}

type receiptRequest struct {
	SKU      string `json:"sku"`
	Location string `json:"location"`
	Quantity int    `json:"quantity"`
}

func (a *api) receive(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Location == "" {
		req.Location = a.Location
	}
	mv, err := a.Ledger.Receive(r.Context(), req.SKU, req.Location, req.Quantity)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mv)
}

type importResponse struct {
	Applied   int                  `json:"applied"`
	Movements []inventory.Movement `json:"movements"`
}

// importReceipts принимает xlsx (sku | location | quantity). Строки проводятся
// по одной; на первой ошибке останавливаемся и сообщаем номер строки.
func (a *api) importReceipts(w http.ResponseWriter, r *http.Request) {
	rows, err := reports.ParseReceipts(http.MaxBytesReader(w, r.Body, 10<<20), a.Location)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := importResponse{Movements: []inventory.Movement{}}
	for _, row := range rows {
		mv, err := a.Ledger.Receive(r.Context(), row.SKU, row.Location, row.Quantity)
		if err != nil {
			a.fail(w, r, fmt.Errorf("row %d (applied %d): %w", row.Row, resp.Applied, err))
			return
		}
		resp.Applied++
		resp.Movements = append(resp.Movements, mv)
	}
	writeJSON(w, http.StatusOK, resp)
}

type minStockRequest struct {
	SKU      string `json:"sku"`
	Location string `json:"location"`
	MinStock int    `json:"min_stock"`
}

func (a *api) setMinStock(w http.ResponseWriter, r *http.Request) {
	var req minStockRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Location == "" {
		req.Location = a.Location
	}
	rec, err := a.Ledger.SetMinStock(r.Context(), req.SKU, req.Location, req.MinStock)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockRow{Record: rec, Status: rec.Status()})
}

func (a *api) projection(w http.ResponseWriter, r *http.Request) {
	months, err := queryInt(r, "months", a.ProjectionMonths)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.Projection.Project(r.Context(), months)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) projectionFile(r *http.Request) (projection.Result, string, []byte, error) {
	months, err := queryInt(r, "months", a.ProjectionMonths)
	if err != nil {
		return projection.Result{}, "", nil, err
	}
	res, err := a.Projection.Project(r.Context(), months)
	if err != nil {
		return projection.Result{}, "", nil, err
	}
	data, err := reports.Projection(res)
	if err != nil {
		return projection.Result{}, "", nil, err
	}
	return res, "projection_" + res.AsOf.Format("20060102") + ".xlsx", data, nil
}

func (a *api) exportProjection(w http.ResponseWriter, r *http.Request) {
	_, name, data, err := a.projectionFile(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeXLSX(w, name, data)
}

// sendProjection отправляет тот же xlsx в чаты администраторов.
func (a *api) sendProjection(w http.ResponseWriter, r *http.Request) {
	if a.Documents == nil {
		a.fail(w, r, apperr.New(apperr.KindValidation, "http.sendProjection", "telegram is not configured"))
		return
	}
	res, name, data, err := a.projectionFile(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	critical := 0
	for _, c := range res.Items {
		if c.Critical {
			critical++
		}
	}
	caption := fmt.Sprintf("Прогноз склада на %d мес., критичных позиций: %d", res.Horizon, critical)
	if err := a.Documents.SendDocument(r.Context(), name, data, caption); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": name, "critical": critical})
}
