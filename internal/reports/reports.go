// Package reports — выгрузки в Excel и разбор файла поступлений.
package reports

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	model "github.com/Spok95/filter-ledger/internal/domain/workorders"
	"github.com/Spok95/filter-ledger/internal/service/projection"
	"github.com/Spok95/filter-ledger/internal/service/workorders"
	"github.com/xuri/excelize/v2"
)

// sheet пишет заголовок и строки на активный лист.
func sheet(header []interface{}, rows [][]interface{}) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	name := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(name, cell, &r); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Stock(records []inventory.Record, catalog []filters.Filter) ([]byte, error) {
	names := make(map[string]string, len(catalog))
	for _, f := range catalog {
		names[f.SKU] = f.Name
	}
	header := []interface{}{"sku", "name", "location", "quantity", "min_stock", "status"}
	rows := make([][]interface{}, 0, len(records))
	for _, r := range records {
		rows = append(rows, []interface{}{r.SKU, names[r.SKU], r.Location, r.Quantity, r.MinStock, string(r.Status())})
	}
	return sheet(header, rows)
}

func Projection(res projection.Result) ([]byte, error) {
	header := []interface{}{"sku", "name", "stock"}
	for _, m := range res.Months {
		header = append(header, fmt.Sprintf("%d-%02d", m.Year, m.Month))
	}
	header = append(header, "months_until_stockout", "critical")

	rows := make([][]interface{}, 0, len(res.Items)+1)
	for _, c := range res.Items {
		row := []interface{}{c.SKU, c.Name, c.Stock}
		for _, b := range c.Balances {
			row = append(row, b)
		}
		row = append(row, c.Display, c.Critical)
		rows = append(rows, row)
	}
	// последняя строка — обслуживания без пакета по месяцам
	unresolved := []interface{}{"", "unresolved", ""}
	for _, m := range res.Months {
		unresolved = append(unresolved, m.Unresolved)
	}
	rows = append(rows, unresolved)
	return sheet(header, rows)
}

// WorkOrder — сводка фильтров наряда с оценкой стоимости.
func WorkOrder(wo model.WorkOrder, cost workorders.CostEstimate) ([]byte, error) {
	header := []interface{}{"sku", "name", "quantity", "unit_cost", "total"}
	rows := make([][]interface{}, 0, len(cost.Lines)+1)
	for _, l := range cost.Lines {
		row := []interface{}{l.SKU, l.Name, l.Quantity, "", ""}
		if l.UnitCost != nil {
			row[3], _ = l.UnitCost.Float64()
			row[4], _ = l.Total.Float64()
		}
		rows = append(rows, row)
	}
	total, _ := cost.Total.Float64()
	rows = append(rows, []interface{}{"", fmt.Sprintf("WO-%d %d-%02d %s (%s)", wo.ID, wo.Year, wo.Month, wo.DeliveryType, wo.Status), "", "", total})
	return sheet(header, rows)
}

// Receipt — строка файла поступлений.
type Receipt struct {
	Row      int
	SKU      string
	Location string
	Quantity int
}

// ParseReceipts читает xlsx с колонками sku | location | quantity.
// Пустой location — склад по умолчанию. Пустые строки пропускаются.
func ParseReceipts(r io.Reader, defaultLocation string) ([]Receipt, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "reports.ParseReceipts", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "reports.ParseReceipts", err)
	}
	if len(rows) < 2 {
		return nil, apperr.New(apperr.KindValidation, "reports.ParseReceipts", "file has no data rows")
	}

	var out []Receipt
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		cell := func(n int) string {
			if n < len(row) {
				return strings.TrimSpace(row[n])
			}
			return ""
		}
		sku, loc, qtyStr := cell(0), cell(1), cell(2)
		if sku == "" && qtyStr == "" {
			continue
		}
		qty, err := strconv.Atoi(qtyStr)
		if err != nil || qty <= 0 {
			return nil, apperr.New(apperr.KindValidation, "reports.ParseReceipts",
				"row %d: quantity must be a positive integer, got %q", i+1, qtyStr)
		}
		if sku == "" {
			return nil, apperr.New(apperr.KindValidation, "reports.ParseReceipts", "row %d: sku is empty", i+1)
		}
		if loc == "" {
			loc = defaultLocation
		}
		out = append(out, Receipt{Row: i + 1, SKU: sku, Location: loc, Quantity: qty})
	}
	return out, nil
}
