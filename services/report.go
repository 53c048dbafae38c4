package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/store"
)

// DailyReport summarizes one UTC day of orders.
type DailyReport struct {
	Date        string                          `json:"date"`
	TotalOrders int                             `json:"total_orders"`
	ByStatus    map[models.OrderStatus]int      `json:"by_status"`
	PaidByRail  map[models.Rail]int             `json:"paid_by_rail"`
	Revenue     map[string]decimal.Decimal      `json:"revenue"`
	Credited    map[string]decimal.Decimal      `json:"credited"`
	SuccessRate decimal.Decimal                 `json:"success_rate"`
	Orders      []models.Order                  `json:"-"`
	RailVolume  map[models.Rail]decimal.Decimal `json:"rail_volume"`
}

// DailyReport builds the report for the day containing day. merchantID narrows it to one merchant.
func (o *Orchestrator) DailyReport(ctx context.Context, day time.Time, merchantID string) (*DailyReport, error) {
	day = day.UTC()
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	orders, err := o.ListOrders(ctx, store.OrderFilter{MerchantID: merchantID, From: &from, To: &to})
	if err != nil {
		return nil, err
	}

	report := &DailyReport{
		Date:        from.Format("2006-01-02"),
		TotalOrders: len(orders),
		ByStatus:    make(map[models.OrderStatus]int),
		PaidByRail:  make(map[models.Rail]int),
		Revenue:     make(map[string]decimal.Decimal),
		Credited:    make(map[string]decimal.Decimal),
		RailVolume:  make(map[models.Rail]decimal.Decimal),
		SuccessRate: decimal.Zero,
		Orders:      orders,
	}
	for _, order := range orders {
		report.ByStatus[order.Status]++
		if order.Status != models.OrderStatusPaid {
			continue
		}
		report.PaidByRail[order.Rail]++
		report.Revenue[order.Currency] = report.Revenue[order.Currency].Add(order.Amount)
		report.Credited[order.BalanceCurrency] = report.Credited[order.BalanceCurrency].Add(order.BalanceAmount)
		report.RailVolume[order.Rail] = report.RailVolume[order.Rail].Add(order.BalanceAmount)
	}
	if len(orders) > 0 {
		paid := decimal.NewFromInt(int64(report.ByStatus[models.OrderStatusPaid]))
		report.SuccessRate = paid.Mul(decimal.NewFromInt(100)).DivRound(decimal.NewFromInt(int64(len(orders))), 2)
	}
	return report, nil
}

// WriteDailyReportXLSX writes a two sheet workbook: the summary and every order of the day.
func WriteDailyReportXLSX(report *DailyReport, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	const summary = "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"Date", report.Date},
		{"Total orders", report.TotalOrders},
		{"Success rate %", report.SuccessRate.String()},
		{},
		{"Status", "Orders"},
	}
	for _, status := range []models.OrderStatus{
		models.OrderStatusPaid, models.OrderStatusPending, models.OrderStatusFailed,
		models.OrderStatusExpired, models.OrderStatusAbandoned,
	} {
		rows = append(rows, []interface{}{string(status), report.ByStatus[status]})
	}
	rows = append(rows, []interface{}{}, []interface{}{"Currency", "Revenue"})
	for _, currency := range sortedKeys(report.Revenue) {
		rows = append(rows, []interface{}{currency, report.Revenue[currency].String()})
	}
	rows = append(rows, []interface{}{}, []interface{}{"Rail", "Paid orders"})
	for _, rail := range models.AllRails {
		rows = append(rows, []interface{}{string(rail), report.PaidByRail[rail]})
	}
	if err := writeRows(f, summary, rows); err != nil {
		return err
	}

	const detail = "Orders"
	if _, err := f.NewSheet(detail); err != nil {
		return err
	}
	orderRows := [][]interface{}{{
		"Order ID", "Merchant", "Rail", "Status", "Amount", "Currency",
		"Rail amount", "Rail currency", "Created at", "Paid at",
	}}
	for _, order := range report.Orders {
		merchant, paidAt := "", ""
		if order.MerchantID != nil {
			merchant = *order.MerchantID
		}
		if order.PaidAt != nil {
			paidAt = order.PaidAt.UTC().Format(time.RFC3339)
		}
		orderRows = append(orderRows, []interface{}{
			order.ID, merchant, string(order.Rail), string(order.Status),
			order.Amount.String(), order.Currency,
			order.RailAmount.String(), order.RailCurrency,
			order.CreatedAt.UTC().Format(time.RFC3339), paidAt,
		})
	}
	if err := writeRows(f, detail, orderRows); err != nil {
		return err
	}

	return f.Write(w)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("error writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
