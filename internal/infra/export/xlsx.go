package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/resto-billing/internal/billing"
	"github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

const (
	SheetSummary = "Summary"
	SheetItems   = "Items"
	SheetOrphans = "Orphans"
	SheetEvents  = "Events"
)

// AuditFileName is the attachment name for a report run at t.
func AuditFileName(t time.Time) string {
	return fmt.Sprintf("audit_%s.xlsx", t.UTC().Format("20060102_150405"))
}

func EventsFileName(restaurantID int64, t time.Time) string {
	return fmt.Sprintf("events_%d_%s.xlsx", restaurantID, t.UTC().Format("20060102_150405"))
}

// AuditReport renders rep as a workbook with a summary sheet, one row per
// repaired or failed record and the orphaned restaurant ids.
func AuditReport(rep billing.AuditReport) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), SheetSummary); err != nil {
		return nil, err
	}
	summary := [][]any{
		{"run_at", rep.RunAt.UTC().Format(time.RFC3339)},
		{"scanned", rep.Scanned},
		{"orphaned", rep.Orphaned},
		{"mismatches_found", rep.MismatchesFound},
		{"mismatches_fixed", rep.MismatchesFixed},
		{"expirations_fixed", rep.ExpirationsFixed},
		{"failed", rep.Failed},
	}
	if err := writeRows(f, SheetSummary, summary); err != nil {
		return nil, err
	}

	rows := [][]any{{
		"restaurant_id",
		"subscription_id",
		"status_before",
		"status_after",
		"cached_plan_before",
		"mirror_plan_before",
		"plan_after",
		"mismatch",
		"mirror_fixed",
		"expiration_fixed",
		"error",
	}}
	for _, it := range rep.Items {
		rows = append(rows, []any{
			it.RestaurantID,
			it.SubscriptionID.String(),
			string(it.StatusBefore),
			string(it.StatusAfter),
			string(it.CachedPlanBefore),
			string(it.MirrorPlanBefore),
			string(it.PlanAfter),
			yesNo(it.Mismatch),
			yesNo(it.MirrorFixed),
			yesNo(it.ExpirationFixed),
			it.Error,
		})
	}
	if err := newSheet(f, SheetItems, rows); err != nil {
		return nil, err
	}

	orphans := [][]any{{"restaurant_id"}}
	for _, id := range rep.OrphanRestaurantIDs {
		orphans = append(orphans, []any{id})
	}
	if err := newSheet(f, SheetOrphans, orphans); err != nil {
		return nil, err
	}

	return write(f)
}

// Events renders the event log of one subscription, oldest first.
func Events(sub *subscriptions.Subscription, events []subscriptions.Event) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), SheetEvents); err != nil {
		return nil, err
	}

	rows := [][]any{
		{"restaurant_id", sub.RestaurantID, "subscription_id", sub.ID.String(), "status", string(sub.Status), "plan", string(sub.Plan)},
		{"id", "type", "created_at", "metadata"},
	}
	for _, ev := range events {
		meta, err := json.Marshal(ev.Metadata)
		if err != nil {
			return nil, fmt.Errorf("event %d metadata: %w", ev.ID, err)
		}
		rows = append(rows, []any{
			ev.ID,
			string(ev.Type),
			ev.CreatedAt.UTC().Format(time.RFC3339),
			string(meta),
		})
	}
	if err := writeRows(f, SheetEvents, rows); err != nil {
		return nil, err
	}
	return write(f)
}

func newSheet(f *excelize.File, name string, rows [][]any) error {
	if _, err := f.NewSheet(name); err != nil {
		return err
	}
	return writeRows(f, name, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func write(f *excelize.File) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
