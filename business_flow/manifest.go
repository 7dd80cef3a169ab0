package businessflow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/amirphl/Kusanagi/models"
	"github.com/xuri/excelize/v2"
)

const (
	manifestRowsSheet   = "Modules"
	manifestArraysSheet = "Arrays"
)

// ExportManifest writes the operator sheet of a batch: one row per module in
// physical order and one row per array with its identifier
func (f *BatchFlowImpl) ExportManifest(ctx context.Context, batchUUID string) (string, []byte, error) {
	snap, err := f.snapshot(ctx, batchUUID)
	if err != nil {
		return "", nil, err
	}
	sortPhysical(snap.Rows)

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), manifestRowsSheet); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to prepare manifest", err)
	}
	header := []string{"array", "slot", "original_array", "design", "revision", "sku", "order_ref", "led_text", "serial", "status"}
	_ = xl.SetSheetRow(manifestRowsSheet, "A1", &header)
	for i, row := range snap.Rows {
		record := []string{
			strconv.Itoa(row.ArraySequence),
			strconv.Itoa(row.SlotPosition),
			strconv.Itoa(row.OriginalArraySequence),
			row.Design,
			models.RevisionLabel(row.Revision),
			row.SKU,
			row.OrderRef,
			deref(row.LEDText),
			row.SerialString(),
			row.Status.String(),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = xl.SetSheetRow(manifestRowsSheet, cell, &record)
	}

	if _, err := xl.NewSheet(manifestArraysSheet); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to prepare manifest", err)
	}
	arrayHeader := []string{"array", "identifier", "design", "sequence"}
	_ = xl.SetSheetRow(manifestArraysSheet, "A1", &arrayHeader)
	for i, id := range snap.Identifiers {
		record := []string{
			strconv.Itoa(id.ArraySequence),
			id.Identifier,
			id.Design,
			strconv.FormatInt(id.Sequence, 10),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = xl.SetSheetRow(manifestArraysSheet, cell, &record)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write manifest", err)
	}
	return fmt.Sprintf("batch_%s_manifest.xlsx", snap.Batch.UUID.String()), buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
