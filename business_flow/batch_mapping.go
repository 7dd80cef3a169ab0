package businessflow

import (
	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/lib/pq"
)

func toInt64Array(slots []int) pq.Int64Array {
	out := make(pq.Int64Array, 0, len(slots))
	for _, s := range slots {
		out = append(out, int64(s))
	}
	return out
}

func toBatchResponse(batch *models.EngravingBatch, rows []*models.ModuleRow, identifiers []*models.QsaIdentifier) *dto.BatchResponse {
	resp := &dto.BatchResponse{
		UUID:          batch.UUID.String(),
		Status:        batch.Status.String(),
		ModuleCount:   batch.ModuleCount,
		ArrayCount:    batch.ArrayCount,
		ArrayCapacity: batch.ArrayCapacity,
		StartSlot:     batch.StartSlot,
		FaultySlots:   batch.FaultySlotInts(),
		ArrayFaults:   batch.ArrayFaults,
		Transitions:   batch.Transitions,
		SerialStart:   models.FormatSerial(batch.SerialStart),
		SerialEnd:     models.FormatSerial(batch.SerialEnd),
		CreatedBy:     batch.CreatedBy,
		CreatedAt:     utils.FormatRFC3339(batch.CreatedAt),
		CompletedAt:   utils.FormatRFC3339Ptr(batch.CompletedAt),
		CancelledAt:   utils.FormatRFC3339Ptr(batch.CancelledAt),
	}
	for _, row := range rows {
		switch row.Status {
		case models.ModuleRowStatusPending:
			resp.PendingCount++
		case models.ModuleRowStatusDone:
			resp.DoneCount++
		case models.ModuleRowStatusVoided:
			resp.VoidedCount++
		}
	}
	for _, id := range identifiers {
		resp.Identifiers = append(resp.Identifiers, dto.ArrayIdentifierItem{
			ArraySequence: id.ArraySequence,
			Identifier:    id.Identifier,
		})
	}
	return resp
}

func toModuleRowItem(row *models.ModuleRow) dto.ModuleRowItem {
	return dto.ModuleRowItem{
		ID:                    row.ID,
		Design:                row.Design,
		Revision:              row.Revision,
		SKU:                   row.SKU,
		OrderRef:              row.OrderRef,
		LEDText:               row.LEDText,
		Serial:                row.SerialString(),
		ArraySequence:         row.ArraySequence,
		OriginalArraySequence: row.OriginalArraySequence,
		SlotPosition:          row.SlotPosition,
		Status:                row.Status.String(),
	}
}
