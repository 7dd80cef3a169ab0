package businessflow

import (
	"bytes"
	"context"
	"testing"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func supply(design, sku string, requested, produced int) dto.ModuleSupply {
	return dto.ModuleSupply{
		Design:            design,
		SKU:               sku,
		OrderRef:          "ORD-" + sku,
		RequestedQuantity: requested,
		ProducedQuantity:  produced,
	}
}

func createBatch(t *testing.T, env *testEnv, supplies ...dto.ModuleSupply) *dto.BatchResponse {
	t.Helper()
	resp, err := env.batches.CreateBatch(context.Background(), &dto.CreateBatchRequest{Supplies: supplies})
	require.NoError(t, err)
	return resp
}

func TestPreviewBatchPersistsNothing(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.batches.PreviewBatch(context.Background(), &dto.CreateBatchRequest{
		Supplies: []dto.ModuleSupply{
			supply("CUBE", "CUBE-1", 6, 0),
			supply("STAR", "STAR-1", 3, 0),
			supply("CUBE", "CUBE-2", 4, 0),
			supply("CUBE", "CUBE-3", 2, 2),
		},
		MinimizeTransitions: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 13, resp.ModuleCount)
	assert.Equal(t, 2, resp.ArrayCount)
	assert.Equal(t, []int{8, 5}, resp.SlotCounts)
	assert.Equal(t, 1, resp.Transitions)
	assert.Equal(t, []string{"CUBE-3"}, resp.Skipped)
	require.Len(t, resp.Slots, 13)
	assert.Equal(t, "STAR-1", resp.Slots[12].SKU)

	b, r, s, i := env.counts()
	assert.Zero(t, b+r+s+i)
}

func TestCreateBatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedDesign(t, "CUBE")
	ctx := context.Background()

	resp := createBatch(t, env,
		supply("CUBE", "CUBE-A", 20, 3),
		supply("CUBE", "CUBE-B", 5, 5),
	)

	assert.Equal(t, models.BatchStatusInProgress.String(), resp.Status)
	assert.Equal(t, 17, resp.ModuleCount)
	assert.Equal(t, 3, resp.ArrayCount)
	assert.Equal(t, "00000001", resp.SerialStart)
	assert.Equal(t, "00000017", resp.SerialEnd)
	assert.Equal(t, 17, resp.PendingCount)
	assert.Equal(t, []dto.ArrayIdentifierItem{
		{ArraySequence: 1, Identifier: "CUBE00001"},
		{ArraySequence: 2, Identifier: "CUBE00002"},
		{ArraySequence: 3, Identifier: "CUBE00003"},
	}, resp.Identifiers)

	batches, rows, serials, ids := env.counts()
	assert.Equal(t, 1, batches)
	assert.Equal(t, 17, rows)
	assert.Equal(t, 17, serials)
	assert.Equal(t, 3, ids)

	lookup, err := env.decoder.LookupSerial(ctx, "17")
	require.NoError(t, err)
	assert.Equal(t, models.SerialStatusReserved.String(), lookup.Status)
	require.NotNil(t, lookup.BatchUUID)
	assert.Equal(t, resp.UUID, *lookup.BatchUUID)
	assert.Equal(t, "CUBE-A", *lookup.SKU)
	assert.Equal(t, 3, *lookup.ArraySequence)
	assert.Equal(t, 1, *lookup.SlotPosition)

	groups, err := env.batches.ListRowsByOriginalArray(ctx, resp.UUID)
	require.NoError(t, err)
	require.Len(t, groups.Groups, 3)
	for _, g := range groups.Groups {
		for _, row := range g.Rows {
			assert.Equal(t, g.OriginalArraySequence, row.ArraySequence)
		}
	}
}

func TestCreateBatchNamesIdentifiersByLeadingDesign(t *testing.T) {
	env := newTestEnv(t)
	env.seedDesign(t, "CUBE")
	env.seedDesign(t, "STAR")

	resp := createBatch(t, env, supply("CUBE", "CUBE-1", 6, 0), supply("STAR", "STAR-1", 4, 0))

	assert.Equal(t, 1, resp.Transitions)
	assert.Equal(t, []dto.ArrayIdentifierItem{
		{ArraySequence: 1, Identifier: "CUBE00001"},
		{ArraySequence: 2, Identifier: "STAR00001"},
	}, resp.Identifiers)
}

func TestCreateBatchMissingConfigPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.seedDesign(t, "CUBE")

	star := supply("STAR", "STAR-1", 3, 0)
	rev := "B"
	star.Revision = &rev

	_, err := env.batches.CreateBatch(context.Background(), &dto.CreateBatchRequest{
		Supplies: []dto.ModuleSupply{supply("CUBE", "CUBE-1", 2, 0), star},
	})
	require.Error(t, err)
	assert.True(t, IsMissingElementConfig(err))
	assert.Equal(t, "MISSING_ELEMENT_CONFIG", businessCode(t, err))

	var missing *MissingElementConfigError
	require.ErrorAs(t, err, &missing)
	// slots 3-5 need micro_id and serial_text, position 0 needs qr_code and module_id
	require.Len(t, missing.Missing, 8)
	for _, m := range missing.Missing {
		assert.Equal(t, "STAR", m.Design)
		assert.Equal(t, "B", m.Revision)
		assert.Equal(t, []string{"STAR-1"}, m.SKUs)
	}
	assert.Equal(t, 0, missing.Missing[0].Position)

	b, r, s, i := env.counts()
	assert.Zero(t, b+r+s+i)
	assert.Empty(t, env.store.data.counters)
}

func TestCreateBatchRollsBackWhenSerialsRunOut(t *testing.T) {
	env := newTestEnv(t)
	env.seedDesign(t, "CUBE")
	env.store.data.counters[models.SerialNumberCounter] = models.MaxSerial - 5

	_, err := env.batches.CreateBatch(context.Background(), &dto.CreateBatchRequest{
		Supplies: []dto.ModuleSupply{supply("CUBE", "CUBE-1", 10, 0)},
	})
	require.Error(t, err)
	assert.True(t, IsCapacityExhausted(err))
	assert.Equal(t, "SERIAL_CAPACITY_EXHAUSTED", businessCode(t, err))

	b, r, s, i := env.counts()
	assert.Zero(t, b+r+s+i)
	assert.Equal(t, models.MaxSerial-5, env.store.data.counters[models.SerialNumberCounter])
}

func TestCreateBatchRejectsEmptySelection(t *testing.T) {
	env := newTestEnv(t)
	env.seedDesign(t, "CUBE")

	_, err := env.batches.CreateBatch(context.Background(), &dto.CreateBatchRequest{
		Supplies: []dto.ModuleSupply{supply("CUBE", "CUBE-1", 4, 4)},
	})
	assert.ErrorIs(t, err, ErrNoEligibleModules)

	_, err = env.batches.CreateBatch(context.Background(), &dto.CreateBatchRequest{
		Supplies:  []dto.ModuleSupply{supply("CUBE", "CUBE-1", 4, 0)},
		StartSlot: 9,
	})
	assert.ErrorIs(t, err, ErrInvalidPacking)
	assert.Equal(t, "INVALID_PACKING", businessCode(t, err))
}

func TestGetBatchNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.batches.GetBatch(context.Background(), uuid.NewString())
	assert.True(t, IsBatchNotFound(err))

	_, err = env.batches.GetBatch(context.Background(), "not-a-uuid")
	assert.True(t, IsBatchNotFound(err))
}

func TestMarkArrayEngravedCompletesBatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedDesign(t, "CUBE")
	ctx := context.Background()
	batch := createBatch(t, env, supply("CUBE", "CUBE-1", 10, 0))

	_, err := env.batches.MarkArrayEngraved(ctx, batch.UUID, 5)
	assert.ErrorIs(t, err, ErrArrayNotFound)

	first, err := env.batches.MarkArrayEngraved(ctx, batch.UUID, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, first.Engraved)
	assert.Equal(t, models.BatchStatusInProgress.String(), first.BatchStatus)

	entry, err := env.ledger.Lookup(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, models.SerialStatusEngraved, entry.Status)
	entry, err = env.ledger.Lookup(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, models.SerialStatusReserved, entry.Status)

	second, err := env.batches.MarkArrayEngraved(ctx, batch.UUID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Engraved)
	assert.Equal(t, models.BatchStatusCompleted.String(), second.BatchStatus)

	_, err = env.batches.MarkArrayEngraved(ctx, batch.UUID, 2)
	assert.True(t, IsBatchNotInProgress(err))

	got, err := env.batches.GetBatch(ctx, batch.UUID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.DoneCount)
	assert.NotNil(t, got.CompletedAt)
}

func TestVoidRowAndComplete(t *testing.T) {
	env := newTestEnv(t)
	env.seedDesign(t, "CUBE")
	ctx := context.Background()
	batch := createBatch(t, env, supply("CUBE", "CUBE-1", 2, 0))

	groups, err := env.batches.ListRowsByOriginalArray(ctx, batch.UUID)
	require.NoError(t, err)
	second := groups.Groups[0].Rows[1]

	voided, err := env.batches.VoidRow(ctx, batch.UUID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "00000002", voided.Serial)
	assert.Equal(t, models.ModuleRowStatusVoided.String(), voided.Status)

	entry, err := env.ledger.Lookup(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.SerialStatusVoided, entry.Status)

	_, err = env.batches.VoidRow(ctx, batch.UUID, second.ID)
	assert.ErrorIs(t, err, ErrModuleRowNotPending)
	_, err = env.batches.VoidRow(ctx, batch.UUID, 99999)
	assert.ErrorIs(t, err, ErrModuleRowNotFound)

	_, err = env.batches.CompleteBatch(ctx, batch.UUID)
	assert.ErrorIs(t, err, ErrBatchHasPendingRows)

	engraved, err := env.batches.MarkArrayEngraved(ctx, batch.UUID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, engraved.Engraved)
	assert.Equal(t, models.BatchStatusCompleted.String(), engraved.BatchStatus)

	got, err := env.batches.GetBatch(ctx, batch.UUID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DoneCount)
	assert.Equal(t, 1, got.VoidedCount)
	assert.Zero(t, got.PendingCount)
}

func TestCancelBatchVoidsOutstandingSerials(t *testing.T) {
	env := newTestEnv(t)
	env.seedDesign(t, "CUBE")
	ctx := context.Background()
	batch := createBatch(t, env, supply("CUBE", "CUBE-1", 10, 0))

	_, err := env.batches.MarkArrayEngraved(ctx, batch.UUID, 1)
	require.NoError(t, err)

	cancelled, err := env.batches.CancelBatch(ctx, batch.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCancelled.String(), cancelled.Status)
	assert.Equal(t, 8, cancelled.DoneCount)
	assert.Equal(t, 2, cancelled.VoidedCount)
	assert.NotNil(t, cancelled.CancelledAt)

	for serial, want := range map[int64]models.SerialStatus{1: models.SerialStatusEngraved, 9: models.SerialStatusVoided, 10: models.SerialStatusVoided} {
		entry, err := env.ledger.Lookup(ctx, serial)
		require.NoError(t, err)
		assert.Equal(t, want, entry.Status, "serial %d", serial)
	}

	_, err = env.batches.CancelBatch(ctx, batch.UUID)
	assert.True(t, IsBatchNotInProgress(err))
}

func TestRedistributeKeepsOriginalArraysAndSkipsEngraved(t *testing.T) {
	env := newTestEnv(t)
	env.seedDesign(t, "CUBE")
	ctx := context.Background()
	batch := createBatch(t, env, supply("CUBE", "CUBE-1", 20, 0))

	_, err := env.batches.MarkArrayEngraved(ctx, batch.UUID, 1)
	require.NoError(t, err)

	resp, err := env.batches.RedistributeBatch(ctx, batch.UUID, &dto.RedistributeBatchRequest{
		StartSlot:   3,
		FaultySlots: []int{5},
	})
	require.NoError(t, err)
	assert.Equal(t, 12, resp.Moved)
	assert.Equal(t, 3, resp.Batch.StartSlot)
	assert.Equal(t, []int{5}, resp.Batch.FaultySlots)
	assert.Equal(t, 3, resp.Batch.ArrayCount)
	assert.Len(t, resp.Batch.Identifiers, 3)

	groups, err := env.batches.ListRowsByOriginalArray(ctx, batch.UUID)
	require.NoError(t, err)
	require.Len(t, groups.Groups, 3)

	assert.Len(t, groups.Groups[0].Rows, 8)
	for _, row := range groups.Groups[0].Rows {
		assert.Equal(t, 1, row.ArraySequence)
		assert.Equal(t, models.ModuleRowStatusDone.String(), row.Status)
	}

	var placed [][2]int
	for _, g := range groups.Groups[1:] {
		for _, row := range g.Rows {
			assert.Equal(t, g.OriginalArraySequence, row.OriginalArraySequence)
			assert.NotEqual(t, 5, row.SlotPosition)
			placed = append(placed, [2]int{row.ArraySequence, row.SlotPosition})
		}
	}
	assert.ElementsMatch(t, [][2]int{
		{2, 3}, {2, 4}, {2, 6}, {2, 7}, {2, 8},
		{3, 1}, {3, 2}, {3, 3}, {3, 4}, {3, 6}, {3, 7}, {3, 8},
	}, placed)

	// A nil faulty slot list keeps the current set.
	resp, err = env.batches.RedistributeBatch(ctx, batch.UUID, &dto.RedistributeBatchRequest{StartSlot: 1})
	require.NoError(t, err)
	assert.Equal(t, []int{5}, resp.Batch.FaultySlots)

	_, err = env.batches.RedistributeBatch(ctx, batch.UUID, &dto.RedistributeBatchRequest{FaultySlots: []int{1, 2, 3, 4, 5, 6, 7, 8}})
	assert.ErrorIs(t, err, ErrInvalidPacking)
}

func TestRenderArray(t *testing.T) {
	env := newTestEnv(t)
	env.seedDesign(t, "CUBE")
	ctx := context.Background()

	_, err := env.placement.SetCalibration(ctx, "cube", &dto.UpsertCalibrationRequest{OffsetX: 1, OffsetY: 2})
	require.NoError(t, err)

	led := "R"
	s := supply("CUBE", "CUBE-1", 3, 0)
	s.LEDText = &led
	batch := createBatch(t, env, s)

	render, err := env.batches.RenderArray(ctx, batch.UUID, 1)
	require.NoError(t, err)
	assert.Equal(t, "CUBE00001", render.Identifier)
	assert.Equal(t, 210.0, render.Canvas.Height)

	require.Len(t, render.ArrayElements, 2)
	for _, el := range render.ArrayElements {
		assert.Equal(t, "CUBE00001", el.Content)
		assert.InDelta(t, 101, el.X, 1e-9)
		assert.InDelta(t, 207, el.Y, 1e-9)
	}

	require.Len(t, render.Modules, 3)
	first := render.Modules[0]
	assert.Equal(t, 1, first.SlotPosition)
	assert.Equal(t, "00000001", first.Serial)
	require.Len(t, first.Elements, 3)

	byType := make(map[string]dto.RenderedElement)
	for _, el := range first.Elements {
		byType[el.ElementType] = el
	}
	micro := byType["micro_id"]
	assert.InDelta(t, 11, micro.X, 1e-9)
	assert.InDelta(t, 192, micro.Y, 1e-9)
	assert.InDelta(t, 270, micro.Rotation, 1e-9)
	assert.Len(t, micro.Grid, 5)
	assert.Equal(t, "00000001", micro.Content)

	serialText := byType["serial_text"]
	require.NotNil(t, serialText.FontSize)
	assert.InDelta(t, 0.7/0.498, *serialText.FontSize, 1e-9)
	assert.Equal(t, "R", byType["led_code"].Content)

	// voided modules are not rendered
	groups, err := env.batches.ListRowsByOriginalArray(ctx, batch.UUID)
	require.NoError(t, err)
	_, err = env.batches.VoidRow(ctx, batch.UUID, groups.Groups[0].Rows[2].ID)
	require.NoError(t, err)
	render, err = env.batches.RenderArray(ctx, batch.UUID, 1)
	require.NoError(t, err)
	assert.Len(t, render.Modules, 2)

	_, err = env.batches.RenderArray(ctx, batch.UUID, 4)
	assert.ErrorIs(t, err, ErrArrayNotFound)
}

func TestExportManifest(t *testing.T) {
	env := newTestEnv(t)
	env.seedDesign(t, "CUBE")
	batch := createBatch(t, env, supply("CUBE", "CUBE-1", 9, 0))

	name, data, err := env.batches.ExportManifest(context.Background(), batch.UUID)
	require.NoError(t, err)
	assert.Equal(t, "batch_"+batch.UUID+"_manifest.xlsx", name)

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()

	rows, err := xl.GetRows(manifestRowsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 10)
	assert.Equal(t, "serial", rows[0][8])
	assert.Equal(t, []string{"1", "1", "1", "CUBE", "*", "CUBE-1", "ORD-CUBE-1", "", "00000001", "pending"}, rows[1])
	assert.Equal(t, "2", rows[9][0])

	arrays, err := xl.GetRows(manifestArraysSheet)
	require.NoError(t, err)
	require.Len(t, arrays, 3)
	assert.Equal(t, "CUBE00002", arrays[2][1])
}

func TestCreateBatchRetriesWholeTransaction(t *testing.T) {
	env, flaky := newFlakyEnv(t, serializationFailure(), 1)
	env.seedDesign(t, "CUBE")

	resp := createBatch(t, env, supply("CUBE", "CUBE-1", 10, 0))
	assert.Equal(t, 2, flaky.calls)
	assert.Equal(t, "00000001", resp.SerialStart)
	assert.Equal(t, "00000010", resp.SerialEnd)

	batches, rows, serials, identifiers := env.counts()
	assert.Equal(t, 1, batches)
	assert.Equal(t, 10, rows)
	assert.Equal(t, 10, serials)
	assert.Equal(t, 2, identifiers)
}

func TestCreateBatchSurfacesPersistentStorageFailure(t *testing.T) {
	env, flaky := newFlakyEnv(t, serializationFailure(), 100)
	env.seedDesign(t, "CUBE")

	_, err := env.batches.CreateBatch(context.Background(), &dto.CreateBatchRequest{
		Supplies: []dto.ModuleSupply{supply("CUBE", "CUBE-1", 4, 0)},
	})
	assert.Equal(t, "BATCH_CREATE_FAILED", businessCode(t, err))
	assert.Equal(t, int(testPolicy().MaxRetries), flaky.calls)

	b, r, s, i := env.counts()
	assert.Zero(t, b+r+s+i)
}

func placements(t *testing.T, env *testEnv, batchUUID string) map[[2]int]bool {
	t.Helper()
	groups, err := env.batches.ListRowsByOriginalArray(context.Background(), batchUUID)
	require.NoError(t, err)
	out := make(map[[2]int]bool)
	for _, g := range groups.Groups {
		for _, row := range g.Rows {
			out[[2]int{row.ArraySequence, row.SlotPosition}] = true
		}
	}
	return out
}

func TestRedistributeArrayFaultStaysOnItsArray(t *testing.T) {
	env := newTestEnv(t)
	env.seedDesign(t, "CUBE")
	ctx := context.Background()
	batch := createBatch(t, env, supply("CUBE", "CUBE-1", 20, 0))

	resp, err := env.batches.RedistributeBatch(ctx, batch.UUID, &dto.RedistributeBatchRequest{
		ArrayFaultySlots: map[int][]int{2: {3}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[int][]int{2: {3}}, resp.Batch.ArrayFaults)
	assert.Empty(t, resp.Batch.FaultySlots)
	assert.Equal(t, 3, resp.Batch.ArrayCount)

	placed := placements(t, env, batch.UUID)
	assert.Len(t, placed, 20)
	assert.False(t, placed[[2]int{2, 3}], "slot 3 of array 2 is damaged")
	assert.True(t, placed[[2]int{1, 3}], "slot 3 stays usable on array 1")
	assert.True(t, placed[[2]int{3, 3}], "slot 3 stays usable on array 3")
	assert.True(t, placed[[2]int{3, 5}])
	assert.False(t, placed[[2]int{3, 6}])

	// nil keeps the per-array set, an empty list clears that array
	resp, err = env.batches.RedistributeBatch(ctx, batch.UUID, &dto.RedistributeBatchRequest{})
	require.NoError(t, err)
	assert.Equal(t, map[int][]int{2: {3}}, resp.Batch.ArrayFaults)

	resp, err = env.batches.RedistributeBatch(ctx, batch.UUID, &dto.RedistributeBatchRequest{
		ArrayFaultySlots: map[int][]int{2: {}},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Batch.ArrayFaults)
	assert.True(t, placements(t, env, batch.UUID)[[2]int{2, 3}])
}

func TestRedistributeKeepsStartSlotWhenOmitted(t *testing.T) {
	env := newTestEnv(t)
	env.seedDesign(t, "CUBE")
	ctx := context.Background()

	batch, err := env.batches.CreateBatch(ctx, &dto.CreateBatchRequest{
		Supplies:  []dto.ModuleSupply{supply("CUBE", "CUBE-1", 10, 0)},
		StartSlot: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, batch.StartSlot)

	resp, err := env.batches.RedistributeBatch(ctx, batch.UUID, &dto.RedistributeBatchRequest{FaultySlots: []int{8}})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Batch.StartSlot)

	placed := placements(t, env, batch.UUID)
	assert.False(t, placed[[2]int{1, 1}])
	assert.False(t, placed[[2]int{1, 2}])
	assert.True(t, placed[[2]int{1, 3}])
}
