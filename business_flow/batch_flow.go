package businessflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/microid"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/packing"
	"github.com/amirphl/Kusanagi/placement"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchFlow drives an engraving batch from creation to completion
type BatchFlow interface {
	PreviewBatch(ctx context.Context, req *dto.CreateBatchRequest) (*dto.PreviewBatchResponse, error)
	CreateBatch(ctx context.Context, req *dto.CreateBatchRequest) (*dto.BatchResponse, error)
	GetBatch(ctx context.Context, batchUUID string) (*dto.BatchResponse, error)
	ListRowsByOriginalArray(ctx context.Context, batchUUID string) (*dto.ListBatchRowsResponse, error)
	RedistributeBatch(ctx context.Context, batchUUID string, req *dto.RedistributeBatchRequest) (*dto.RedistributeBatchResponse, error)
	MarkArrayEngraved(ctx context.Context, batchUUID string, arraySequence int) (*dto.MarkArrayEngravedResponse, error)
	VoidRow(ctx context.Context, batchUUID string, rowID uint) (*dto.VoidRowResponse, error)
	CompleteBatch(ctx context.Context, batchUUID string) (*dto.BatchResponse, error)
	CancelBatch(ctx context.Context, batchUUID string) (*dto.BatchResponse, error)
	RenderArray(ctx context.Context, batchUUID string, arraySequence int) (*dto.RenderArrayResponse, error)
	// ExportManifest returns the file name and XLSX bytes of the operator sheet
	ExportManifest(ctx context.Context, batchUUID string) (string, []byte, error)
}

// batchSnapshot is a batch with its rows and identifiers
type batchSnapshot struct {
	Batch       *models.EngravingBatch
	Rows        []*models.ModuleRow
	Identifiers []*models.QsaIdentifier
}

// BatchFlowImpl implements BatchFlow
type BatchFlowImpl struct {
	tx             repository.Transactor
	batchRepo      repository.EngravingBatchRepository
	rowRepo        repository.ModuleRowRepository
	identifierRepo repository.QsaIdentifierRepository
	ledger         SerialLedger
	allocator      DesignSequenceAllocator
	placement      PlacementFlow
	arrayCapacity  int
	policy         AllocationPolicy
	logger         *zap.Logger
}

func NewBatchFlow(
	tx repository.Transactor,
	batchRepo repository.EngravingBatchRepository,
	rowRepo repository.ModuleRowRepository,
	identifierRepo repository.QsaIdentifierRepository,
	ledger SerialLedger,
	allocator DesignSequenceAllocator,
	placementFlow PlacementFlow,
	arrayCapacity int,
	policy AllocationPolicy,
	logger *zap.Logger,
) BatchFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if arrayCapacity <= 0 {
		arrayCapacity = packing.DefaultCapacity
	}
	return &BatchFlowImpl{
		tx:             tx,
		batchRepo:      batchRepo,
		rowRepo:        rowRepo,
		identifierRepo: identifierRepo,
		ledger:         ledger,
		allocator:      allocator,
		placement:      placementFlow,
		arrayCapacity:  arrayCapacity,
		policy:         policy,
		logger:         logger,
	}
}

// supplyRequests keeps supply lines with units left to produce
func supplyRequests(supplies []dto.ModuleSupply) ([]packing.Request, []string) {
	var (
		reqs    []packing.Request
		skipped []string
	)
	for _, s := range supplies {
		n := s.Remaining()
		if n == 0 {
			skipped = append(skipped, s.SKU)
			continue
		}
		r := packing.Request{
			Design:   models.NormalizeDesign(s.Design),
			SKU:      strings.TrimSpace(s.SKU),
			OrderRef: strings.TrimSpace(s.OrderRef),
			Quantity: n,
		}
		if s.Revision != nil {
			r.Revision = strings.TrimSpace(*s.Revision)
		}
		if s.LEDText != nil {
			r.LEDText = strings.TrimSpace(*s.LEDText)
		}
		reqs = append(reqs, r)
	}
	return reqs, skipped
}

func (f *BatchFlowImpl) plan(req *dto.CreateBatchRequest) (*packing.Plan, []string, error) {
	if req == nil || len(req.Supplies) == 0 {
		return nil, nil, NewBusinessError("NO_ELIGIBLE_MODULES", "at least one supply line is required", ErrNoEligibleModules)
	}
	reqs, skipped := supplyRequests(req.Supplies)
	if len(reqs) == 0 {
		return nil, skipped, NewBusinessError("NO_ELIGIBLE_MODULES", "every selected supply line is already produced", ErrNoEligibleModules)
	}
	plan, err := packing.Pack(reqs, packing.Options{
		Capacity:            f.arrayCapacity,
		StartSlot:           req.StartSlot,
		FaultySlots:         req.FaultySlots,
		ArrayFaultySlots:    req.ArrayFaultySlots,
		MinimizeTransitions: req.MinimizeTransitions,
	})
	if err != nil {
		return nil, skipped, NewBusinessError("INVALID_PACKING", err.Error(), errors.Join(ErrInvalidPacking, err))
	}
	return plan, skipped, nil
}

// PreviewBatch packs the selection without persisting anything
func (f *BatchFlowImpl) PreviewBatch(ctx context.Context, req *dto.CreateBatchRequest) (*dto.PreviewBatchResponse, error) {
	plan, skipped, err := f.plan(req)
	if err != nil {
		return nil, err
	}

	slots := make([]dto.PlannedSlot, 0, len(plan.Units))
	for _, u := range plan.Units {
		slots = append(slots, dto.PlannedSlot{
			ArraySequence: u.ArraySequence,
			SlotPosition:  u.SlotPosition,
			Design:        u.Design,
			SKU:           u.SKU,
			OrderRef:      u.OrderRef,
		})
	}
	return &dto.PreviewBatchResponse{
		ModuleCount:   len(plan.Units),
		ArrayCount:    plan.Arrays,
		ArrayCapacity: f.arrayCapacity,
		Transitions:   plan.Transitions,
		SlotCounts:    plan.SlotCounts,
		Skipped:       skipped,
		Slots:         slots,
	}, nil
}

// CreateBatch validates, packs and persists a batch with its serials, rows and
// array identifiers in one transaction
func (f *BatchFlowImpl) CreateBatch(ctx context.Context, req *dto.CreateBatchRequest) (*dto.BatchResponse, error) {
	started := time.Now()
	defer func() { batchCreateDuration.Observe(time.Since(started).Seconds()) }()

	plan, skipped, err := f.plan(req)
	if err != nil {
		batchesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if _, err := f.placement.ValidateUnits(ctx, plan.Units); err != nil {
		batchesTotal.WithLabelValues("rejected").Inc()
		if IsMissingElementConfig(err) {
			return nil, NewBusinessError("MISSING_ELEMENT_CONFIG", "element configuration is incomplete for the selected modules", err)
		}
		return nil, err
	}

	created, err := withAllocationRetry(ctx, f.tx, f.policy, operationCreateBatch, f.logger, func(txCtx context.Context) (*createdBatch, error) {
		return f.persistBatch(txCtx, plan, req)
	})
	if err != nil {
		batchesTotal.WithLabelValues("failed").Inc()
		if IsCapacityExhausted(err) {
			return nil, NewBusinessError("SERIAL_CAPACITY_EXHAUSTED", "not enough serial numbers left for this batch", err)
		}
		return nil, NewBusinessError("BATCH_CREATE_FAILED", "failed to create batch", err)
	}

	batch := created.batch
	batchesTotal.WithLabelValues("created").Inc()
	f.logger.Info("batch created", auditFields(ctx,
		zap.String("batch_uuid", batch.UUID.String()),
		zap.Int("modules", batch.ModuleCount),
		zap.Int("arrays", batch.ArrayCount),
		zap.Int64("serial_start", batch.SerialStart),
		zap.Int64("serial_end", batch.SerialEnd),
		zap.Strings("skipped", skipped),
	)...)
	return toBatchResponse(batch, created.rows, created.identifiers), nil
}

type createdBatch struct {
	batch       *models.EngravingBatch
	rows        []*models.ModuleRow
	identifiers []*models.QsaIdentifier
}

// persistBatch writes one attempt of a new batch inside txCtx
func (f *BatchFlowImpl) persistBatch(txCtx context.Context, plan *packing.Plan, req *dto.CreateBatchRequest) (*createdBatch, error) {
	batch := &models.EngravingBatch{
		ModuleCount:   len(plan.Units),
		ArrayCount:    plan.Arrays,
		ArrayCapacity: f.arrayCapacity,
		StartSlot:     max(req.StartSlot, 1),
		FaultySlots:   toInt64Array(req.FaultySlots),
		ArrayFaults:   models.ArrayFaults(nil).Merge(req.ArrayFaultySlots),
		Transitions:   plan.Transitions,
		CreatedBy:     req.CreatedBy,
	}
	if err := f.batchRepo.Save(txCtx, batch); err != nil {
		return nil, err
	}

	serials, err := f.ledger.Reserve(txCtx, &batch.ID, len(plan.Units))
	if err != nil {
		return nil, err
	}

	rows := make([]*models.ModuleRow, 0, len(plan.Units))
	for i, u := range plan.Units {
		rows = append(rows, &models.ModuleRow{
			BatchID:               batch.ID,
			Design:                u.Design,
			Revision:              revisionPtr(u.Revision),
			SKU:                   u.SKU,
			OrderRef:              u.OrderRef,
			LEDText:               optionalText(u.LEDText),
			Serial:                serials.Start + int64(i),
			ArraySequence:         u.ArraySequence,
			OriginalArraySequence: u.ArraySequence,
			SlotPosition:          u.SlotPosition,
			Status:                models.ModuleRowStatusPending,
		})
	}
	if err := f.rowRepo.SaveBatch(txCtx, rows); err != nil {
		return nil, err
	}

	identifiers, err := f.assignIdentifiers(txCtx, batch.ID, unitsOfRows(rows))
	if err != nil {
		return nil, err
	}

	batch.SerialStart = serials.Start
	batch.SerialEnd = serials.End
	if err := f.batchRepo.Update(txCtx, batch); err != nil {
		return nil, err
	}
	return &createdBatch{batch: batch, rows: rows, identifiers: identifiers}, nil
}

// assignIdentifiers binds one identifier to every array holding units. The
// design of the array's first occupied slot names the identifier.
func (f *BatchFlowImpl) assignIdentifiers(ctx context.Context, batchID uint, units []packing.Unit) ([]*models.QsaIdentifier, error) {
	leading := make(map[int]packing.Unit)
	for _, u := range units {
		if cur, ok := leading[u.ArraySequence]; !ok || u.SlotPosition < cur.SlotPosition {
			leading[u.ArraySequence] = u
		}
	}
	arrays := make([]int, 0, len(leading))
	for a := range leading {
		arrays = append(arrays, a)
	}
	sort.Ints(arrays)

	out := make([]*models.QsaIdentifier, 0, len(arrays))
	for _, a := range arrays {
		id, err := f.allocator.AssignIdentifier(ctx, batchID, a, leading[a].Design)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (f *BatchFlowImpl) findBatch(ctx context.Context, batchUUID string, lock bool) (*models.EngravingBatch, error) {
	id, err := uuid.Parse(strings.TrimSpace(batchUUID))
	if err != nil {
		return nil, NewBusinessError("BATCH_NOT_FOUND", "batch not found", ErrBatchNotFound)
	}
	var batch *models.EngravingBatch
	if lock {
		batch, err = f.batchRepo.ByUUIDForUpdate(ctx, id)
	} else {
		batch, err = f.batchRepo.ByUUID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, NewBusinessError("BATCH_NOT_FOUND", "batch not found", ErrBatchNotFound)
	}
	return batch, nil
}

func (f *BatchFlowImpl) inProgressBatch(ctx context.Context, batchUUID string) (*models.EngravingBatch, error) {
	batch, err := f.findBatch(ctx, batchUUID, true)
	if err != nil {
		return nil, err
	}
	if batch.Status != models.BatchStatusInProgress {
		return nil, NewBusinessErrorf("BATCH_NOT_IN_PROGRESS", "batch is %s", ErrBatchNotInProgress, batch.Status)
	}
	return batch, nil
}

// GetBatch returns a batch with row counts and identifiers
func (f *BatchFlowImpl) GetBatch(ctx context.Context, batchUUID string) (*dto.BatchResponse, error) {
	snap, err := f.snapshot(ctx, batchUUID)
	if err != nil {
		return nil, err
	}
	return toBatchResponse(snap.Batch, snap.Rows, snap.Identifiers), nil
}

func (f *BatchFlowImpl) snapshot(ctx context.Context, batchUUID string) (*batchSnapshot, error) {
	batch, err := f.findBatch(ctx, batchUUID, false)
	if err != nil {
		return nil, err
	}
	rows, err := f.rowRepo.ListByBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	ids, err := f.identifierRepo.ListByBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	return &batchSnapshot{Batch: batch, Rows: rows, Identifiers: ids}, nil
}

// ListRowsByOriginalArray groups rows by the array they were first packed into
func (f *BatchFlowImpl) ListRowsByOriginalArray(ctx context.Context, batchUUID string) (*dto.ListBatchRowsResponse, error) {
	batch, err := f.findBatch(ctx, batchUUID, false)
	if err != nil {
		return nil, err
	}
	groups, err := f.rowRepo.ListByOriginalArray(ctx, batch.ID)
	if err != nil {
		return nil, err
	}

	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	resp := &dto.ListBatchRowsResponse{BatchUUID: batch.UUID.String(), Groups: make([]dto.OriginalArrayGroup, 0, len(keys))}
	for _, k := range keys {
		g := dto.OriginalArrayGroup{OriginalArraySequence: k, Rows: make([]dto.ModuleRowItem, 0, len(groups[k]))}
		for _, row := range groups[k] {
			g.Rows = append(g.Rows, toModuleRowItem(row))
		}
		resp.Groups = append(resp.Groups, g)
	}
	return resp, nil
}

// RedistributeBatch reflows the pending rows of a batch under new packing
// options, starting at the lowest array that still has pending rows. Arrays
// with engraved rows are never written to. Original array sequences stay as
// they are.
func (f *BatchFlowImpl) RedistributeBatch(ctx context.Context, batchUUID string, req *dto.RedistributeBatchRequest) (*dto.RedistributeBatchResponse, error) {
	var (
		batch *models.EngravingBatch
		rows  []*models.ModuleRow
		ids   []*models.QsaIdentifier
		moved int
	)
	err := f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		batch, err = f.inProgressBatch(txCtx, batchUUID)
		if err != nil {
			return err
		}
		rows, err = f.rowRepo.ListByBatch(txCtx, batch.ID)
		if err != nil {
			return err
		}

		var (
			pending    []packing.Unit
			sealed     []int
			firstArray int
		)
		sealedSet := make(map[int]bool)
		for _, row := range rows {
			switch row.Status {
			case models.ModuleRowStatusPending:
				u := unitOfRow(row)
				pending = append(pending, u)
				if firstArray == 0 || u.ArraySequence < firstArray {
					firstArray = u.ArraySequence
				}
			case models.ModuleRowStatusDone:
				if !sealedSet[row.ArraySequence] {
					sealedSet[row.ArraySequence] = true
					sealed = append(sealed, row.ArraySequence)
				}
			}
		}
		if len(pending) == 0 {
			return NewBusinessError("NO_PENDING_ROWS", "batch has no pending module rows", ErrNoEligibleModules)
		}

		faulty := batch.FaultySlotInts()
		if req.FaultySlots != nil {
			faulty = req.FaultySlots
		}
		arrayFaults := batch.ArrayFaults.Merge(req.ArrayFaultySlots)
		startSlot := batch.StartSlot
		if req.StartSlot > 0 {
			startSlot = req.StartSlot
		}
		startSlot = max(startSlot, 1)

		reflowed, err := packing.Redistribute(pending, packing.Options{
			Capacity:         batch.ArrayCapacity,
			StartSlot:        startSlot,
			FaultySlots:      faulty,
			ArrayFaultySlots: arrayFaults,
			FirstArray:       firstArray,
			SealedArrays:     sealed,
		})
		if err != nil {
			return NewBusinessError("INVALID_PACKING", err.Error(), errors.Join(ErrInvalidPacking, err))
		}
		if _, err := f.placement.ValidateUnits(txCtx, reflowed); err != nil {
			if IsMissingElementConfig(err) {
				return NewBusinessError("MISSING_ELEMENT_CONFIG", "element configuration is incomplete for the new layout", err)
			}
			return err
		}

		byID := make(map[uint]*models.ModuleRow, len(rows))
		for _, row := range rows {
			byID[row.ID] = row
		}
		for _, u := range reflowed {
			row := byID[u.RowID]
			if row.ArraySequence == u.ArraySequence && row.SlotPosition == u.SlotPosition {
				continue
			}
			if err := f.rowRepo.UpdatePlacement(txCtx, row.ID, u.ArraySequence, u.SlotPosition); err != nil {
				return err
			}
			row.ArraySequence, row.SlotPosition = u.ArraySequence, u.SlotPosition
			moved++
		}

		if _, err := f.assignIdentifiers(txCtx, batch.ID, reflowed); err != nil {
			return err
		}
		if ids, err = f.identifierRepo.ListByBatch(txCtx, batch.ID); err != nil {
			return err
		}

		summary := packing.Summarize(liveUnits(rows))
		batch.StartSlot = startSlot
		batch.FaultySlots = toInt64Array(faulty)
		batch.ArrayFaults = arrayFaults
		batch.ArrayCount = summary.Arrays
		batch.Transitions = summary.Transitions
		return f.batchRepo.Update(txCtx, batch)
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("batch redistributed",
		zap.String("batch_uuid", batch.UUID.String()),
		zap.Int("moved", moved),
		zap.Int("arrays", batch.ArrayCount),
	)
	sortPhysical(rows)
	return &dto.RedistributeBatchResponse{Batch: *toBatchResponse(batch, rows, ids), Moved: moved}, nil
}

// MarkArrayEngraved marks the pending rows of an array done and their serials
// engraved. The batch completes once no pending rows remain.
func (f *BatchFlowImpl) MarkArrayEngraved(ctx context.Context, batchUUID string, arraySequence int) (*dto.MarkArrayEngravedResponse, error) {
	var (
		batch    *models.EngravingBatch
		engraved int64
	)
	err := f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		batch, err = f.inProgressBatch(txCtx, batchUUID)
		if err != nil {
			return err
		}
		rows, err := f.rowRepo.ListByArray(txCtx, batch.ID, arraySequence)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return NewBusinessErrorf("ARRAY_NOT_FOUND", "array %d not found in batch", ErrArrayNotFound, arraySequence)
		}

		var (
			ids     []uint
			serials []int64
		)
		for _, row := range rows {
			if row.Status == models.ModuleRowStatusPending {
				ids = append(ids, row.ID)
				serials = append(serials, row.Serial)
			}
		}
		if engraved, err = f.rowRepo.UpdateStatus(txCtx, ids, models.ModuleRowStatusPending, models.ModuleRowStatusDone); err != nil {
			return err
		}
		if _, err := f.ledger.ConfirmSerials(txCtx, serials); err != nil {
			return err
		}
		return f.completeIfDone(txCtx, batch)
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("array engraved",
		zap.String("batch_uuid", batch.UUID.String()),
		zap.Int("array_sequence", arraySequence),
		zap.Int64("rows", engraved),
		zap.String("batch_status", batch.Status.String()),
	)
	return &dto.MarkArrayEngravedResponse{
		BatchUUID:     batch.UUID.String(),
		ArraySequence: arraySequence,
		Engraved:      int(engraved),
		BatchStatus:   batch.Status.String(),
	}, nil
}

func (f *BatchFlowImpl) pendingCount(ctx context.Context, batchID uint) (int64, error) {
	status := models.ModuleRowStatusPending
	return f.rowRepo.Count(ctx, models.ModuleRowFilter{BatchID: &batchID, Status: &status})
}

func (f *BatchFlowImpl) completeIfDone(ctx context.Context, batch *models.EngravingBatch) error {
	pending, err := f.pendingCount(ctx, batch.ID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return nil
	}
	return f.finish(ctx, batch, models.BatchStatusCompleted)
}

func (f *BatchFlowImpl) finish(ctx context.Context, batch *models.EngravingBatch, status models.BatchStatus) error {
	if !batch.CanTransitionTo(status) {
		return NewBusinessErrorf("BATCH_NOT_IN_PROGRESS", "batch is %s", ErrBatchNotInProgress, batch.Status)
	}
	now := utils.UTCNow()
	batch.Status = status
	switch status {
	case models.BatchStatusCompleted:
		batch.CompletedAt = &now
	case models.BatchStatusCancelled:
		batch.CancelledAt = &now
	}
	if err := f.batchRepo.Update(ctx, batch); err != nil {
		return err
	}
	batchesTotal.WithLabelValues(status.String()).Inc()
	return nil
}

// VoidRow discards one pending module and its serial
func (f *BatchFlowImpl) VoidRow(ctx context.Context, batchUUID string, rowID uint) (*dto.VoidRowResponse, error) {
	var row *models.ModuleRow
	err := f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		batch, err := f.inProgressBatch(txCtx, batchUUID)
		if err != nil {
			return err
		}
		row, err = f.rowRepo.ByID(txCtx, rowID)
		if err != nil {
			return err
		}
		if row == nil || row.BatchID != batch.ID {
			return NewBusinessError("MODULE_ROW_NOT_FOUND", "module row not found in batch", ErrModuleRowNotFound)
		}
		if row.Status != models.ModuleRowStatusPending {
			return NewBusinessErrorf("MODULE_ROW_NOT_PENDING", "module row is %s", ErrModuleRowNotPending, row.Status)
		}
		if _, err := f.rowRepo.UpdateStatus(txCtx, []uint{row.ID}, models.ModuleRowStatusPending, models.ModuleRowStatusVoided); err != nil {
			return err
		}
		if _, err := f.ledger.VoidSerials(txCtx, []int64{row.Serial}); err != nil {
			return err
		}
		row.Status = models.ModuleRowStatusVoided
		return f.completeIfDone(txCtx, batch)
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("module row voided", auditFields(ctx, zap.Uint("row_id", row.ID), zap.String("serial", row.SerialString()))...)
	return &dto.VoidRowResponse{RowID: row.ID, Serial: row.SerialString(), Status: row.Status.String()}, nil
}

// CompleteBatch closes a batch whose rows are all done or voided
func (f *BatchFlowImpl) CompleteBatch(ctx context.Context, batchUUID string) (*dto.BatchResponse, error) {
	err := f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		batch, err := f.inProgressBatch(txCtx, batchUUID)
		if err != nil {
			return err
		}
		pending, err := f.pendingCount(txCtx, batch.ID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return NewBusinessErrorf("BATCH_HAS_PENDING_ROWS", "%d module rows are still pending", ErrBatchHasPendingRows, pending)
		}
		return f.finish(txCtx, batch, models.BatchStatusCompleted)
	})
	if err != nil {
		return nil, err
	}
	return f.GetBatch(ctx, batchUUID)
}

// CancelBatch voids every pending row and its serial and closes the batch
func (f *BatchFlowImpl) CancelBatch(ctx context.Context, batchUUID string) (*dto.BatchResponse, error) {
	err := f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		batch, err := f.inProgressBatch(txCtx, batchUUID)
		if err != nil {
			return err
		}
		rows, err := f.rowRepo.ListByBatch(txCtx, batch.ID)
		if err != nil {
			return err
		}
		var (
			ids     []uint
			serials []int64
		)
		for _, row := range rows {
			if row.Status == models.ModuleRowStatusPending {
				ids = append(ids, row.ID)
				serials = append(serials, row.Serial)
			}
		}
		if _, err := f.rowRepo.UpdateStatus(txCtx, ids, models.ModuleRowStatusPending, models.ModuleRowStatusVoided); err != nil {
			return err
		}
		if _, err := f.ledger.VoidSerials(txCtx, serials); err != nil {
			return err
		}
		f.logger.Info("batch cancelled", auditFields(ctx, zap.String("batch_uuid", batch.UUID.String()), zap.Int("voided", len(ids)))...)
		return f.finish(txCtx, batch, models.BatchStatusCancelled)
	})
	if err != nil {
		return nil, err
	}
	return f.GetBatch(ctx, batchUUID)
}

// RenderArray resolves every element of one array into canvas placements and
// the content to engrave
func (f *BatchFlowImpl) RenderArray(ctx context.Context, batchUUID string, arraySequence int) (*dto.RenderArrayResponse, error) {
	batch, err := f.findBatch(ctx, batchUUID, false)
	if err != nil {
		return nil, err
	}
	all, err := f.rowRepo.ListByArray(ctx, batch.ID, arraySequence)
	if err != nil {
		return nil, err
	}
	rows := make([]*models.ModuleRow, 0, len(all))
	for _, row := range all {
		if row.Status != models.ModuleRowStatusVoided {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil, NewBusinessErrorf("ARRAY_NOT_FOUND", "array %d has no modules", ErrArrayNotFound, arraySequence)
	}

	identifier, err := f.allocator.AssignIdentifier(ctx, batch.ID, arraySequence, rows[0].Design)
	if err != nil {
		return nil, err
	}

	designs := make([]string, 0, len(rows))
	for _, row := range rows {
		designs = append(designs, row.Design)
	}
	configs, err := f.placement.ActiveConfigs(ctx, designs)
	if err != nil {
		return nil, err
	}

	canvas := f.placement.Canvas()
	offsets := make(map[string]placement.Offset)
	offsetOf := func(design string) (placement.Offset, error) {
		if off, ok := offsets[design]; ok {
			return off, nil
		}
		off, err := f.placement.Offset(ctx, design)
		if err != nil {
			return placement.Offset{}, err
		}
		offsets[design] = off
		return off, nil
	}

	var missing missingCollector
	render := func(row *models.ModuleRow, position int, t models.ElementType, content string, grid []string) (*dto.RenderedElement, error) {
		key := placement.KeyFor(row.Design, row.Revision, position, t)
		cfg, err := placement.Resolve(configs, key)
		if err != nil {
			missing.add(key, row.SKU)
			return nil, nil
		}
		off, err := offsetOf(row.Design)
		if err != nil {
			return nil, err
		}
		p := canvas.Transform(cfg, off)
		return &dto.RenderedElement{
			ElementType: p.ElementType.String(),
			X:           p.X,
			Y:           p.Y,
			Rotation:    p.Rotation,
			Size:        p.Size,
			TextHeight:  p.TextHeight,
			FontSize:    p.FontSize,
			Content:     content,
			Grid:        grid,
		}, nil
	}

	resp := &dto.RenderArrayResponse{
		BatchUUID:     batch.UUID.String(),
		ArraySequence: arraySequence,
		Identifier:    identifier.Identifier,
		Canvas:        dto.CanvasInfo{Width: canvas.Width, Height: canvas.Height},
		Modules:       make([]dto.RenderedModule, 0, len(rows)),
	}

	lead := rows[0]
	for _, t := range models.ArrayElementTypes {
		el, err := render(lead, models.ArrayLevelPosition, t, identifier.Identifier, nil)
		if err != nil {
			return nil, err
		}
		if el != nil {
			resp.ArrayElements = append(resp.ArrayElements, *el)
		}
	}

	for _, row := range rows {
		grid, err := microid.EncodeInt(row.Serial)
		if err != nil {
			return nil, err
		}
		serial := row.SerialString()
		mod := dto.RenderedModule{RowID: row.ID, SlotPosition: row.SlotPosition, Design: row.Design, Serial: serial}

		type element struct {
			t       models.ElementType
			content string
			grid    []string
		}
		elements := []element{
			{models.ElementTypeMicroID, serial, grid.Rows()},
			{models.ElementTypeSerialText, serial, nil},
		}
		if row.LEDText != nil && *row.LEDText != "" {
			elements = append(elements, element{models.ElementTypeLEDCode, *row.LEDText, nil})
		}
		for _, e := range elements {
			el, err := render(row, row.SlotPosition, e.t, e.content, e.grid)
			if err != nil {
				return nil, err
			}
			if el != nil {
				mod.Elements = append(mod.Elements, *el)
			}
		}
		resp.Modules = append(resp.Modules, mod)
	}

	if err := missing.err(); err != nil {
		return nil, NewBusinessError("MISSING_ELEMENT_CONFIG", fmt.Sprintf("array %d cannot be rendered", arraySequence), err)
	}
	return resp, nil
}

func unitOfRow(row *models.ModuleRow) packing.Unit {
	u := packing.Unit{
		RowID:                 row.ID,
		Design:                row.Design,
		SKU:                   row.SKU,
		OrderRef:              row.OrderRef,
		ArraySequence:         row.ArraySequence,
		SlotPosition:          row.SlotPosition,
		OriginalArraySequence: row.OriginalArraySequence,
	}
	if row.Revision != nil {
		u.Revision = *row.Revision
	}
	if row.LEDText != nil {
		u.LEDText = *row.LEDText
	}
	return u
}

func unitsOfRows(rows []*models.ModuleRow) []packing.Unit {
	units := make([]packing.Unit, 0, len(rows))
	for _, row := range rows {
		units = append(units, unitOfRow(row))
	}
	return units
}

// liveUnits returns the rows that still occupy a slot.
func liveUnits(rows []*models.ModuleRow) []packing.Unit {
	units := make([]packing.Unit, 0, len(rows))
	for _, row := range rows {
		if row.Status != models.ModuleRowStatusVoided {
			units = append(units, unitOfRow(row))
		}
	}
	return units
}

func sortPhysical(rows []*models.ModuleRow) {
	sort.SliceStable(rows, func(a, b int) bool {
		if rows[a].ArraySequence != rows[b].ArraySequence {
			return rows[a].ArraySequence < rows[b].ArraySequence
		}
		return rows[a].SlotPosition < rows[b].SlotPosition
	})
}

func optionalText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
