package businessflow

import (
	"context"
	"fmt"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	"go.uber.org/zap"
)

// DesignSequenceAllocator issues per-design sequence numbers and the array
// identifiers built from them
type DesignSequenceAllocator interface {
	Next(ctx context.Context, design string) (int64, error)
	AssignIdentifier(ctx context.Context, batchID uint, arraySequence int, design string) (*models.QsaIdentifier, error)
}

// DesignSequenceAllocatorImpl keeps one counter row per design so designs never
// contend with each other
type DesignSequenceAllocatorImpl struct {
	counters    repository.SequenceCounterRepository
	identifiers repository.QsaIdentifierRepository
	tx          repository.Transactor
	policy      AllocationPolicy
	logger      *zap.Logger
}

func NewDesignSequenceAllocator(
	counters repository.SequenceCounterRepository,
	identifiers repository.QsaIdentifierRepository,
	tx repository.Transactor,
	policy AllocationPolicy,
	logger *zap.Logger,
) DesignSequenceAllocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DesignSequenceAllocatorImpl{counters: counters, identifiers: identifiers, tx: tx, policy: policy, logger: logger}
}

func zeroSeed(context.Context) (int64, error) { return 0, nil }

// Next returns the next sequence number of design, starting at 1. Gaps are
// possible when an enclosing transaction rolls back.
func (a *DesignSequenceAllocatorImpl) Next(ctx context.Context, design string) (int64, error) {
	design = models.NormalizeDesign(design)
	if design == "" {
		return 0, NewBusinessError("DESIGN_REQUIRED", "design is required", ErrInvalidElementConfig)
	}
	name := models.DesignCounterName(design)

	seq, err := withAllocationRetry(ctx, a.tx, a.policy, counterKindDesign, a.logger, func(txCtx context.Context) (int64, error) {
		last, err := advanceCounter(txCtx, a.counters, name, 1, 0, zeroSeed)
		if err != nil {
			return 0, err
		}
		return last + 1, nil
	})
	if err != nil {
		return 0, fmt.Errorf("next sequence for %s: %w", design, err)
	}
	return seq, nil
}

// AssignIdentifier returns the identifier bound to (batch, array), allocating
// and storing one when the array has none yet. Allocation and insert share a
// transaction.
func (a *DesignSequenceAllocatorImpl) AssignIdentifier(ctx context.Context, batchID uint, arraySequence int, design string) (*models.QsaIdentifier, error) {
	return withAllocationRetry(ctx, a.tx, a.policy, counterKindIdentifier, a.logger, func(txCtx context.Context) (*models.QsaIdentifier, error) {
		existing, err := a.identifiers.ByBatchArray(txCtx, batchID, arraySequence)
		if err != nil || existing != nil {
			return existing, err
		}

		seq, err := a.Next(txCtx, design)
		if err != nil {
			return nil, err
		}
		row := &models.QsaIdentifier{
			BatchID:       batchID,
			ArraySequence: arraySequence,
			Design:        models.NormalizeDesign(design),
			Sequence:      seq,
			Identifier:    FormatIdentifier(design, seq),
		}
		if err := a.identifiers.Save(txCtx, row); err != nil {
			return nil, err
		}
		return row, nil
	})
}

// FormatIdentifier renders an array identifier such as CUBE00076
func FormatIdentifier(design string, sequence int64) string {
	return models.FormatQsaIdentifier(design, sequence)
}
