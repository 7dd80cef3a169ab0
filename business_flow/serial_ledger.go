package businessflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// SerialRange is an inclusive range of serial numbers
type SerialRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Count returns the number of serials in the range
func (r SerialRange) Count() int64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

func (r SerialRange) validate() error {
	if r.Start < models.MinSerial || r.End > models.MaxSerial || r.End < r.Start {
		return fmt.Errorf("%d-%d: %w", r.Start, r.End, ErrInvalidSerialRange)
	}
	return nil
}

// AllocationPolicy bounds the compare-and-swap retry loop of the counters
type AllocationPolicy struct {
	MaxRetries     uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultAllocationPolicy is used when no policy is configured
func DefaultAllocationPolicy() AllocationPolicy {
	return AllocationPolicy{MaxRetries: 8, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 500 * time.Millisecond}
}

func (p AllocationPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	return b
}

// SQLSTATE codes a fresh transaction can get past
var transientSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"23505": true, // unique_violation, a concurrent writer took the key
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled by statement_timeout
}

// isRetryable reports whether err may succeed when the transaction is run
// again. Exhausted capacity and invalid input are final, as are data and
// constraint errors other than a unique violation.
func isRetryable(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		IsCapacityExhausted(err),
		errors.Is(err, ErrInvalidSerialRange):
		return false
	case errors.Is(err, ErrConcurrentAllocationConflict):
		return true
	}
	var be *BusinessError
	if errors.As(err, &be) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if transientSQLStates[pgErr.Code] {
			return true
		}
		if len(pgErr.Code) >= 2 {
			switch pgErr.Code[:2] {
			case "22", "23", "42":
				return false
			}
		}
	}
	return true
}

// withAllocationRetry runs fn in a transaction and retries it with exponential
// backoff. Lost compare-and-swap races are retried in place. Other retryable
// failures are retried only when this call owns the transaction, since a
// failed statement aborts the whole PostgreSQL transaction.
func withAllocationRetry[T any](
	ctx context.Context,
	tx repository.Transactor,
	p AllocationPolicy,
	kind string,
	logger *zap.Logger,
	fn func(txCtx context.Context) (T, error),
) (T, error) {
	maxTries := p.MaxRetries
	if maxTries == 0 {
		maxTries = DefaultAllocationPolicy().MaxRetries
	}
	owner := !tx.InTransaction(ctx)
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		var out T
		err := tx.WithTransaction(ctx, func(txCtx context.Context) error {
			var err error
			out, err = fn(txCtx)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrConcurrentAllocationConflict):
			allocationConflictsTotal.WithLabelValues(kind).Inc()
			logger.Debug("allocation conflict, retrying", zap.String("counter", kind), zap.Int("attempt", attempt))
			return out, err
		case owner && isRetryable(err):
			transactionRetriesTotal.WithLabelValues(kind).Inc()
			logger.Warn("transient storage failure, retrying",
				zap.String("operation", kind),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return out, err
		}
		return out, backoff.Permanent(err)
	}, backoff.WithBackOff(p.backOff()), backoff.WithMaxTries(maxTries))
}

// advanceCounter reserves n values on a counter row with one compare-and-swap
// and returns the value the counter held before. seed provides the initial
// value when the row does not exist yet; limit, when positive, is the highest
// value the counter may reach.
func advanceCounter(
	ctx context.Context,
	counters repository.SequenceCounterRepository,
	name string,
	n int64,
	limit int64,
	seed func(context.Context) (int64, error),
) (int64, error) {
	row, err := counters.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	if row == nil {
		initial, err := seed(ctx)
		if err != nil {
			return 0, err
		}
		if err := counters.Ensure(ctx, name, initial); err != nil {
			return 0, err
		}
		if row, err = counters.Get(ctx, name); err != nil {
			return 0, err
		}
		if row == nil {
			return 0, fmt.Errorf("counter %s: %w", name, ErrConcurrentAllocationConflict)
		}
	}

	last := row.LastValue
	if limit > 0 && last+n > limit {
		remaining := limit - last
		if remaining < 0 {
			remaining = 0
		}
		return 0, &CapacityExhaustedError{Requested: n, Remaining: remaining}
	}

	ok, err := counters.CompareAndSwap(ctx, name, last, last+n)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("counter %s at %d: %w", name, last, ErrConcurrentAllocationConflict)
	}
	return last, nil
}

// SerialLedger hands out unique serial numbers and tracks their lifecycle
type SerialLedger interface {
	Reserve(ctx context.Context, batchID *uint, count int) (SerialRange, error)
	Confirm(ctx context.Context, r SerialRange) (int64, error)
	Void(ctx context.Context, r SerialRange) (int64, error)
	ConfirmSerials(ctx context.Context, serials []int64) (int64, error)
	VoidSerials(ctx context.Context, serials []int64) (int64, error)
	Lookup(ctx context.Context, serial int64) (*models.SerialNumber, error)
}

// SerialLedgerImpl implements SerialLedger on the sequence counter row "serial_number"
type SerialLedgerImpl struct {
	counters repository.SequenceCounterRepository
	serials  repository.SerialNumberRepository
	tx       repository.Transactor
	policy   AllocationPolicy
	logger   *zap.Logger
}

func NewSerialLedger(
	counters repository.SequenceCounterRepository,
	serials repository.SerialNumberRepository,
	tx repository.Transactor,
	policy AllocationPolicy,
	logger *zap.Logger,
) SerialLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SerialLedgerImpl{counters: counters, serials: serials, tx: tx, policy: policy, logger: logger}
}

// Reserve allocates count contiguous serials after the highest serial ever issued
func (l *SerialLedgerImpl) Reserve(ctx context.Context, batchID *uint, count int) (SerialRange, error) {
	if count <= 0 {
		return SerialRange{}, fmt.Errorf("count %d: %w", count, ErrInvalidSerialRange)
	}
	n := int64(count)

	r, err := withAllocationRetry(ctx, l.tx, l.policy, counterKindSerial, l.logger, func(txCtx context.Context) (SerialRange, error) {
		last, err := advanceCounter(txCtx, l.counters, models.SerialNumberCounter, n, models.MaxSerial, l.serials.MaxSerial)
		if err != nil {
			return SerialRange{}, err
		}
		out := SerialRange{Start: last + 1, End: last + n}
		return out, l.serials.SaveBatch(txCtx, models.NewReservedSerials(out.Start, out.End, batchID))
	})
	if err != nil {
		return SerialRange{}, fmt.Errorf("reserve %d serials: %w", count, err)
	}

	serialsReservedTotal.Add(float64(n))
	l.logger.Info("serials reserved",
		zap.Int64("start", r.Start),
		zap.Int64("end", r.End),
		zap.Int("count", count),
	)
	return r, nil
}

// Confirm marks reserved serials in r as engraved and returns how many moved
func (l *SerialLedgerImpl) Confirm(ctx context.Context, r SerialRange) (int64, error) {
	return l.transitionRange(ctx, r, models.SerialStatusEngraved)
}

// Void marks reserved serials in r as voided and returns how many moved
func (l *SerialLedgerImpl) Void(ctx context.Context, r SerialRange) (int64, error) {
	return l.transitionRange(ctx, r, models.SerialStatusVoided)
}

func (l *SerialLedgerImpl) transitionRange(ctx context.Context, r SerialRange, to models.SerialStatus) (int64, error) {
	if err := r.validate(); err != nil {
		return 0, err
	}
	n, err := l.serials.UpdateStatusInRange(ctx, r.Start, r.End, models.SerialStatusReserved, to, utils.UTCNow())
	if err != nil {
		return 0, err
	}
	if skipped := r.Count() - n; skipped > 0 {
		l.logger.Warn("serials not in reserved state left untouched",
			zap.Int64("start", r.Start),
			zap.Int64("end", r.End),
			zap.String("target", to.String()),
			zap.Int64("skipped", skipped),
		)
	}
	return n, nil
}

// ConfirmSerials marks the listed reserved serials as engraved
func (l *SerialLedgerImpl) ConfirmSerials(ctx context.Context, serials []int64) (int64, error) {
	return l.serials.UpdateStatusBySerials(ctx, serials, models.SerialStatusReserved, models.SerialStatusEngraved, utils.UTCNow())
}

// VoidSerials marks the listed reserved serials as voided
func (l *SerialLedgerImpl) VoidSerials(ctx context.Context, serials []int64) (int64, error) {
	return l.serials.UpdateStatusBySerials(ctx, serials, models.SerialStatusReserved, models.SerialStatusVoided, utils.UTCNow())
}

// Lookup returns the ledger entry for serial
func (l *SerialLedgerImpl) Lookup(ctx context.Context, serial int64) (*models.SerialNumber, error) {
	if serial < models.MinSerial || serial > models.MaxSerial {
		return nil, fmt.Errorf("serial %d: %w", serial, ErrInvalidSerialRange)
	}
	row, err := l.serials.BySerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("serial %s: %w", models.FormatSerial(serial), ErrSerialNotFound)
	}
	return row, nil
}
