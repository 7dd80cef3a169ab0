package businessflow

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/placement"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var errDuplicate = errors.New("duplicate key value violates unique constraint")

type memTxKey struct{}

type memData struct {
	nextID       uint
	counters     map[string]int64
	serials      map[int64]models.SerialNumber
	batches      map[uint]models.EngravingBatch
	rows         map[uint]models.ModuleRow
	identifiers  map[uint]models.QsaIdentifier
	configs      map[uint]models.ElementConfig
	calibrations map[string]models.ArrayCalibration
}

func (d memData) clone() memData {
	return memData{
		nextID:       d.nextID,
		counters:     maps.Clone(d.counters),
		serials:      maps.Clone(d.serials),
		batches:      maps.Clone(d.batches),
		rows:         maps.Clone(d.rows),
		identifiers:  maps.Clone(d.identifiers),
		configs:      maps.Clone(d.configs),
		calibrations: maps.Clone(d.calibrations),
	}
}

// memStore is an in-memory database. Outermost transactions are serialized and
// roll back to a snapshot on error; nested ones join the outer transaction.
// With interleave set, outer transactions run concurrently and never roll back,
// so only CompareAndSwap keeps concurrent writers apart.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data memData

	interleave bool
	// afterCounterGet runs after every counter read, outside the store lock.
	afterCounterGet func(name string)

	// casFailures forces the next CompareAndSwap calls to lose their race.
	casFailures int
	// casLost counts CompareAndSwap calls whose expected value was stale.
	casLost int
	// duplicates counts serial inserts rejected as already taken.
	duplicates int
}

func newMemStore() *memStore {
	return &memStore{data: memData{
		counters:     map[string]int64{},
		serials:      map[int64]models.SerialNumber{},
		batches:      map[uint]models.EngravingBatch{},
		rows:         map[uint]models.ModuleRow{},
		identifiers:  map[uint]models.QsaIdentifier{},
		configs:      map[uint]models.ElementConfig{},
		calibrations: map[string]models.ArrayCalibration{},
	}}
}

func (s *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.InTransaction(ctx) {
		return fn(ctx)
	}
	if s.interleave {
		return fn(context.WithValue(ctx, memTxKey{}, true))
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.data.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = snap
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) InTransaction(ctx context.Context) bool {
	return ctx.Value(memTxKey{}) != nil
}

func (s *memStore) id() uint {
	s.data.nextID++
	return s.data.nextID
}

// ---- sequence counters

type memCounterRepo struct{ s *memStore }

func (r memCounterRepo) Get(ctx context.Context, name string) (*models.SequenceCounter, error) {
	r.s.mu.Lock()
	v, ok := r.s.data.counters[name]
	hook := r.s.afterCounterGet
	r.s.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	if !ok {
		return nil, nil
	}
	return &models.SequenceCounter{Name: name, LastValue: v}, nil
}

func (r memCounterRepo) Ensure(ctx context.Context, name string, initial int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.counters[name]; !ok {
		r.s.data.counters[name] = initial
	}
	return nil
}

func (r memCounterRepo) CompareAndSwap(ctx context.Context, name string, expected, next int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.casFailures > 0 {
		r.s.casFailures--
		return false, nil
	}
	if cur, ok := r.s.data.counters[name]; !ok || cur != expected {
		r.s.casLost++
		return false, nil
	}
	r.s.data.counters[name] = next
	return true, nil
}

// ---- serial numbers

type memSerialRepo struct{ s *memStore }

func matchSerial(f models.SerialNumberFilter, e models.SerialNumber) bool {
	switch {
	case f.Serial != nil && e.Serial != *f.Serial,
		f.BatchID != nil && (e.BatchID == nil || *e.BatchID != *f.BatchID),
		f.Status != nil && e.Status != *f.Status,
		f.FromSerial != nil && e.Serial < *f.FromSerial,
		f.ToSerial != nil && e.Serial > *f.ToSerial:
		return false
	}
	return true
}

func (r memSerialRepo) ByID(ctx context.Context, id uint) (*models.SerialNumber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.data.serials {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, nil
}

func (r memSerialRepo) ByFilter(ctx context.Context, f models.SerialNumberFilter, orderBy string, limit, offset int) ([]*models.SerialNumber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.SerialNumber
	for _, e := range r.s.data.serials {
		if matchSerial(f, e) {
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Serial < out[b].Serial })
	return page(out, limit, offset), nil
}

func (r memSerialRepo) Save(ctx context.Context, e *models.SerialNumber) error {
	return r.SaveBatch(ctx, []*models.SerialNumber{e})
}

func (r memSerialRepo) SaveBatch(ctx context.Context, es []*models.SerialNumber) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range es {
		if _, ok := r.s.data.serials[e.Serial]; ok {
			r.s.duplicates++
			return errDuplicate
		}
	}
	for _, e := range es {
		e.ID = r.s.id()
		r.s.data.serials[e.Serial] = *e
	}
	return nil
}

func (r memSerialRepo) Count(ctx context.Context, f models.SerialNumberFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r memSerialRepo) Exists(ctx context.Context, f models.SerialNumberFilter) (bool, error) {
	n, err := r.Count(ctx, f)
	return n > 0, err
}

func (r memSerialRepo) BySerial(ctx context.Context, serial int64) (*models.SerialNumber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.data.serials[serial]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r memSerialRepo) MaxSerial(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var m int64
	for s := range r.s.data.serials {
		m = max(m, s)
	}
	return m, nil
}

func (r memSerialRepo) transition(e *models.SerialNumber, to models.SerialStatus, at time.Time) {
	e.Status = to
	switch to {
	case models.SerialStatusEngraved:
		e.EngravedAt = &at
	case models.SerialStatusVoided:
		e.VoidedAt = &at
	}
}

func (r memSerialRepo) UpdateStatusInRange(ctx context.Context, start, end int64, from, to models.SerialStatus, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for s, e := range r.s.data.serials {
		if s >= start && s <= end && e.Status == from {
			r.transition(&e, to, at)
			r.s.data.serials[s] = e
			n++
		}
	}
	return n, nil
}

func (r memSerialRepo) UpdateStatusBySerials(ctx context.Context, serials []int64, from, to models.SerialStatus, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, s := range serials {
		e, ok := r.s.data.serials[s]
		if ok && e.Status == from {
			r.transition(&e, to, at)
			r.s.data.serials[s] = e
			n++
		}
	}
	return n, nil
}

// ---- batches

type memBatchRepo struct{ s *memStore }

func (r memBatchRepo) ByID(ctx context.Context, id uint) (*models.EngravingBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.data.batches[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r memBatchRepo) ByFilter(ctx context.Context, f models.EngravingBatchFilter, orderBy string, limit, offset int) ([]*models.EngravingBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.EngravingBatch
	for _, b := range r.s.data.batches {
		if (f.ID != nil && b.ID != *f.ID) || (f.UUID != nil && b.UUID != *f.UUID) || (f.Status != nil && b.Status != *f.Status) {
			continue
		}
		out = append(out, &b)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return page(out, limit, offset), nil
}

func (r memBatchRepo) Save(ctx context.Context, b *models.EngravingBatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := b.BeforeCreate(nil); err != nil {
		return err
	}
	b.ID = r.s.id()
	r.s.data.batches[b.ID] = *b
	return nil
}

func (r memBatchRepo) SaveBatch(ctx context.Context, bs []*models.EngravingBatch) error {
	for _, b := range bs {
		if err := r.Save(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (r memBatchRepo) Count(ctx context.Context, f models.EngravingBatchFilter) (int64, error) {
	out, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(out)), nil
}

func (r memBatchRepo) Exists(ctx context.Context, f models.EngravingBatchFilter) (bool, error) {
	n, err := r.Count(ctx, f)
	return n > 0, err
}

func (r memBatchRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.EngravingBatch, error) {
	out, _ := r.ByFilter(ctx, models.EngravingBatchFilter{UUID: &id}, "", 1, 0)
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r memBatchRepo) ByUUIDForUpdate(ctx context.Context, id uuid.UUID) (*models.EngravingBatch, error) {
	return r.ByUUID(ctx, id)
}

func (r memBatchRepo) Update(ctx context.Context, b *models.EngravingBatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.batches[b.ID]; !ok {
		return errors.New("batch does not exist")
	}
	_ = b.BeforeUpdate(nil)
	r.s.data.batches[b.ID] = *b
	return nil
}

// ---- module rows

type memRowRepo struct{ s *memStore }

func matchRow(f models.ModuleRowFilter, m models.ModuleRow) bool {
	switch {
	case f.ID != nil && m.ID != *f.ID,
		f.BatchID != nil && m.BatchID != *f.BatchID,
		f.ArraySequence != nil && m.ArraySequence != *f.ArraySequence,
		f.OriginalArraySequence != nil && m.OriginalArraySequence != *f.OriginalArraySequence,
		f.Status != nil && m.Status != *f.Status,
		f.Serial != nil && m.Serial != *f.Serial,
		f.Design != nil && m.Design != *f.Design:
		return false
	}
	return true
}

func (r memRowRepo) ByID(ctx context.Context, id uint) (*models.ModuleRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.data.rows[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r memRowRepo) ByFilter(ctx context.Context, f models.ModuleRowFilter, orderBy string, limit, offset int) ([]*models.ModuleRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ModuleRow
	for _, m := range r.s.data.rows {
		if matchRow(f, m) {
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].ArraySequence != out[b].ArraySequence {
			return out[a].ArraySequence < out[b].ArraySequence
		}
		if out[a].SlotPosition != out[b].SlotPosition {
			return out[a].SlotPosition < out[b].SlotPosition
		}
		return out[a].ID < out[b].ID
	})
	return page(out, limit, offset), nil
}

func (r memRowRepo) Save(ctx context.Context, m *models.ModuleRow) error {
	return r.SaveBatch(ctx, []*models.ModuleRow{m})
}

func (r memRowRepo) SaveBatch(ctx context.Context, ms []*models.ModuleRow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range ms {
		for _, existing := range r.s.data.rows {
			if existing.Serial == m.Serial {
				return errDuplicate
			}
		}
	}
	for _, m := range ms {
		_ = m.BeforeCreate(nil)
		m.ID = r.s.id()
		r.s.data.rows[m.ID] = *m
	}
	return nil
}

func (r memRowRepo) Count(ctx context.Context, f models.ModuleRowFilter) (int64, error) {
	out, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(out)), nil
}

func (r memRowRepo) Exists(ctx context.Context, f models.ModuleRowFilter) (bool, error) {
	n, err := r.Count(ctx, f)
	return n > 0, err
}

func (r memRowRepo) ListByBatch(ctx context.Context, batchID uint) ([]*models.ModuleRow, error) {
	return r.ByFilter(ctx, models.ModuleRowFilter{BatchID: &batchID}, "", 0, 0)
}

func (r memRowRepo) ListByArray(ctx context.Context, batchID uint, arraySequence int) ([]*models.ModuleRow, error) {
	return r.ByFilter(ctx, models.ModuleRowFilter{BatchID: &batchID, ArraySequence: &arraySequence}, "", 0, 0)
}

func (r memRowRepo) ListByOriginalArray(ctx context.Context, batchID uint) (map[int][]*models.ModuleRow, error) {
	rows, _ := r.ListByBatch(ctx, batchID)
	out := make(map[int][]*models.ModuleRow)
	for _, m := range rows {
		out[m.OriginalArraySequence] = append(out[m.OriginalArraySequence], m)
	}
	return out, nil
}

func (r memRowRepo) UpdatePlacement(ctx context.Context, id uint, arraySequence, slotPosition int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.data.rows[id]
	if !ok {
		return errors.New("row does not exist")
	}
	m.ArraySequence, m.SlotPosition = arraySequence, slotPosition
	r.s.data.rows[id] = m
	return nil
}

func (r memRowRepo) UpdateStatus(ctx context.Context, ids []uint, from, to models.ModuleRowStatus) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		m, ok := r.s.data.rows[id]
		if ok && m.Status == from {
			m.Status = to
			r.s.data.rows[id] = m
			n++
		}
	}
	return n, nil
}

// ---- identifiers

type memIdentifierRepo struct{ s *memStore }

func (r memIdentifierRepo) ByBatchArray(ctx context.Context, batchID uint, arraySequence int) (*models.QsaIdentifier, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, q := range r.s.data.identifiers {
		if q.BatchID == batchID && q.ArraySequence == arraySequence {
			return &q, nil
		}
	}
	return nil, nil
}

func (r memIdentifierRepo) ListByBatch(ctx context.Context, batchID uint) ([]*models.QsaIdentifier, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.QsaIdentifier
	for _, q := range r.s.data.identifiers {
		if q.BatchID == batchID {
			out = append(out, &q)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ArraySequence < out[b].ArraySequence })
	return out, nil
}

func (r memIdentifierRepo) Save(ctx context.Context, q *models.QsaIdentifier) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.data.identifiers {
		if existing.Identifier == q.Identifier || (existing.BatchID == q.BatchID && existing.ArraySequence == q.ArraySequence) {
			return errDuplicate
		}
	}
	q.ID = r.s.id()
	r.s.data.identifiers[q.ID] = *q
	return nil
}

// ---- element configs

type memConfigRepo struct{ s *memStore }

func matchConfig(f models.ElementConfigFilter, c models.ElementConfig) bool {
	switch {
	case f.Design != nil && c.Design != *f.Design,
		f.Revision != nil && (c.Revision == nil || *c.Revision != *f.Revision),
		f.Position != nil && c.Position != *f.Position,
		f.ElementType != nil && c.ElementType != *f.ElementType,
		f.IsActive != nil && c.IsActive != *f.IsActive:
		return false
	}
	return true
}

func (r memConfigRepo) ByID(ctx context.Context, id uint) (*models.ElementConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.data.configs[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r memConfigRepo) ByFilter(ctx context.Context, f models.ElementConfigFilter, orderBy string, limit, offset int) ([]*models.ElementConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ElementConfig
	for _, c := range r.s.data.configs {
		if matchConfig(f, c) {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Position != out[b].Position {
			return out[a].Position < out[b].Position
		}
		if out[a].ElementType != out[b].ElementType {
			return out[a].ElementType < out[b].ElementType
		}
		return out[a].ID < out[b].ID
	})
	return page(out, limit, offset), nil
}

func (r memConfigRepo) Save(ctx context.Context, c *models.ElementConfig) error {
	return r.SaveBatch(ctx, []*models.ElementConfig{c})
}

func (r memConfigRepo) SaveBatch(ctx context.Context, cs []*models.ElementConfig) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range cs {
		_ = c.BeforeCreate(nil)
		c.ID = r.s.id()
		r.s.data.configs[c.ID] = *c
	}
	return nil
}

func (r memConfigRepo) Count(ctx context.Context, f models.ElementConfigFilter) (int64, error) {
	out, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(out)), nil
}

func (r memConfigRepo) Exists(ctx context.Context, f models.ElementConfigFilter) (bool, error) {
	n, err := r.Count(ctx, f)
	return n > 0, err
}

func (r memConfigRepo) ListActiveByDesigns(ctx context.Context, designs []string) ([]*models.ElementConfig, error) {
	var out []*models.ElementConfig
	active := true
	for _, d := range designs {
		rows, _ := r.ByFilter(ctx, models.ElementConfigFilter{Design: &d, IsActive: &active}, "", 0, 0)
		out = append(out, rows...)
	}
	return out, nil
}

func (r memConfigRepo) DeactivateTuple(ctx context.Context, design string, revision *string, position int, t models.ElementType) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, c := range r.s.data.configs {
		if !c.IsActive || c.Design != design || c.Position != position || c.ElementType != t {
			continue
		}
		if models.RevisionLabel(c.Revision) != models.RevisionLabel(revision) {
			continue
		}
		c.IsActive = false
		r.s.data.configs[id] = c
		n++
	}
	return n, nil
}

// ---- calibrations

type memCalibrationRepo struct{ s *memStore }

func (r memCalibrationRepo) ByDesign(ctx context.Context, design string) (*models.ArrayCalibration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.data.calibrations[models.NormalizeDesign(design)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r memCalibrationRepo) Upsert(ctx context.Context, c *models.ArrayCalibration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c.UpdatedAt = time.Now().UTC()
	r.s.data.calibrations[c.Design] = *c
	return nil
}

func page[T any](rows []*T, limit, offset int) []*T {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// ---- wiring

type testEnv struct {
	store     *memStore
	ledger    SerialLedger
	allocator DesignSequenceAllocator
	placement PlacementFlow
	batches   BatchFlow
	decoder   DecodeFlow
	configs   ElementConfigFlow
}

func testPolicy() AllocationPolicy {
	return AllocationPolicy{MaxRetries: 5, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithSerials(t, func(r memSerialRepo) repository.SerialNumberRepository { return r })
}

// newTestEnvWithSerials builds a test env whose ledger stores serials through
// the repository wrap returns
func newTestEnvWithSerials(t *testing.T, wrap func(memSerialRepo) repository.SerialNumberRepository) *testEnv {
	t.Helper()
	s := newMemStore()
	counters := memCounterRepo{s}
	serials := wrap(memSerialRepo{s})
	batches := memBatchRepo{s}
	rows := memRowRepo{s}
	ids := memIdentifierRepo{s}
	configs := memConfigRepo{s}

	ledger := NewSerialLedger(counters, serials, s, testPolicy(), nil)
	allocator := NewDesignSequenceAllocator(counters, ids, s, testPolicy(), nil)
	placementFlow := NewPlacementFlow(configs, memCalibrationRepo{s}, nil, 0, placement.DefaultCanvas(), nil)

	return &testEnv{
		store:     s,
		ledger:    ledger,
		allocator: allocator,
		placement: placementFlow,
		batches:   NewBatchFlow(s, batches, rows, ids, ledger, allocator, placementFlow, 8, testPolicy(), nil),
		decoder:   NewDecodeFlow(ledger, rows, batches, nil, nil, nil),
		configs:   NewElementConfigFlow(s, configs, placementFlow, nil),
	}
}

// seedDesign stores a complete placement table for design: slot elements on
// positions 1-8 at x = 10*pos, y = 20 and array elements at position 0.
func (e *testEnv) seedDesign(t *testing.T, design string) {
	t.Helper()
	repo := memConfigRepo{e.store}
	height := 1.0
	size := 1.2
	var cs []*models.ElementConfig
	for pos := 1; pos <= 8; pos++ {
		for _, et := range []models.ElementType{models.ElementTypeMicroID, models.ElementTypeSerialText, models.ElementTypeLEDCode} {
			c := &models.ElementConfig{Design: design, Position: pos, ElementType: et, OriginX: float64(10 * pos), OriginY: 20, Rotation: 90, IsActive: true}
			if et.IsText() {
				c.TextHeight = &height
			} else {
				c.ElementSize = &size
			}
			cs = append(cs, c)
		}
	}
	for _, et := range models.ArrayElementTypes {
		cs = append(cs, &models.ElementConfig{Design: design, Position: models.ArrayLevelPosition, ElementType: et, OriginX: 100, OriginY: 5, ElementSize: &size, IsActive: true})
	}
	require.NoError(t, repo.SaveBatch(context.Background(), cs))
}

func (e *testEnv) counts() (batches, rows, serials, identifiers int) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	return len(e.store.data.batches), len(e.store.data.rows), len(e.store.data.serials), len(e.store.data.identifiers)
}

func businessCode(t *testing.T, err error) string {
	t.Helper()
	var be *BusinessError
	require.ErrorAs(t, err, &be)
	return be.Code
}
