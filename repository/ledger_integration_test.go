package repository_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	testingutil "github.com/amirphl/Kusanagi/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_ParallelReservationsAreDisjoint(t *testing.T) {
	tdb := testingutil.SetupTestDB(t)
	ctx := context.Background()

	ledger := businessflow.NewSerialLedger(
		repository.NewSequenceCounterRepository(tdb.DB),
		repository.NewSerialNumberRepository(tdb.DB),
		repository.NewTransactor(tdb.DB),
		businessflow.AllocationPolicy{MaxRetries: 50, InitialBackoff: time.Millisecond, MaxBackoff: 20 * time.Millisecond},
		nil,
	)

	const workers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ranges []businessflow.SerialRange
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := ledger.Reserve(ctx, nil, i+1)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ranges = append(ranges, r)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, ranges, workers)
	sort.Slice(ranges, func(a, b int) bool { return ranges[a].Start < ranges[b].Start })
	for i := 1; i < len(ranges); i++ {
		assert.Equal(t, ranges[i-1].End+1, ranges[i].Start, "ranges %v and %v", ranges[i-1], ranges[i])
	}
	assert.Equal(t, int64(1), ranges[0].Start)
	assert.Equal(t, int64(workers*(workers+1)/2), ranges[workers-1].End)
}

func TestPostgres_BatchArrayFaultsRoundTrip(t *testing.T) {
	tdb := testingutil.SetupTestDB(t)
	ctx := context.Background()
	repo := repository.NewEngravingBatchRepository(tdb.DB)

	batch, err := testingutil.NewTestFixtures(tdb).CreateTestBatch(1, 16)
	require.NoError(t, err)

	batch.ArrayFaults = models.ArrayFaults{2: {3, 5}}
	require.NoError(t, repo.Update(ctx, batch))

	stored, err := repo.ByUUID(ctx, batch.UUID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.ArrayFaults{2: {3, 5}}, stored.ArrayFaults)
}
