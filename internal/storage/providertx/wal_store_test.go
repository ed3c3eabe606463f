package providertx

import (
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defybank/rails/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err, "Failed to open store")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsert_CreateThenReplay(t *testing.T) {
	s := newTestStore(t)

	args := UpsertArgs{
		Provider:      "pix",
		Kind:          domain.TxKindDeposit,
		ExternalID:    "tx-1",
		Status:        domain.TxStatusStarted,
		UserID:        "user-1",
		AmountInMinor: big.NewInt(1050),
		AssetCode:     "BRL",
	}

	id, err := s.Upsert(args)
	require.NoError(t, err, "First upsert failed")
	require.NotEmpty(t, id, "Record id must not be empty")

	// the exact same observation replayed N times converges on one record
	for i := 0; i < 5; i++ {
		again, err := s.Upsert(args)
		require.NoError(t, err, "Replayed upsert failed")
		assert.Equal(t, id, again, "Replay must return the same record id")
	}

	rec := s.Get("pix", "tx-1")
	require.NotNil(t, rec, "Record not found")
	assert.Equal(t, domain.TxStatusStarted, rec.Status, "Status mismatch")
	assert.Equal(t, "1050", rec.AmountInMinor.String(), "Amount mismatch")
}

func TestUpsert_StatusAdvances(t *testing.T) {
	s := newTestStore(t)

	base := UpsertArgs{
		Provider:   "pix",
		Kind:       domain.TxKindDeposit,
		ExternalID: "tx-adv",
		Status:     domain.TxStatusStarted,
	}
	_, err := s.Upsert(base)
	require.NoError(t, err, "Create failed")

	base.Status = domain.TxStatusPending
	_, err = s.Upsert(base)
	require.NoError(t, err, "Advance to pending failed")

	base.Status = domain.TxStatusCompleted
	_, err = s.Upsert(base)
	require.NoError(t, err, "Advance to completed failed")

	assert.Equal(t, domain.TxStatusCompleted, s.Get("pix", "tx-adv").Status, "Final status mismatch")
}

func TestUpsert_SkipForwardAllowed(t *testing.T) {
	s := newTestStore(t)

	args := UpsertArgs{
		Provider:   "pix",
		Kind:       domain.TxKindWithdraw,
		ExternalID: "tx-skip",
		Status:     domain.TxStatusStarted,
	}
	_, err := s.Upsert(args)
	require.NoError(t, err, "Create failed")

	// started -> completed without pending in between
	args.Status = domain.TxStatusCompleted
	_, err = s.Upsert(args)
	require.NoError(t, err, "Skip-forward transition must be allowed")
}

func TestUpsert_RegressionConflicts(t *testing.T) {
	s := newTestStore(t)

	args := UpsertArgs{
		Provider:   "pix",
		Kind:       domain.TxKindDeposit,
		ExternalID: "tx-reg",
		Status:     domain.TxStatusCompleted,
	}
	_, err := s.Upsert(args)
	require.NoError(t, err, "Create failed")

	args.Status = domain.TxStatusPending
	_, err = s.Upsert(args)
	assert.ErrorIs(t, err, domain.ErrLedgerConflict, "Status regression must conflict")

	args.Status = domain.TxStatusFailed
	_, err = s.Upsert(args)
	assert.ErrorIs(t, err, domain.ErrLedgerConflict, "Leaving a terminal status must conflict")

	// record unchanged after the rejected writes
	assert.Equal(t, domain.TxStatusCompleted, s.Get("pix", "tx-reg").Status, "Rejected upsert must not change the record")
}

func TestUpsert_KindMismatchConflicts(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Upsert(UpsertArgs{
		Provider:   "pix",
		Kind:       domain.TxKindDeposit,
		ExternalID: "tx-kind",
		Status:     domain.TxStatusStarted,
	})
	require.NoError(t, err, "Create failed")

	_, err = s.Upsert(UpsertArgs{
		Provider:   "pix",
		Kind:       domain.TxKindWithdraw,
		ExternalID: "tx-kind",
		Status:     domain.TxStatusPending,
	})
	assert.ErrorIs(t, err, domain.ErrLedgerConflict, "Kind mismatch must conflict")
}

func TestUpsert_MergeKeepsEarlierFields(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Upsert(UpsertArgs{
		Provider:       "pix",
		Kind:           domain.TxKindDeposit,
		ExternalID:     "tx-merge",
		Status:         domain.TxStatusStarted,
		UserID:         "user-1",
		InteractiveURL: "https://pay/qr",
		Metadata:       map[string]string{"a": "1"},
	})
	require.NoError(t, err, "Create failed")

	_, err = s.Upsert(UpsertArgs{
		Provider:       "pix",
		Kind:           domain.TxKindDeposit,
		ExternalID:     "tx-merge",
		Status:         domain.TxStatusPending,
		AmountOutMinor: big.NewInt(2_000_000),
		Metadata:       map[string]string{"b": "2"},
	})
	require.NoError(t, err, "Merge upsert failed")

	rec := s.Get("pix", "tx-merge")
	require.NotNil(t, rec, "Record not found")
	assert.Equal(t, "user-1", rec.UserID, "Empty incoming field must not erase the stored one")
	assert.Equal(t, "https://pay/qr", rec.InteractiveURL, "Interactive URL lost on merge")
	assert.Equal(t, "2000000", rec.AmountOutMinor.String(), "Amount out not merged")
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, rec.Metadata, "Metadata must merge key-wise")
}

func TestUpsert_ConcurrentSameKey(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Upsert(UpsertArgs{
				Provider:   "pix",
				Kind:       domain.TxKindDeposit,
				ExternalID: "tx-conc",
				Status:     domain.TxStatusStarted,
				Metadata:   map[string]string{fmt.Sprintf("k%d", n): "v"},
			})
			assert.NoError(t, err, "Concurrent upsert failed")
		}(i)
	}
	wg.Wait()

	rec := s.Get("pix", "tx-conc")
	require.NotNil(t, rec, "Record not found")
	assert.Len(t, rec.Metadata, 20, "All metadata writes must land")
}

func TestStore_ReopenReplaysWAL(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(dir)
	require.NoError(t, err, "Failed to open store")

	_, err = s.Upsert(UpsertArgs{
		Provider:      "pix",
		Kind:          domain.TxKindDeposit,
		ExternalID:    "tx-replay",
		Status:        domain.TxStatusCompleted,
		AmountInMinor: big.NewInt(1050),
	})
	require.NoError(t, err, "Upsert failed")
	require.NoError(t, s.Close(), "Close failed")

	reopened, err := NewStore(dir)
	require.NoError(t, err, "Reopen failed")
	defer reopened.Close()

	rec := reopened.Get("pix", "tx-replay")
	require.NotNil(t, rec, "Record lost across restart")
	assert.Equal(t, domain.TxStatusCompleted, rec.Status, "Status lost across restart")
	assert.Equal(t, "1050", rec.AmountInMinor.String(), "Amount lost across restart")
}

func TestGet_UnknownPairIsNil(t *testing.T) {
	s := newTestStore(t)
	assert.Nil(t, s.Get("pix", "never-seen"), "Unknown pair must yield nil")
}

func TestList_FiltersByProvider(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.Upsert(UpsertArgs{
			Provider:   "pix",
			Kind:       domain.TxKindDeposit,
			ExternalID: fmt.Sprintf("tx-%d", i),
			Status:     domain.TxStatusStarted,
		})
		require.NoError(t, err, "Upsert failed")
	}
	_, err := s.Upsert(UpsertArgs{
		Provider:   "other",
		Kind:       domain.TxKindDeposit,
		ExternalID: "tx-x",
		Status:     domain.TxStatusStarted,
	})
	require.NoError(t, err, "Upsert failed")

	assert.Len(t, s.List("pix"), 3, "List must filter by provider")
	assert.Len(t, s.List("other"), 1, "List must filter by provider")
}
