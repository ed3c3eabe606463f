// Package providertx is the idempotent ledger of external-provider
// operations, keyed by (provider, external id). It is the dedup boundary
// against provider webhook retries: every upsert must be safe to replay.
package providertx

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/defybank/rails/internal/domain"
)

const (
	DefaultDir   = "./wal/providertx"
	segmentLimit = 1000
	maxSegments  = 100
)

// UpsertArgs carries one observed state of a provider operation. Optional
// fields left zero/nil never overwrite previously stored values.
type UpsertArgs struct {
	Provider       string
	Kind           domain.TxKind
	ExternalID     string
	Status         domain.TxStatus
	UserID         string
	AmountInMinor  *big.Int
	AmountOutMinor *big.Int
	AssetCode      string
	AssetIssuer    string
	InteractiveURL string
	Metadata       map[string]string
}

// Store persists provider transactions in a WAL and keeps the latest
// record per key in memory. The mutex is the atomic-upsert enforcement
// point: two upserts racing on one key serialize and cannot corrupt the
// record.
type Store struct {
	wal   *gowal.Wal
	mu    sync.Mutex
	byKey map[string]*domain.ProviderTx
	now   func() time.Time
}

// NewStore opens the ledger, replaying the WAL to rebuild the index.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "providertx_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init provider tx WAL")
	}

	s := &Store{
		wal:   wal,
		byKey: make(map[string]*domain.ProviderTx),
		now:   time.Now,
	}

	for idx := uint64(1); idx <= wal.CurrentIndex(); idx++ {
		key, payload, err := wal.Get(idx)
		if err != nil {
			continue
		}
		var rec domain.ProviderTx
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, errors.Wrapf(err, "decode provider tx at WAL index %d", idx)
		}
		s.byKey[key] = &rec
	}

	return s, nil
}

// Upsert records one observed state of a provider operation and returns
// the stable record id. The first call for a (provider, externalID) pair
// creates the record; later calls merge into it: non-empty incoming
// fields overwrite last-write-wins, status only advances through the
// lifecycle. Contradictory input surfaces ErrLedgerConflict and changes
// nothing.
func (s *Store) Upsert(args UpsertArgs) (string, error) {
	if s == nil || s.wal == nil {
		return "", errors.New("provider tx store is not initialized")
	}
	if args.Provider == "" || args.ExternalID == "" {
		return "", fmt.Errorf("provider and external id are required")
	}
	if !args.Kind.Valid() {
		return "", fmt.Errorf("unknown provider tx kind %q", args.Kind)
	}
	if !args.Status.Valid() {
		return "", fmt.Errorf("unknown provider tx status %q", args.Status)
	}

	key := args.Provider + "/" + args.ExternalID

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byKey[key]
	var rec *domain.ProviderTx
	if !ok {
		now := s.now()
		rec = &domain.ProviderTx{
			ID:         uuid.NewString(),
			Provider:   args.Provider,
			Kind:       args.Kind,
			ExternalID: args.ExternalID,
			Status:     args.Status,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		applyOptional(rec, args)
	} else {
		if existing.Kind != args.Kind {
			return "", errors.Wrapf(domain.ErrLedgerConflict,
				"%s/%s: kind %s contradicts stored %s", args.Provider, args.ExternalID, args.Kind, existing.Kind)
		}
		if !existing.Status.CanTransition(args.Status) {
			return "", errors.Wrapf(domain.ErrLedgerConflict,
				"%s/%s: status %s cannot follow %s", args.Provider, args.ExternalID, args.Status, existing.Status)
		}
		rec = existing.Clone()
		rec.Status = args.Status
		rec.UpdatedAt = s.now()
		applyOptional(rec, args)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return "", errors.Wrap(err, "marshal provider tx")
	}
	if err := s.wal.Write(s.wal.CurrentIndex()+1, key, payload); err != nil {
		return "", errors.Wrap(err, "write provider tx")
	}

	s.byKey[key] = rec
	return rec.ID, nil
}

// Get returns the latest committed record for the pair, or nil when the
// pair was never upserted.
func (s *Store) Get(provider, externalID string) *domain.ProviderTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey[provider+"/"+externalID].Clone()
}

// List returns all records for a provider, unordered.
func (s *Store) List(provider string) []*domain.ProviderTx {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.ProviderTx
	for _, rec := range s.byKey {
		if rec.Provider == provider {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Close closes the underlying WAL.
func (s *Store) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("provider tx store is not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}

func applyOptional(rec *domain.ProviderTx, args UpsertArgs) {
	if args.UserID != "" {
		rec.UserID = args.UserID
	}
	if args.AmountInMinor != nil {
		rec.AmountInMinor = new(big.Int).Set(args.AmountInMinor)
	}
	if args.AmountOutMinor != nil {
		rec.AmountOutMinor = new(big.Int).Set(args.AmountOutMinor)
	}
	if args.AssetCode != "" {
		rec.AssetCode = args.AssetCode
	}
	if args.AssetIssuer != "" {
		rec.AssetIssuer = args.AssetIssuer
	}
	if args.InteractiveURL != "" {
		rec.InteractiveURL = args.InteractiveURL
	}
	if len(args.Metadata) > 0 {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]string, len(args.Metadata))
		}
		for k, v := range args.Metadata {
			rec.Metadata[k] = v
		}
	}
}
