package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/xtrntr/swappool/internal/models"
	"github.com/xtrntr/swappool/internal/pool"
)

const (
	offerKeyPrefix = "offer/"
	swapKeyPrefix  = "swap/"
)

var _ pool.Archive = (*Store)(nil)

// Store is an append-only LevelDB archive of trimmed offers and swaps.
type Store struct {
	mu sync.Mutex // serialises check-then-put
	db *leveldb.DB
}

// Open opens (or creates) the archive at path.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("archive path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve archive path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens an archive that lives only in memory.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory archive: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) PutOffer(_ context.Context, o *models.Offer) error {
	return s.put(offerKey(o.ID), o)
}

func (s *Store) PutSwap(_ context.Context, sw *models.Swap) error {
	return s.put(swapKey(sw.ID), sw)
}

func (s *Store) Offer(_ context.Context, id int64) (*models.Offer, error) {
	var o models.Offer
	if err := s.get(offerKey(id), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) Swap(_ context.Context, id int64) (*models.Swap, error) {
	var sw models.Swap
	if err := s.get(swapKey(id), &sw); err != nil {
		return nil, err
	}
	return &sw, nil
}

// Count returns how many offers and swaps are archived.
func (s *Store) Count(ctx context.Context) (offers, swaps int, err error) {
	if offers, err = s.count(ctx, offerKeyPrefix); err != nil {
		return 0, 0, err
	}
	if swaps, err = s.count(ctx, swapKeyPrefix); err != nil {
		return 0, 0, err
	}
	return offers, swaps, nil
}

// MaxIDs returns the highest archived offer and swap ids, or -1 when none of
// that kind is archived.
func (s *Store) MaxIDs(_ context.Context) (offer, swap int64, err error) {
	if offer, err = s.maxID(offerKeyPrefix); err != nil {
		return 0, 0, err
	}
	if swap, err = s.maxID(swapKeyPrefix); err != nil {
		return 0, 0, err
	}
	return offer, swap, nil
}

// keys are zero padded, so the last key of a prefix holds the highest id
func (s *Store) maxID(prefix string) (int64, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return 0, fmt.Errorf("iterate %s: %w", prefix, err)
		}
		return -1, nil
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(string(iter.Key()), prefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse key %s: %w", iter.Key(), err)
	}
	return id, nil
}

func (s *Store) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exists, err := s.db.Has(key, nil)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", key, err)
	}
	if exists {
		return fmt.Errorf("archive %s: %w", key, pool.ErrDuplicateKey)
	}
	if err := s.db.Put(key, data, nil); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(key []byte, v any) error {
	data, err := s.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return fmt.Errorf("archive %s: %w", key, pool.ErrNotFound)
	case err != nil:
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) count(ctx context.Context, prefix string) (int, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterate %s: %w", prefix, err)
	}
	return n, nil
}

func offerKey(id int64) []byte { return []byte(fmt.Sprintf("%s%020d", offerKeyPrefix, id)) }

func swapKey(id int64) []byte { return []byte(fmt.Sprintf("%s%020d", swapKeyPrefix, id)) }
