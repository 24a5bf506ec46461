package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// keys:
//   u:<username>              → user
//   b:<user-id>:<asset>       → balance
//   t:<8-byte-seq>            → trade
//   ut:<user-id>:<8-byte-seq> → trade index entry (empty value)
var (
	prefixUser      = []byte("u:")
	prefixBalance   = []byte("b:")
	prefixTrade     = []byte("t:")
	prefixUserTrade = []byte("ut:")
)

func userKey(username string) []byte {
	return append(append([]byte{}, prefixUser...), username...)
}

func balancePrefix(user uuid.UUID) []byte {
	k := append(append([]byte{}, prefixBalance...), user.String()...)
	return append(k, ':')
}

func balanceKeyBytes(user uuid.UUID, asset string) []byte {
	return append(balancePrefix(user), asset...)
}

func seqBytes(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

func tradeKey(seq uint64) []byte {
	return append(append([]byte{}, prefixTrade...), seqBytes(seq)...)
}

func userTradePrefix(user uuid.UUID) []byte {
	k := append(append([]byte{}, prefixUserTrade...), user.String()...)
	return append(k, ':')
}

func userTradeKey(user uuid.UUID, seq uint64) []byte {
	return append(userTradePrefix(user), seqBytes(seq)...)
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// PebbleStore is a Store backed by a Pebble LSM database. Values are JSON.
type PebbleStore struct {
	db *pebble.DB

	mu      sync.Mutex // serializes EnsureUser and trade sequencing
	lastSeq uint64
}

// OpenPebble opens (or creates) the database at path.
func OpenPebble(path string, opts *pebble.Options) (*PebbleStore, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	s := &PebbleStore{db: db}
	if err := s.loadLastSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) loadLastSeq() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixTrade,
		UpperBound: keyUpperBound(prefixTrade),
	})
	if err != nil {
		return fmt.Errorf("scan trades: %w", err)
	}
	defer iter.Close()

	if iter.Last() {
		key := iter.Key()
		s.lastSeq = binary.BigEndian.Uint64(key[len(prefixTrade):])
	}
	return iter.Error()
}

func (s *PebbleStore) getJSON(key []byte, out any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PebbleStore) EnsureUser(ctx context.Context, username string, funding map[string]decimal.Decimal) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var u domain.User
	found, err := s.getJSON(userKey(username), &u)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	if found {
		return u, nil
	}

	u = domain.User{ID: uuid.New(), Username: username, CreatedAt: time.Now().UTC()}
	batch := s.db.NewBatch()
	defer batch.Close()

	data, err := json.Marshal(u)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := batch.Set(userKey(username), data, nil); err != nil {
		return domain.User{}, err
	}
	for _, b := range fundingBalances(u.ID, funding) {
		data, err := json.Marshal(b)
		if err != nil {
			return domain.User{}, fmt.Errorf("failed to marshal balance: %w", err)
		}
		if err := batch.Set(balanceKeyBytes(b.UserID, b.Asset), data, nil); err != nil {
			return domain.User{}, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return domain.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (s *PebbleStore) UpdateBalance(ctx context.Context, b domain.Balance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	if err := s.db.Set(balanceKeyBytes(b.UserID, b.Asset), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

func (s *PebbleStore) SaveTrade(ctx context.Context, t domain.SaveTrade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.lastSeq + 1
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(tradeKey(seq), data, nil); err != nil {
		return err
	}
	if t.UserID != nil {
		if err := batch.Set(userTradeKey(*t.UserID, seq), nil, nil); err != nil {
			return err
		}
	}
	if t.MakerUserID != nil && (t.UserID == nil || *t.MakerUserID != *t.UserID) {
		if err := batch.Set(userTradeKey(*t.MakerUserID, seq), nil, nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	s.lastSeq = seq
	return nil
}

func (s *PebbleStore) scanBalances(prefix []byte) ([]domain.Balance, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := []domain.Balance{}
	for iter.First(); iter.Valid(); iter.Next() {
		var b domain.Balance
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal balance %q: %w", iter.Key(), err)
		}
		out = append(out, b)
	}
	return out, iter.Error()
}

func (s *PebbleStore) Balances(ctx context.Context, user uuid.UUID) ([]domain.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := s.scanBalances(balancePrefix(user))
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (s *PebbleStore) AllBalances(ctx context.Context) ([]domain.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.scanBalances(prefixBalance)
}

func (s *PebbleStore) UserTrades(ctx context.Context, user uuid.UUID, limit int) ([]domain.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := userTradePrefix(user)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := []domain.Trade{}
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		seq := binary.BigEndian.Uint64(iter.Key()[len(prefix):])
		var t domain.SaveTrade
		found, err := s.getJSON(tradeKey(seq), &t)
		if err != nil {
			return nil, fmt.Errorf("failed to get trade %d: %w", seq, err)
		}
		if found {
			out = append(out, t.Trade())
		}
	}
	return out, iter.Error()
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	if err := s.db.Flush(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}

var _ Store = (*PebbleStore)(nil)
