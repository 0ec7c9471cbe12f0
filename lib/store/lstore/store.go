package lstore

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/lib/store/journal"
	"github.com/ValentinKolb/ghostmesh/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("lstore")

// seenWindow is the number of blocks a committed digest is remembered for "already known" checks
const seenWindow = 64

const metaGenesis = "genesis"

// Options configures a LocalStore
type Options struct {
	// BlockTime is the interval of the block clock
	BlockTime time.Duration
	// FilterTTL is the absolute lifetime of an event filter
	FilterTTL time.Duration
	// PollInterval is used by SubscribeEntityEvents
	PollInterval time.Duration
	// Verifier checks the signature of every mutation, nil disables the check
	Verifier store.TxVerifier
	// Journal mirrors the state, nil keeps it in memory only
	Journal journal.Journal
	// Now is the clock, defaults to time.Now
	Now func() time.Time
}

// DefaultOptions returns the options of a development node
func DefaultOptions() Options {
	return Options{
		BlockTime:    store.DefaultBlockTime,
		FilterTTL:    5 * time.Minute,
		PollInterval: store.DefaultPollInterval,
		Now:          time.Now,
	}
}

// account tracks the nonce and the last mutated block of a sender
type account struct {
	nonce     atomic.Uint64
	lastBlock atomic.Uint64
	mutated   atomic.Bool
}

// LocalStore is an in-memory entity store with a block clock
type LocalStore struct {
	opts    Options
	genesis time.Time

	// mu serializes mutations, the expiry heap and the digest window.
	// Reads go to the xsync maps directly.
	mu       sync.Mutex
	expiry   *util.MapHeap
	seen     map[string]uint64
	entities *xsync.MapOf[string, *store.Entity]
	accounts *xsync.MapOf[string, *account]

	filters   *xsync.MapOf[string, *filter]
	filterSeq atomic.Uint64
}

// NewLocalStore creates a store and restores the journal, if one is configured.
func NewLocalStore(opts Options) (*LocalStore, error) {
	def := DefaultOptions()
	if opts.BlockTime <= 0 {
		opts.BlockTime = def.BlockTime
	}
	if opts.FilterTTL <= 0 {
		opts.FilterTTL = def.FilterTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}

	s := &LocalStore{
		opts:     opts,
		genesis:  opts.Now(),
		expiry:   util.NewMapHeap(),
		seen:     make(map[string]uint64),
		entities: xsync.NewMapOf[string, *store.Entity](),
		accounts: xsync.NewMapOf[string, *account](),
		filters:  xsync.NewMapOf[string, *filter](),
	}

	if opts.Journal != nil {
		if err := s.restore(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// restore loads the journal into memory
func (s *LocalStore) restore() error {
	snap, err := s.opts.Journal.Load()
	if err != nil {
		return store.Errorf(store.RetCStore, "loading journal: %s", err)
	}

	if v, ok := snap.Meta[metaGenesis]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return store.Errorf(store.RetCStore, "invalid genesis in journal: %s", err)
		}
		s.genesis = time.UnixMilli(ms)
	} else if err := s.opts.Journal.PutMeta(metaGenesis, strconv.FormatInt(s.genesis.UnixMilli(), 10)); err != nil {
		return store.Errorf(store.RetCStore, "writing genesis: %s", err)
	}

	for i := range snap.Entities {
		e := snap.Entities[i]
		s.entities.Store(e.Key, &e)
		s.expiry.AddItem(e.Key, e.ExpiresAt)
	}
	for addr, nonce := range snap.Nonces {
		acc := &account{}
		acc.nonce.Store(nonce)
		s.accounts.Store(addr, acc)
	}
	Logger.Infof("restored %d entities and %d accounts from journal", len(snap.Entities), len(snap.Nonces))
	return nil
}

// Close closes the journal
func (s *LocalStore) Close() error {
	if s.opts.Journal == nil {
		return nil
	}
	return s.opts.Journal.Close()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *LocalStore) BlockNumber() (uint64, error) {
	return s.block(), nil
}

func (s *LocalStore) NonceAt(address string) (uint64, error) {
	if acc, ok := s.accounts.Load(address); ok {
		return acc.nonce.Load(), nil
	}
	return 0, nil
}

func (s *LocalStore) CreateEntity(tx store.Tx, payload []byte, attrs []store.Attribute, expiresIn uint64) (string, error) {
	if expiresIn == 0 {
		return "", store.NewError(store.RetCStore, "expiry must be at least one block")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	block := s.sweep()
	digest := store.TxDigest(store.OpCreate, "", payload, attrs, expiresIn, tx.Nonce)
	acc, err := s.checkTx(tx, store.OpCreate, digest, block)
	if err != nil {
		return "", err
	}

	e := &store.Entity{
		Key:        entityKey(tx),
		Owner:      tx.From,
		Payload:    append([]byte(nil), payload...),
		Attributes: append([]store.Attribute(nil), attrs...),
		CreatedAt:  block,
		ExpiresAt:  block + expiresIn,
	}
	if err := s.persist(e); err != nil {
		return "", err
	}
	s.entities.Store(e.Key, e)
	s.expiry.AddItem(e.Key, e.ExpiresAt)
	s.commit(tx, acc, digest, block)

	s.emit(store.Event{Type: store.EventCreated, Key: e.Key, Block: block})
	return e.Key, nil
}

func (s *LocalStore) UpdateEntity(tx store.Tx, key string, payload []byte, attrs []store.Attribute, expiresIn uint64) (string, error) {
	if expiresIn == 0 {
		return "", store.NewError(store.RetCStore, "expiry must be at least one block")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	block := s.sweep()
	digest := store.TxDigest(store.OpUpdate, key, payload, attrs, expiresIn, tx.Nonce)
	acc, err := s.checkTx(tx, store.OpUpdate, digest, block)
	if err != nil {
		return "", err
	}
	old, err := s.owned(key, tx.From)
	if err != nil {
		return "", err
	}

	e := &store.Entity{
		Key:        key,
		Owner:      old.Owner,
		Payload:    append([]byte(nil), payload...),
		Attributes: append([]store.Attribute(nil), attrs...),
		CreatedAt:  old.CreatedAt,
		ExpiresAt:  block + expiresIn,
	}
	if err := s.persist(e); err != nil {
		return "", err
	}
	s.entities.Store(key, e)
	s.expiry.AddItem(key, e.ExpiresAt)
	s.commit(tx, acc, digest, block)

	s.emit(store.Event{Type: store.EventUpdated, Key: key, Block: block})
	return key, nil
}

func (s *LocalStore) DeleteEntity(tx store.Tx, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block := s.sweep()
	digest := store.TxDigest(store.OpDelete, key, nil, nil, 0, tx.Nonce)
	acc, err := s.checkTx(tx, store.OpDelete, digest, block)
	if err != nil {
		return "", err
	}
	if _, err := s.owned(key, tx.From); err != nil {
		return "", err
	}

	if s.opts.Journal != nil {
		if err := s.opts.Journal.Remove(key); err != nil {
			return "", store.Errorf(store.RetCStore, "journal: %s", err)
		}
	}
	s.entities.Delete(key)
	s.expiry.RemoveByKey(key)
	s.commit(tx, acc, digest, block)

	s.emit(store.Event{Type: store.EventDeleted, Key: key, Block: block})
	return key, nil
}

func (s *LocalStore) ExtendEntity(tx store.Tx, key string, extendBy uint64) (uint64, error) {
	if extendBy == 0 {
		return 0, store.NewError(store.RetCStore, "extension must be at least one block")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	block := s.sweep()
	digest := store.TxDigest(store.OpExtend, key, nil, nil, extendBy, tx.Nonce)
	acc, err := s.checkTx(tx, store.OpExtend, digest, block)
	if err != nil {
		return 0, err
	}
	old, err := s.owned(key, tx.From)
	if err != nil {
		return 0, err
	}

	e := *old
	e.ExpiresAt = old.ExpiresAt + extendBy
	if err := s.persist(&e); err != nil {
		return 0, err
	}
	s.entities.Store(key, &e)
	s.expiry.AddItem(key, e.ExpiresAt)
	s.commit(tx, acc, digest, block)

	s.emit(store.Event{Type: store.EventExtended, Key: key, Block: block, NewExpiresAt: e.ExpiresAt})
	return e.ExpiresAt, nil
}

func (s *LocalStore) GetEntity(key string) (store.Entity, error) {
	e, ok := s.entities.Load(key)
	if !ok || e.ExpiresAt <= s.block() {
		return store.Entity{}, store.Errorf(store.RetCNotFound, "entity %s not found", key)
	}
	return clone(e), nil
}

func (s *LocalStore) QueryEntities(q store.Query) ([]store.Entity, error) {
	block := s.block()
	result := make([]store.Entity, 0)

	s.entities.Range(func(_ string, e *store.Entity) bool {
		if e.ExpiresAt > block && q.Matches(e) {
			result = append(result, clone(e))
		}
		return true
	})

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].Key < result[j].Key
	})
	return result, nil
}

func (s *LocalStore) SubscribeEntityEvents(h store.EventHandlers) (store.StopFunc, error) {
	return store.PollSubscription(s, h, s.opts.PollInterval)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// block returns the current block number, starting at 1
func (s *LocalStore) block() uint64 {
	elapsed := s.opts.Now().Sub(s.genesis)
	if elapsed < 0 {
		elapsed = 0
	}
	return uint64(elapsed/s.opts.BlockTime) + 1
}

// sweep removes lapsed entities and returns the current block.
//
// Thread-safety: the caller must hold s.mu.
func (s *LocalStore) sweep() uint64 {
	block := s.block()
	for _, key := range s.expiry.PopDue(block) {
		if _, ok := s.entities.LoadAndDelete(key); !ok {
			continue
		}
		if s.opts.Journal != nil {
			if err := s.opts.Journal.Remove(key); err != nil {
				Logger.Errorf("journal: removing expired entity %s: %v", key, err)
			}
		}
		Logger.Debugf("entity %s expired at block %d", key, block)
		s.emit(store.Event{Type: store.EventDeleted, Key: key, Block: block})
	}
	return block
}

// checkTx validates sender, signature, nonce and the one-mutation-per-block rule.
// Nothing is consumed on failure.
//
// Thread-safety: the caller must hold s.mu.
func (s *LocalStore) checkTx(tx store.Tx, op store.Op, digest string, block uint64) (*account, error) {
	if tx.From == "" {
		return nil, store.NewError(store.RetCStore, "missing sender")
	}
	if s.opts.Verifier != nil {
		if err := s.opts.Verifier(tx, op, digest); err != nil {
			return nil, err
		}
	}
	if _, known := s.seen[digest]; known {
		return nil, store.NewError(store.RetCTransient, "already known")
	}

	acc, _ := s.accounts.LoadOrStore(tx.From, &account{})
	expected := acc.nonce.Load()
	switch {
	case tx.Nonce < expected:
		return nil, store.Errorf(store.RetCTransient, "nonce too low: next nonce is %d, got %d", expected, tx.Nonce)
	case tx.Nonce > expected:
		return nil, store.Errorf(store.RetCStore, "nonce too high: next nonce is %d, got %d", expected, tx.Nonce)
	}
	if acc.mutated.Load() && acc.lastBlock.Load() == block {
		return nil, store.Errorf(store.RetCTransient, "sequence conflict: %s already mutated in block %d", tx.From, block)
	}
	return acc, nil
}

// commit consumes the nonce of a successful mutation.
//
// Thread-safety: the caller must hold s.mu.
func (s *LocalStore) commit(tx store.Tx, acc *account, digest string, block uint64) {
	next := acc.nonce.Add(1)
	acc.lastBlock.Store(block)
	acc.mutated.Store(true)

	s.seen[digest] = block
	for d, b := range s.seen {
		if b+seenWindow < block {
			delete(s.seen, d)
		}
	}

	if s.opts.Journal != nil {
		if err := s.opts.Journal.PutAccount(tx.From, next); err != nil {
			Logger.Errorf("journal: storing nonce of %s: %v", tx.From, err)
		}
	}
}

// owned returns the live entity key if it belongs to owner
func (s *LocalStore) owned(key, owner string) (*store.Entity, error) {
	e, ok := s.entities.Load(key)
	if !ok {
		return nil, store.Errorf(store.RetCNotFound, "entity %s not found", key)
	}
	if e.Owner != owner {
		return nil, store.Errorf(store.RetCStore, "%s is not the owner of entity %s", owner, key)
	}
	return e, nil
}

func (s *LocalStore) persist(e *store.Entity) error {
	if s.opts.Journal == nil {
		return nil
	}
	if err := s.opts.Journal.Put(*e); err != nil {
		return store.Errorf(store.RetCStore, "journal: %s", err)
	}
	return nil
}

// entityKey derives the key of a created entity from sender and nonce
func entityKey(tx store.Tx) string {
	sum := sha256.Sum256([]byte(tx.From + ":" + strconv.FormatUint(tx.Nonce, 10)))
	return "0x" + hex.EncodeToString(sum[:])
}

func clone(e *store.Entity) store.Entity {
	out := *e
	out.Payload = append([]byte(nil), e.Payload...)
	out.Attributes = append([]store.Attribute(nil), e.Attributes...)
	return out
}
