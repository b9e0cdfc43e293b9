package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/netip"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"Go2NetSentinel/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const defaultShardCount = 64

// blockShard is one partition of the blocked-address map.
type blockShard struct {
	mu      sync.RWMutex
	entries map[string]model.BlockedIP
}

// MemStore is the in-memory Store. Events live in an append-only slice guarded by
// one lock; blocks are spread over fnv-hashed shards so that operations on one
// address serialise without holding up the rest.
type MemStore struct {
	mu     sync.RWMutex
	events []model.ThreatEvent
	index  map[string]int

	shards     []*blockShard
	shardCount uint32

	validate *validator.Validate
	now      func() time.Time
	newID    func() string
}

// Option customises a MemStore.
type Option func(*MemStore)

// WithClock replaces the clock used for default event timestamps and blockedAt.
func WithClock(now func() time.Time) Option {
	return func(s *MemStore) { s.now = now }
}

// WithShards sets the number of block shards.
func WithShards(n uint32) Option {
	return func(s *MemStore) {
		if n > 0 {
			s.shardCount = n
		}
	}
}

// NewMemStore creates an empty store.
func NewMemStore(opts ...Option) *MemStore {
	s := &MemStore{
		index:      make(map[string]int),
		shardCount: defaultShardCount,
		validate:   newValidator(),
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.shards = make([]*blockShard, s.shardCount)
	for i := range s.shards {
		s.shards[i] = &blockShard{entries: make(map[string]model.BlockedIP)}
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func (s *MemStore) RecordThreatEvent(ctx context.Context, ev model.ThreatEvent) (model.ThreatEvent, error) {
	if err := ctx.Err(); err != nil {
		return model.ThreatEvent{}, &model.StoreError{Op: "record event", Err: err}
	}
	ev = cloneEvent(ev)
	ev.ID = s.newID()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	s.mu.Lock()
	s.index[ev.ID] = len(s.events)
	s.events = append(s.events, ev)
	s.mu.Unlock()

	return cloneEvent(ev), nil
}

func (s *MemStore) ListThreatEvents(ctx context.Context, limit int) ([]model.ThreatEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, &model.StoreError{Op: "list events", Err: err}
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	// Newest insertion first so equal timestamps keep reverse insertion order.
	ordered := make([]model.ThreatEvent, len(s.events))
	for i, ev := range s.events {
		ordered[len(s.events)-1-i] = ev
	}
	s.mu.RUnlock()

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.After(ordered[j].Timestamp)
	})
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	for i := range ordered {
		ordered[i] = cloneEvent(ordered[i])
	}
	return ordered, nil
}

func (s *MemStore) GetThreatEvent(ctx context.Context, id string) (model.ThreatEvent, error) {
	if err := ctx.Err(); err != nil {
		return model.ThreatEvent{}, &model.StoreError{Op: "get event", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return model.ThreatEvent{}, fmt.Errorf("threat event %q: %w", id, model.ErrNotFound)
	}
	return cloneEvent(s.events[i]), nil
}

func (s *MemStore) BlockAddress(ctx context.Context, req model.BlockRequest) (model.BlockedIP, error) {
	rec, key, err := s.newBlock(ctx, req)
	if err != nil {
		return model.BlockedIP{}, err
	}
	shard := s.getShard(key)
	shard.mu.Lock()
	shard.entries[key] = rec
	shard.mu.Unlock()
	return rec, nil
}

func (s *MemStore) BlockIfAbsent(ctx context.Context, req model.BlockRequest) (model.BlockedIP, bool, error) {
	rec, key, err := s.newBlock(ctx, req)
	if err != nil {
		return model.BlockedIP{}, false, err
	}
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if existing, ok := shard.entries[key]; ok {
		return existing, false, nil
	}
	shard.entries[key] = rec
	return rec, true, nil
}

func (s *MemStore) UnblockAddress(ctx context.Context, addr string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &model.StoreError{Op: "unblock", Err: err}
	}
	key := canonicalAddr(addr)
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, ok := shard.entries[key]; !ok {
		return false, nil
	}
	delete(shard.entries, key)
	return true, nil
}

func (s *MemStore) GetBlockedAddress(ctx context.Context, addr string) (model.BlockedIP, error) {
	if err := ctx.Err(); err != nil {
		return model.BlockedIP{}, &model.StoreError{Op: "get block", Err: err}
	}
	key := canonicalAddr(addr)
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	rec, ok := shard.entries[key]
	if !ok {
		return model.BlockedIP{}, fmt.Errorf("blocked address %q: %w", addr, model.ErrNotFound)
	}
	return rec, nil
}

func (s *MemStore) ListBlockedAddresses(ctx context.Context) ([]model.BlockedIP, error) {
	if err := ctx.Err(); err != nil {
		return nil, &model.StoreError{Op: "list blocks", Err: err}
	}
	return s.collectBlocks(), nil
}

// Snapshot copies events and blocks at one instant. It holds the event lock and
// every shard lock together, always in that order.
func (s *MemStore) Snapshot(ctx context.Context) (model.StoreSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.StoreSnapshot{}, &model.StoreError{Op: "snapshot", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, shard := range s.shards {
		shard.mu.RLock()
		defer shard.mu.RUnlock()
	}

	events := make([]model.ThreatEvent, len(s.events))
	for i, ev := range s.events {
		events[i] = cloneEvent(ev)
	}
	var blocked []model.BlockedIP
	for _, shard := range s.shards {
		for _, rec := range shard.entries {
			blocked = append(blocked, rec)
		}
	}
	sortBlocks(blocked)

	return model.StoreSnapshot{
		TakenAt: s.now(),
		Events:  events,
		Blocked: blocked,
	}, nil
}

// Restore replaces the store contents with a snapshot taken earlier. Events keep
// their IDs and insertion order.
func (s *MemStore) Restore(snap model.StoreSnapshot) error {
	index := make(map[string]int, len(snap.Events))
	events := make([]model.ThreatEvent, len(snap.Events))
	for i, ev := range snap.Events {
		if ev.ID == "" {
			return &model.StoreError{Op: "restore", Err: fmt.Errorf("event %d has no id", i)}
		}
		if _, dup := index[ev.ID]; dup {
			return &model.StoreError{Op: "restore", Err: fmt.Errorf("duplicate event id %s", ev.ID)}
		}
		index[ev.ID] = i
		events[i] = cloneEvent(ev)
	}
	entries := make([]map[string]model.BlockedIP, len(s.shards))
	for i := range entries {
		entries[i] = make(map[string]model.BlockedIP)
	}
	for _, rec := range snap.Blocked {
		key := canonicalAddr(rec.IPAddress)
		rec.IPAddress = key
		entries[s.shardIndex(key)][key] = rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, shard := range s.shards {
		shard.mu.Lock()
		defer shard.mu.Unlock()
	}
	s.events = events
	s.index = index
	for i, shard := range s.shards {
		shard.entries = entries[i]
	}
	return nil
}

func (s *MemStore) Counts() (events, blocked int) {
	s.mu.RLock()
	events = len(s.events)
	s.mu.RUnlock()
	for _, shard := range s.shards {
		shard.mu.RLock()
		blocked += len(shard.entries)
		shard.mu.RUnlock()
	}
	return events, blocked
}

func (s *MemStore) newBlock(ctx context.Context, req model.BlockRequest) (model.BlockedIP, string, error) {
	if err := ctx.Err(); err != nil {
		return model.BlockedIP{}, "", &model.StoreError{Op: "block", Err: err}
	}
	req.IPAddress = strings.TrimSpace(req.IPAddress)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validate.Struct(req); err != nil {
		return model.BlockedIP{}, "", toValidationError(err)
	}
	key := canonicalAddr(req.IPAddress)
	return model.BlockedIP{
		ID:          s.newID(),
		IPAddress:   key,
		BlockedAt:   s.now(),
		Reason:      req.Reason,
		ThreatCount: req.ThreatCount,
	}, key, nil
}

func (s *MemStore) collectBlocks() []model.BlockedIP {
	var out []model.BlockedIP
	for _, shard := range s.shards {
		shard.mu.RLock()
		for _, rec := range shard.entries {
			out = append(out, rec)
		}
		shard.mu.RUnlock()
	}
	sortBlocks(out)
	return out
}

// sortBlocks orders newest first, then by address.
func sortBlocks(out []model.BlockedIP) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BlockedAt.Equal(out[j].BlockedAt) {
			return out[i].BlockedAt.After(out[j].BlockedAt)
		}
		return out[i].IPAddress < out[j].IPAddress
	})
}

// getShard selects a shard for a given key using the fnv-32a hash.
func (s *MemStore) getShard(key string) *blockShard {
	return s.shards[s.shardIndex(key)]
}

func (s *MemStore) shardIndex(key string) uint32 {
	hasher := fnv.New32a()
	hasher.Write([]byte(key))
	return hasher.Sum32() % s.shardCount
}

// canonicalAddr normalises textual IP forms so "::ffff:1.2.3.4" and "1.2.3.4" share a key.
func canonicalAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return addr
	}
	return ip.Unmap().String()
}

func cloneEvent(ev model.ThreatEvent) model.ThreatEvent {
	if ev.AbuseScore != nil {
		score := *ev.AbuseScore
		ev.AbuseScore = &score
	}
	return ev
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &model.ValidationError{Field: fe.Field(), Message: describeTag(fe)}
	}
	return &model.ValidationError{Message: err.Error()}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "ip":
		return "must be an IP address"
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag()
	}
}
