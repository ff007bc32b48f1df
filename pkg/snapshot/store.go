package snapshot

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/graphvault/graphvault/pkg/graph"
)

// Config controls retention for a Store. Zero values mean unlimited.
type Config struct {
	// MaxSnapshots is the maximum number of snapshots retained.
	// When exceeded, oldest-by-timestamp snapshots are evicted first.
	MaxSnapshots int `validate:"min=0"`

	// MaxAge is the maximum age of a retained snapshot.
	MaxAge time.Duration `validate:"min=0"`

	// AutoCleanup runs both retention checks after every Store call.
	AutoCleanup bool
}

// StoreOptions carries optional per-snapshot metadata.
type StoreOptions struct {
	Metadata map[string]any
	Tags     []string
}

// Criteria selects snapshots in Query. Pointer fields distinguish "not
// set" from zero values. Exact version/timestamp, latest-before/
// earliest-after timestamp, and version ranges may be combined with tag
// filters and a result limit.
type Criteria struct {
	Version         *int64
	Timestamp       *time.Time
	BeforeTimestamp *time.Time // latest snapshot at or before this time
	AfterTimestamp  *time.Time // earliest snapshot at or after this time
	MinVersion      *int64
	MaxVersion      *int64
	Tags            []string // snapshot must carry every listed tag
	Limit           int      // 0 = unlimited
}

// Stats summarizes the current state of a Store.
type Stats struct {
	Count           int       `json:"count"`
	LatestVersion   int64     `json:"latest_version"`
	OldestTimestamp time.Time `json:"oldest_timestamp"`
	TotalSize       int64     `json:"total_size"`
}

// Store maintains the versioned snapshot history. It exclusively owns the
// version/timestamp indexes and serializes all index mutation behind one
// mutex: version assignment and index insertion commit atomically relative
// to other Store calls, and indexes are updated only after the backend
// write succeeds.
type Store struct {
	mu      sync.Mutex
	backend Backend
	cfg     Config
	logger  *slog.Logger

	byID        map[string]*Snapshot
	byVersion   map[int64]*Snapshot
	byTimestamp map[int64]*Snapshot // unix nanos; last stored wins on collision
	versions    []int64             // ascending
	timeline    []*Snapshot         // ascending by (timestamp, version)
	lastVersion int64
}

// New creates a store over the given backend. The store starts empty; use
// Recover to rebuild indexes from a backend holding prior snapshots.
func New(backend Backend, cfg Config) *Store {
	return &Store{
		backend:     backend,
		cfg:         cfg,
		byID:        make(map[string]*Snapshot),
		byVersion:   make(map[int64]*Snapshot),
		byTimestamp: make(map[int64]*Snapshot),
	}
}

// WithLogger sets the logger and returns the store for chaining.
// A nil logger disables logging.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.logger = logger
	return s
}

// Recover rebuilds the in-memory indexes from the backend's records.
// Existing index state is replaced. The version counter resumes from the
// highest recovered version.
func (s *Store) Recover(ctx context.Context) error {
	recs, err := s.backend.List(ctx)
	if err != nil {
		return &StorageError{Op: "list", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[string]*Snapshot, len(recs))
	s.byVersion = make(map[int64]*Snapshot, len(recs))
	s.byTimestamp = make(map[int64]*Snapshot, len(recs))
	s.versions = s.versions[:0]
	s.timeline = s.timeline[:0]
	s.lastVersion = 0

	sort.Slice(recs, func(i, j int) bool { return recs[i].Version < recs[j].Version })
	for _, rec := range recs {
		s.indexLocked(rec)
	}

	if s.logger != nil {
		s.logger.Debug("snapshot store recovered", "snapshots", len(recs), "last_version", s.lastVersion)
	}
	return nil
}

// Store assigns the next version and current timestamp to the given graph
// state, persists it, and indexes it. The whole operation is serialized so
// versions form a total order consistent with call order even when backend
// writes complete out of order. Retention runs afterwards when AutoCleanup
// is set.
func (s *Store) Store(ctx context.Context, data graph.Data, opts StoreOptions) (*Snapshot, error) {
	if data.Nodes == nil && data.Edges == nil && data.Metadata == nil {
		return nil, ErrMissingData
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		ID:        uuid.New().String(),
		Version:   s.lastVersion + 1,
		Timestamp: time.Now(),
		Data:      sanitizeData(data),
		Metadata:  opts.Metadata,
		Tags:      opts.Tags,
	}
	snap.Size = serializedSize(snap.Data)

	if err := s.backend.Save(ctx, snap); err != nil {
		// Indexes and version counter are untouched on failure.
		return nil, &StorageError{Op: "save", ID: snap.ID, Err: err}
	}

	s.indexLocked(snap)

	if s.logger != nil {
		s.logger.Debug("snapshot stored", "id", snap.ID, "version", snap.Version, "size", snap.Size)
	}

	if s.cfg.AutoCleanup {
		if err := s.cleanupLocked(ctx); err != nil {
			return nil, err
		}
	}

	return snap, nil
}

// indexLocked inserts a snapshot into all indexes. Caller holds s.mu.
func (s *Store) indexLocked(snap *Snapshot) {
	s.byID[snap.ID] = snap
	s.byVersion[snap.Version] = snap
	s.byTimestamp[snap.Timestamp.UnixNano()] = snap

	// Binary insert keeps both arrays sorted: O(log n) search, O(n) shift.
	vi := sort.Search(len(s.versions), func(i int) bool { return s.versions[i] >= snap.Version })
	s.versions = append(s.versions, 0)
	copy(s.versions[vi+1:], s.versions[vi:])
	s.versions[vi] = snap.Version

	ti := sort.Search(len(s.timeline), func(i int) bool {
		t := s.timeline[i]
		if t.Timestamp.Equal(snap.Timestamp) {
			return t.Version >= snap.Version
		}
		return t.Timestamp.After(snap.Timestamp)
	})
	s.timeline = append(s.timeline, nil)
	copy(s.timeline[ti+1:], s.timeline[ti:])
	s.timeline[ti] = snap

	if snap.Version > s.lastVersion {
		s.lastVersion = snap.Version
	}
}

// removeLocked drops a snapshot from all indexes. Caller holds s.mu.
func (s *Store) removeLocked(snap *Snapshot) {
	delete(s.byID, snap.ID)
	delete(s.byVersion, snap.Version)
	if cur, ok := s.byTimestamp[snap.Timestamp.UnixNano()]; ok && cur.ID == snap.ID {
		delete(s.byTimestamp, snap.Timestamp.UnixNano())
	}

	vi := sort.Search(len(s.versions), func(i int) bool { return s.versions[i] >= snap.Version })
	if vi < len(s.versions) && s.versions[vi] == snap.Version {
		s.versions = append(s.versions[:vi], s.versions[vi+1:]...)
	}
	for i, t := range s.timeline {
		if t.ID == snap.ID {
			s.timeline = append(s.timeline[:i], s.timeline[i+1:]...)
			break
		}
	}
}

// GetByID retrieves a snapshot by id.
// Returns (nil, nil) if the snapshot is not found (no error).
func (s *Store) GetByID(_ context.Context, id string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id], nil
}

// GetByVersion retrieves a snapshot by exact version.
// Returns (nil, nil) if no snapshot has that version.
func (s *Store) GetByVersion(_ context.Context, version int64) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byVersion[version], nil
}

// GetByTimestamp retrieves a snapshot by exact timestamp. When several
// snapshots share a timestamp, the most recently stored one is returned.
// Returns (nil, nil) on a miss.
func (s *Store) GetByTimestamp(_ context.Context, ts time.Time) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byTimestamp[ts.UnixNano()], nil
}

// Latest returns the snapshot with the highest version, or (nil, nil) when
// the store is empty.
func (s *Store) Latest(_ context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byVersion[s.lastVersion], nil
}

// Query returns the snapshots matching the criteria in ascending version
// order. A miss is an empty result, not an error.
func (s *Store) Query(_ context.Context, c Criteria) ([]*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*Snapshot
	switch {
	case c.Version != nil:
		if snap, ok := s.byVersion[*c.Version]; ok {
			candidates = []*Snapshot{snap}
		}
	case c.Timestamp != nil:
		if snap, ok := s.byTimestamp[c.Timestamp.UnixNano()]; ok {
			candidates = []*Snapshot{snap}
		}
	case c.BeforeTimestamp != nil:
		// Linear scan of the sorted timeline from the newest end.
		// Acceptable because volumes are bounded by retention.
		for i := len(s.timeline) - 1; i >= 0; i-- {
			if !s.timeline[i].Timestamp.After(*c.BeforeTimestamp) {
				candidates = []*Snapshot{s.timeline[i]}
				break
			}
		}
	case c.AfterTimestamp != nil:
		for _, snap := range s.timeline {
			if !snap.Timestamp.Before(*c.AfterTimestamp) {
				candidates = []*Snapshot{snap}
				break
			}
		}
	default:
		// Ordered scan bounded by the version range.
		lo, hi := int64(1), s.lastVersion
		if c.MinVersion != nil {
			lo = *c.MinVersion
		}
		if c.MaxVersion != nil {
			hi = *c.MaxVersion
		}
		start := sort.Search(len(s.versions), func(i int) bool { return s.versions[i] >= lo })
		for i := start; i < len(s.versions) && s.versions[i] <= hi; i++ {
			candidates = append(candidates, s.byVersion[s.versions[i]])
		}
	}

	var out []*Snapshot
	for _, snap := range candidates {
		if !hasTags(snap, c.Tags) {
			continue
		}
		out = append(out, snap)
		if c.Limit > 0 && len(out) >= c.Limit {
			break
		}
	}
	return out, nil
}

// Delete removes a snapshot by id. Returns false when the id is absent.
// Indexes are updated only after the backend delete succeeds.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.byID[id]
	if !ok {
		return false, nil
	}

	if _, err := s.backend.Delete(ctx, id); err != nil {
		return false, &StorageError{Op: "delete", ID: id, Err: err}
	}

	s.removeLocked(snap)
	return true, nil
}

// Cleanup applies the retention policy immediately: snapshots older than
// MaxAge are pruned, then oldest-by-timestamp snapshots are evicted until
// the store holds at most MaxSnapshots.
func (s *Store) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(ctx)
}

func (s *Store) cleanupLocked(ctx context.Context) error {
	now := time.Now()

	if s.cfg.MaxAge > 0 {
		// Timeline is sorted oldest-first, so stop at the first survivor.
		for len(s.timeline) > 0 {
			oldest := s.timeline[0]
			if now.Sub(oldest.Timestamp) <= s.cfg.MaxAge {
				break
			}
			if err := s.pruneLocked(ctx, oldest); err != nil {
				return err
			}
		}
	}

	if s.cfg.MaxSnapshots > 0 {
		for len(s.timeline) > s.cfg.MaxSnapshots {
			if err := s.pruneLocked(ctx, s.timeline[0]); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Store) pruneLocked(ctx context.Context, snap *Snapshot) error {
	if _, err := s.backend.Delete(ctx, snap.ID); err != nil {
		return &StorageError{Op: "delete", ID: snap.ID, Err: err}
	}
	s.removeLocked(snap)
	if s.logger != nil {
		s.logger.Debug("snapshot pruned", "id", snap.ID, "version", snap.Version)
	}
	return nil
}

// Clear removes every snapshot and resets the version counter.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Clear(ctx); err != nil {
		return &StorageError{Op: "clear", Err: err}
	}

	s.byID = make(map[string]*Snapshot)
	s.byVersion = make(map[int64]*Snapshot)
	s.byTimestamp = make(map[int64]*Snapshot)
	s.versions = nil
	s.timeline = nil
	s.lastVersion = 0
	return nil
}

// Stats returns counts and sizes for the current history.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Count:         len(s.timeline),
		LatestVersion: s.lastVersion,
	}
	if len(s.timeline) > 0 {
		st.OldestTimestamp = s.timeline[0].Timestamp
	}
	for _, snap := range s.timeline {
		st.TotalSize += snap.Size
	}
	return st
}

func hasTags(snap *Snapshot, want []string) bool {
	for _, tag := range want {
		found := false
		for _, have := range snap.Tags {
			if have == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sanitizeData(d graph.Data) graph.Data {
	out := graph.Data{
		Nodes:    make(map[string]graph.Entity, len(d.Nodes)),
		Edges:    make(map[string]graph.Entity, len(d.Edges)),
		Metadata: make(map[string]any, len(d.Metadata)),
	}
	for id, n := range d.Nodes {
		out.Nodes[id] = graph.Sanitize(n)
	}
	for id, e := range d.Edges {
		out.Edges[id] = graph.Sanitize(e)
	}
	for k, v := range d.Metadata {
		out.Metadata[k] = graph.Sanitize(graph.Entity{k: v})[k]
	}
	return out
}

func serializedSize(d graph.Data) int64 {
	raw, err := json.Marshal(d)
	if err != nil {
		return 0
	}
	return int64(len(raw))
}
