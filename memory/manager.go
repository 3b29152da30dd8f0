// Package memory owns the per-agent memory partitions: short-term key/value
// state, long-term knowledge, episodic experiences and a small working set.
// A Manager is the sole writer of every partition it holds.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"

	"github.com/GoCodeAlone/agentcore/core"
)

const (
	DefaultShortTermCapacity = 1000
	DefaultEpisodicLimit     = 1000
	MaxLongTerm              = 10000
	WorkingCapacity          = 20
	DefaultRetrieveLimit     = 10

	RetentionConfidenceRecency = "confidence_recency"
	RetentionConfidence        = "confidence"

	shortTermRetention = 24 * time.Hour
	episodicRetention  = 30 * 24 * time.Hour
	recencyHalfLife    = 7 * 24 * time.Hour
	optimizeFloor      = 0.3
)

var importantKeys = []string{"user_preference", "learned_pattern", "successful_strategy"}

// Query selects long-term knowledge. Zero fields do not filter.
type Query struct {
	Kind          core.KnowledgeKind `json:"kind,omitempty"`
	Tags          []string           `json:"tags,omitempty"`
	Keywords      []string           `json:"keywords,omitempty"`
	MinConfidence float64            `json:"min_confidence,omitempty"`
	Limit         int                `json:"limit,omitempty"`
	IncludeGlobal bool               `json:"include_global,omitempty"`
}

// ForgetCriteria selects knowledge to remove. An item is removed when it
// fails any rule that is set.
type ForgetCriteria struct {
	// ConfidenceThreshold removes items with confidence below it.
	ConfidenceThreshold float64
	// AgeThreshold removes items older than it.
	AgeThreshold time.Duration
	// Tags is the tag set used by ExcludeTags and IncludeOnlyTags.
	Tags []string
	// ExcludeTags removes items carrying any of Tags.
	ExcludeTags bool
	// IncludeOnlyTags removes items carrying none of Tags.
	IncludeOnlyTags bool
}

// ShortTermEntry is one short-term value and when it was written.
type ShortTermEntry struct {
	Value    any       `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// Stats describes one partition.
type Stats struct {
	KnowledgeStored   int       `json:"knowledge_count"`
	ExperiencesStored int       `json:"experience_count"`
	ShortTermSize     int       `json:"short_term_size"`
	LongTermSize      int       `json:"long_term_size"`
	EpisodicSize      int       `json:"episodic_size"`
	WorkingSize       int       `json:"working_memory_size"`
	MemoryEfficiency  float64   `json:"memory_efficiency"`
	LastCleanup       time.Time `json:"last_cleanup"`
}

// Snapshot is an exported partition.
type Snapshot struct {
	AgentID    string                    `json:"agent_id"`
	Config     core.MemoryConfig         `json:"config"`
	ShortTerm  map[string]ShortTermEntry `json:"short_term"`
	LongTerm   []core.Knowledge          `json:"long_term"`
	Episodic   []core.Experience         `json:"episodic"`
	Working    []any                     `json:"working"`
	Stats      Stats                     `json:"stats"`
	ExportedAt time.Time                 `json:"exported_at"`
}

type partition struct {
	mu        sync.Mutex
	cfg       core.MemoryConfig
	shortTerm map[string]ShortTermEntry
	longTerm  []core.Knowledge
	episodic  []core.Experience
	working   []any

	knowledgeStored   int
	experiencesStored int
	lastCleanup       time.Time
}

// Manager holds memory partitions keyed by agent id.
type Manager struct {
	mu         sync.RWMutex
	partitions map[string]*partition

	global GlobalPool
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithGlobalPool sets the shared knowledge pool. The default is an InMemoryPool.
func WithGlobalPool(p GlobalPool) Option {
	return func(m *Manager) { m.global = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager with no partitions.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		partitions: make(map[string]*partition),
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.global == nil {
		m.global = NewInMemoryPool()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "memory")
	return m
}

func resolveConfig(cfg *core.MemoryConfig) core.MemoryConfig {
	out := core.MemoryConfig{
		ShortTermCapacity:       DefaultShortTermCapacity,
		LongTermRetentionPolicy: RetentionConfidenceRecency,
		EpisodicMemoryLimit:     DefaultEpisodicLimit,
	}
	if cfg == nil {
		return out
	}
	if cfg.ShortTermCapacity > 0 {
		out.ShortTermCapacity = cfg.ShortTermCapacity
	}
	if cfg.EpisodicMemoryLimit > 0 {
		out.EpisodicMemoryLimit = cfg.EpisodicMemoryLimit
	}
	if cfg.LongTermRetentionPolicy == RetentionConfidence {
		out.LongTermRetentionPolicy = RetentionConfidence
	}
	return out
}

// Initialize creates an empty partition for agentID, replacing any existing one.
func (m *Manager) Initialize(agentID string, cfg *core.MemoryConfig) {
	p := &partition{
		cfg:         resolveConfig(cfg),
		shortTerm:   make(map[string]ShortTermEntry),
		lastCleanup: m.now(),
	}
	m.mu.Lock()
	m.partitions[agentID] = p
	m.mu.Unlock()
	m.logger.Info("memory initialized", "agent_id", agentID)
}

// Initialized reports whether agentID has a partition.
func (m *Manager) Initialized(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.partitions[agentID]
	return ok
}

// Release drops the partition for agentID. Knowledge already shared to the
// global pool stays there.
func (m *Manager) Release(agentID string) {
	m.mu.Lock()
	delete(m.partitions, agentID)
	m.mu.Unlock()
}

func (m *Manager) lookup(agentID string) (*partition, error) {
	m.mu.RLock()
	p, ok := m.partitions[agentID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrMemoryNotInitialized, agentID)
	}
	return p, nil
}

// StoreKnowledge adds k to long-term memory, merging it into an existing item
// of the same kind with similar content. It returns the stored item.
func (m *Manager) StoreKnowledge(agentID string, k core.Knowledge) (core.Knowledge, error) {
	p, err := m.lookup(agentID)
	if err != nil {
		return core.Knowledge{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	stored, merged := m.storeLocked(p, k)
	m.logger.Debug("stored knowledge", "agent_id", agentID, "kind", k.Kind, "merged", merged)
	return stored, nil
}

func (m *Manager) storeLocked(p *partition, k core.Knowledge) (core.Knowledge, bool) {
	now := m.now()
	if k.ID == "" {
		k.ID = core.NewID()
	}
	if k.Timestamp.IsZero() {
		k.Timestamp = now
	}
	k.Tags = slices.Clone(k.Tags)

	incoming := canonical(k.Content)
	for i := range p.longTerm {
		existing := &p.longTerm[i]
		if existing.Kind != k.Kind {
			continue
		}
		if similarity(canonical(existing.Content), incoming) <= mergeThreshold {
			continue
		}
		existing.Content = mergeContent(existing.Content, k.Content)
		existing.Confidence = min(1, existing.Confidence+0.1)
		for _, t := range k.Tags {
			if !existing.HasTag(t) {
				existing.Tags = append(existing.Tags, t)
			}
		}
		existing.Timestamp = now
		out := *existing
		out.Tags = slices.Clone(existing.Tags)
		return out, true
	}

	p.longTerm = append(p.longTerm, k)
	p.knowledgeStored++
	m.enforceLongTermCap(p, now)
	return k, false
}

func mergeContent(old, incoming any) any {
	om, ok1 := old.(map[string]any)
	nm, ok2 := incoming.(map[string]any)
	if !ok1 || !ok2 {
		return incoming
	}
	out := maps.Clone(om)
	maps.Copy(out, nm)
	return out
}

func (m *Manager) enforceLongTermCap(p *partition, now time.Time) {
	if len(p.longTerm) <= MaxLongTerm {
		return
	}
	score := func(k core.Knowledge) float64 {
		if p.cfg.LongTermRetentionPolicy == RetentionConfidence {
			return k.Confidence
		}
		age := now.Sub(k.Timestamp)
		return k.Confidence / (1 + float64(age)/float64(recencyHalfLife))
	}
	slices.SortStableFunc(p.longTerm, func(a, b core.Knowledge) int {
		return cmp.Compare(score(b), score(a))
	})
	p.longTerm = p.longTerm[:MaxLongTerm]
}

// RetrieveKnowledge returns the best matching items, highest score first.
func (m *Manager) RetrieveKnowledge(ctx context.Context, agentID string, q Query) ([]core.Knowledge, error) {
	p, err := m.lookup(agentID)
	if err != nil {
		return nil, err
	}
	fold := cases.Fold()
	keywords := make([]string, 0, len(q.Keywords))
	for _, kw := range q.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, fold.String(kw))
		}
	}

	p.mu.Lock()
	candidates := slices.Clone(p.longTerm)
	p.mu.Unlock()

	if q.IncludeGlobal {
		shared, err := m.global.All(ctx)
		if err != nil {
			m.logger.Warn("global pool unavailable", "agent_id", agentID, "error", err)
		} else {
			for _, k := range shared {
				if !slices.ContainsFunc(candidates, func(c core.Knowledge) bool { return c.ID == k.ID }) {
					candidates = append(candidates, k)
				}
			}
		}
	}

	type scored struct {
		k     core.Knowledge
		score float64
	}
	now := m.now()
	var hits []scored
	for _, k := range candidates {
		if q.Kind != "" && k.Kind != q.Kind {
			continue
		}
		if k.Confidence < q.MinConfidence {
			continue
		}
		if len(q.Tags) > 0 && countTags(k, q.Tags) == 0 {
			continue
		}
		content := fold.String(canonical(k.Content))
		if len(keywords) > 0 {
			tags := fold.String(strings.Join(k.Tags, " "))
			found := false
			for _, kw := range keywords {
				if strings.Contains(content, kw) || strings.Contains(tags, kw) {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}

		s := k.Confidence
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				s += 0.5
			}
		}
		s += 0.3 * float64(countTags(k, q.Tags))
		days := now.Sub(k.Timestamp).Hours() / 24
		s += max(0, (30-days)/30) * 0.2
		hits = append(hits, scored{k: k, score: s})
	}

	slices.SortStableFunc(hits, func(a, b scored) int { return cmp.Compare(b.score, a.score) })
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultRetrieveLimit
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]core.Knowledge, len(hits))
	for i, h := range hits {
		out[i] = h.k
	}
	m.logger.Debug("retrieved knowledge", "agent_id", agentID, "count", len(out))
	return out, nil
}

func countTags(k core.Knowledge, tags []string) int {
	n := 0
	for _, t := range k.Tags {
		if slices.Contains(tags, t) {
			n++
		}
	}
	return n
}

// StoreExperience appends exp to episodic memory and derives knowledge from
// it: a procedure on success, one rule per lesson on failure.
func (m *Manager) StoreExperience(agentID string, exp core.Experience) error {
	p, err := m.lookup(agentID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m.appendLocked(p, exp)

	actionType := exp.Action.Type
	if exp.Success {
		m.storeLocked(p, core.Knowledge{
			Kind: core.KnowledgeProcedure,
			Content: map[string]any{
				"action_type":     actionType,
				"context":         exp.Context,
				"outcome":         exp.Outcome,
				"success_pattern": "successful_execution",
			},
			Confidence: 0.8,
			Source:     "experience_" + exp.ID,
			Tags:       []string{"learned", "procedure", actionType},
		})
		return nil
	}
	for _, lesson := range exp.LessonsLearned {
		m.storeLocked(p, core.Knowledge{
			Kind: core.KnowledgeRule,
			Content: map[string]any{
				"lesson":        lesson,
				"failed_action": exp.Action,
				"context":       exp.Context,
			},
			Confidence: 0.9,
			Source:     "failure_" + exp.ID,
			Tags:       []string{"lesson", "failure", "avoid", actionType},
		})
	}
	return nil
}

// AppendExperience appends exp to episodic memory without deriving knowledge.
func (m *Manager) AppendExperience(agentID string, exp core.Experience) error {
	p, err := m.lookup(agentID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	m.appendLocked(p, exp)
	p.mu.Unlock()
	return nil
}

func (m *Manager) appendLocked(p *partition, exp core.Experience) {
	if exp.ID == "" {
		exp.ID = core.NewID()
	}
	if exp.Timestamp.IsZero() {
		exp.Timestamp = m.now()
	}
	p.episodic = append(p.episodic, exp)
	p.experiencesStored++
	if over := len(p.episodic) - p.cfg.EpisodicMemoryLimit; over > 0 {
		p.episodic = slices.Delete(p.episodic, 0, over)
	}
}

// UpdateWorking prepends items to working memory, keeping the newest
// WorkingCapacity entries.
func (m *Manager) UpdateWorking(agentID string, items ...any) error {
	p, err := m.lookup(agentID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.working = append(slices.Clone(items), p.working...)
	if len(p.working) > WorkingCapacity {
		p.working = p.working[:WorkingCapacity]
	}
	return nil
}

// Working returns working memory, most recent first.
func (m *Manager) Working(agentID string) ([]any, error) {
	p, err := m.lookup(agentID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.working), nil
}

// UpdateShortTerm stores value under key. At capacity the oldest key is evicted.
func (m *Manager) UpdateShortTerm(agentID, key string, value any) error {
	p, err := m.lookup(agentID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.shortTerm[key]; !exists && len(p.shortTerm) >= p.cfg.ShortTermCapacity {
		oldest := ""
		var at time.Time
		for k, e := range p.shortTerm {
			if oldest == "" || e.StoredAt.Before(at) {
				oldest, at = k, e.StoredAt
			}
		}
		delete(p.shortTerm, oldest)
	}
	p.shortTerm[key] = ShortTermEntry{Value: value, StoredAt: m.now()}
	return nil
}

// ShortTerm returns a copy of the short-term values.
func (m *Manager) ShortTerm(agentID string) (map[string]any, error) {
	p, err := m.lookup(agentID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]any, len(p.shortTerm))
	for k, e := range p.shortTerm {
		out[k] = e.Value
	}
	return out, nil
}

// Knowledge returns a copy of long-term memory.
func (m *Manager) Knowledge(agentID string) ([]core.Knowledge, error) {
	p, err := m.lookup(agentID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.longTerm), nil
}

// Experiences returns a copy of episodic memory, oldest first.
func (m *Manager) Experiences(agentID string) ([]core.Experience, error) {
	p, err := m.lookup(agentID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.episodic), nil
}

// ForgetKnowledge removes the items selected by c and returns how many went.
func (m *Manager) ForgetKnowledge(agentID string, c ForgetCriteria) (int, error) {
	p, err := m.lookup(agentID)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	n := m.forgetLocked(p, c)
	p.mu.Unlock()
	m.logger.Info("forgot knowledge", "agent_id", agentID, "count", n)
	return n, nil
}

func (m *Manager) forgetLocked(p *partition, c ForgetCriteria) int {
	now := m.now()
	before := len(p.longTerm)
	p.longTerm = slices.DeleteFunc(p.longTerm, func(k core.Knowledge) bool {
		if c.ConfidenceThreshold > 0 && k.Confidence < c.ConfidenceThreshold {
			return true
		}
		if c.AgeThreshold > 0 && now.Sub(k.Timestamp) > c.AgeThreshold {
			return true
		}
		if len(c.Tags) > 0 {
			tagged := countTags(k, c.Tags) > 0
			if c.ExcludeTags && tagged {
				return true
			}
			if c.IncludeOnlyTags && !tagged {
				return true
			}
		}
		return false
	})
	return before - len(p.longTerm)
}

// Consolidate promotes important short-term entries to long-term facts, then
// purges short-term entries older than 24 hours. It returns the number promoted.
func (m *Manager) Consolidate(agentID string) (int, error) {
	p, err := m.lookup(agentID)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := m.consolidateLocked(p)
	m.logger.Debug("consolidated memories", "agent_id", agentID, "count", n)
	return n, nil
}

func (m *Manager) consolidateLocked(p *partition) int {
	keys := slices.Sorted(maps.Keys(p.shortTerm))
	promoted := 0
	for _, key := range keys {
		e := p.shortTerm[key]
		if !important(key, e.Value) {
			continue
		}
		m.storeLocked(p, core.Knowledge{
			Kind:       core.KnowledgeFact,
			Content:    map[string]any{key: e.Value},
			Confidence: 0.7,
			Source:     "short_term_consolidation",
			Tags:       []string{"consolidated", key},
		})
		promoted++
	}
	now := m.now()
	for key, e := range p.shortTerm {
		if now.Sub(e.StoredAt) > shortTermRetention {
			delete(p.shortTerm, key)
		}
	}
	return promoted
}

func important(key string, value any) bool {
	for _, pattern := range importantKeys {
		if strings.Contains(key, pattern) {
			return true
		}
	}
	if v, ok := value.(map[string]any); ok {
		return v["importance"] == "high"
	}
	return false
}

// ShareKnowledge copies one item into the global pool with provenance
// shared_from_<agentID>.
func (m *Manager) ShareKnowledge(ctx context.Context, agentID, knowledgeID string) (core.Knowledge, error) {
	p, err := m.lookup(agentID)
	if err != nil {
		return core.Knowledge{}, err
	}
	p.mu.Lock()
	idx := slices.IndexFunc(p.longTerm, func(k core.Knowledge) bool { return k.ID == knowledgeID })
	var src core.Knowledge
	if idx >= 0 {
		src = p.longTerm[idx]
	}
	p.mu.Unlock()
	if idx < 0 {
		return core.Knowledge{}, fmt.Errorf("%w: %s", core.ErrKnowledgeNotFound, knowledgeID)
	}

	shared := src
	shared.ID = core.NewID()
	shared.Source = "shared_from_" + agentID
	shared.Tags = append(slices.Clone(src.Tags), "shared", "global")
	if err := m.global.Put(ctx, shared); err != nil {
		return core.Knowledge{}, fmt.Errorf("share knowledge %s: %w", knowledgeID, err)
	}
	m.logger.Info("shared knowledge globally", "agent_id", agentID, "knowledge_id", knowledgeID)
	return shared, nil
}

// Optimize consolidates, forgets low-confidence knowledge and drops
// experiences older than 30 days.
func (m *Manager) Optimize(agentID string) error {
	p, err := m.lookup(agentID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	promoted := m.consolidateLocked(p)
	forgotten := m.forgetLocked(p, ForgetCriteria{ConfidenceThreshold: optimizeFloor})
	now := m.now()
	before := len(p.episodic)
	p.episodic = slices.DeleteFunc(p.episodic, func(e core.Experience) bool {
		return now.Sub(e.Timestamp) > episodicRetention
	})
	p.lastCleanup = now
	m.logger.Info("memory optimized", "agent_id", agentID,
		"promoted", promoted, "forgotten", forgotten, "episodes_dropped", before-len(p.episodic))
	return nil
}

// Stats reports partition sizes and a quality score in [0,1].
func (m *Manager) Stats(agentID string) (Stats, error) {
	p, err := m.lookup(agentID)
	if err != nil {
		return Stats{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return m.statsLocked(p), nil
}

func (m *Manager) statsLocked(p *partition) Stats {
	return Stats{
		KnowledgeStored:   p.knowledgeStored,
		ExperiencesStored: p.experiencesStored,
		ShortTermSize:     len(p.shortTerm),
		LongTermSize:      len(p.longTerm),
		EpisodicSize:      len(p.episodic),
		WorkingSize:       len(p.working),
		MemoryEfficiency:  efficiency(p.longTerm, m.now()),
		LastCleanup:       p.lastCleanup,
	}
}

// efficiency averages the share of high-confidence items and the share of
// items younger than a week.
func efficiency(items []core.Knowledge, now time.Time) float64 {
	if len(items) == 0 {
		return 1
	}
	var confident, fresh int
	for _, k := range items {
		if k.Confidence > 0.7 {
			confident++
		}
		if now.Sub(k.Timestamp) < recencyHalfLife {
			fresh++
		}
	}
	n := float64(len(items))
	return (float64(confident)/n + float64(fresh)/n) / 2
}

// Export snapshots the partition for agentID.
func (m *Manager) Export(agentID string) (Snapshot, error) {
	p, err := m.lookup(agentID)
	if err != nil {
		return Snapshot{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		AgentID:    agentID,
		Config:     p.cfg,
		ShortTerm:  maps.Clone(p.shortTerm),
		LongTerm:   slices.Clone(p.longTerm),
		Episodic:   slices.Clone(p.episodic),
		Working:    slices.Clone(p.working),
		Stats:      m.statsLocked(p),
		ExportedAt: m.now(),
	}, nil
}

// Import replaces the partition for agentID with the snapshot contents.
func (m *Manager) Import(agentID string, s Snapshot) {
	cfg := s.Config
	p := &partition{
		cfg:               resolveConfig(&cfg),
		shortTerm:         maps.Clone(s.ShortTerm),
		longTerm:          slices.Clone(s.LongTerm),
		episodic:          slices.Clone(s.Episodic),
		working:           slices.Clone(s.Working),
		knowledgeStored:   s.Stats.KnowledgeStored,
		experiencesStored: s.Stats.ExperiencesStored,
		lastCleanup:       s.Stats.LastCleanup,
	}
	if p.shortTerm == nil {
		p.shortTerm = make(map[string]ShortTermEntry)
	}
	m.mu.Lock()
	m.partitions[agentID] = p
	m.mu.Unlock()
	m.logger.Info("imported memory", "agent_id", agentID, "knowledge", len(p.longTerm))
}
