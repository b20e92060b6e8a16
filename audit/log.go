package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/freight_backend/config"
	"github.com/mmdatafocus/freight_backend/models"
	"github.com/mmdatafocus/freight_backend/utils"
	"github.com/sirupsen/logrus"
)

// MaxQuerySpan is the widest date range a single audit query may cover.
const MaxQuerySpan = 90 * 24 * time.Hour

// Log is the in-process hash chain. Appends are serialized by mu; reads hand
// out clones.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	sink    Sink
	newHash HashFunc
	now     func() time.Time
	logger  *logrus.Logger

	halted     bool
	haltReason string
}

type Option func(*Log)

func WithHashFunc(h HashFunc) Option {
	return func(l *Log) { l.newHash = h }
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

func NewLog(sink Sink, opts ...Option) *Log {
	if sink == nil {
		sink = NewMemorySink()
	}
	l := &Log{
		sink:    sink,
		newHash: HashFuncOrDefault(""),
		now:     time.Now,
		logger:  config.GetLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// HashFuncOrDefault falls back to SHA-256 for unknown names.
func HashFuncOrDefault(name string) HashFunc {
	h, err := NewHashFunc(name)
	if err != nil {
		return HashFuncOrDefault("")
	}
	return h
}

// LoadChain rebuilds a log from a stored chain and verifies it. A broken chain
// comes back halted together with an IntegrityViolation error.
func LoadChain(ctx context.Context, sink Sink, opts ...Option) (*Log, Report, error) {
	l := NewLog(sink, opts...)
	loader, ok := sink.(Loader)
	if !ok {
		return l, Report{Valid: true}, nil
	}
	entries, err := loader.Load(ctx)
	if err != nil {
		return nil, Report{}, fmt.Errorf("load audit chain: %w", err)
	}
	l.entries = entries
	report := l.Verify()
	if !report.Valid {
		return l, report, l.haltError()
	}
	return l, report, nil
}

// AppendBatch appends drafts as consecutive entries. The sink is written
// first; if it fails the chain is left untouched and the error is returned.
func (l *Log) AppendBatch(ctx context.Context, drafts ...Draft) ([]Entry, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted {
		return nil, l.haltError()
	}

	prev := GenesisHash
	seq := int64(len(l.entries))
	if seq > 0 {
		prev = l.entries[seq-1].IntegrityHash
	}
	// MySQL DATETIME(6) keeps microseconds; truncating here keeps hashes stable
	// across a round trip through GormSink.
	ts := l.now().UTC().Truncate(time.Microsecond)

	batch := make([]Entry, 0, len(drafts))
	for _, d := range drafts {
		if !d.EventType.IsValid() {
			return nil, models.NewError(models.KindInvalidInput, d.EntityType, d.EntityID,
				fmt.Sprintf("unknown audit event type %q", d.EventType))
		}
		e, err := l.entryFromDraft(d)
		if err != nil {
			return nil, err
		}
		seq++
		e.Seq = seq
		e.Timestamp = ts
		e.PrevHash = prev
		e.IntegrityHash, err = computeHash(l.newHash, e, prev)
		if err != nil {
			return nil, fmt.Errorf("hash audit entry: %w", err)
		}
		prev = e.IntegrityHash
		batch = append(batch, e)
	}

	if err := l.sink.Append(ctx, batch); err != nil {
		config.LogError(l.logger, "audit", "AppendBatch", "sink append", len(batch), err)
		return nil, fmt.Errorf("audit append: %w", err)
	}

	out := make([]Entry, len(batch))
	for i, e := range batch {
		l.entries = append(l.entries, e)
		out[i] = e.Clone()
	}
	return out, nil
}

func (l *Log) entryFromDraft(d Draft) (Entry, error) {
	before, err := utils.RawSnapshot(d.Before)
	if err != nil {
		return Entry{}, fmt.Errorf("snapshot before: %w", err)
	}
	after, err := utils.RawSnapshot(d.After)
	if err != nil {
		return Entry{}, fmt.Errorf("snapshot after: %w", err)
	}
	meta, err := utils.RawSnapshot(d.Metadata)
	if err != nil {
		return Entry{}, fmt.Errorf("snapshot metadata: %w", err)
	}
	return Entry{
		ID:         uuid.NewString(),
		ActorID:    d.Actor.ID,
		ActorName:  d.Actor.Name,
		ActorRole:  d.Actor.RoleName(),
		EventType:  d.EventType,
		EntityType: d.EntityType,
		EntityID:   d.EntityID,
		Action:     d.Action,
		Payload:    Payload{Before: before, After: after, Metadata: meta},
	}, nil
}

type Report struct {
	Valid         bool `json:"valid"`
	FirstBadIndex *int `json:"firstBadIndex,omitempty"`
	Checked       int  `json:"checked"`
}

// Verify recomputes the whole chain. The first divergence halts the log.
func (l *Log) Verify() Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := GenesisHash
	for i, e := range l.entries {
		want, err := computeHash(l.newHash, e, prev)
		if err != nil || e.PrevHash != prev || e.IntegrityHash != want || e.Seq != int64(i+1) {
			bad := i
			l.halt(fmt.Sprintf("hash mismatch at index %d (seq %d)", i, e.Seq))
			return Report{Valid: false, FirstBadIndex: &bad, Checked: i + 1}
		}
		prev = e.IntegrityHash
	}
	return Report{Valid: true, Checked: len(l.entries)}
}

func (l *Log) halt(reason string) {
	l.halted = true
	l.haltReason = reason
	l.logger.WithFields(logrus.Fields{
		"module":  "audit",
		"reason":  reason,
		"entries": len(l.entries),
	}).Error("audit chain integrity violation, writes halted")
}

func (l *Log) haltError() error {
	return &models.TransitionError{
		Kind:    models.KindIntegrityViolation,
		Message: "audit chain halted: " + l.haltReason,
	}
}

// Halted reports whether writes are refused.
func (l *Log) Halted() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.halted, l.haltReason
}

// Resume re-enables writes after a manual investigation. It does not repair
// the chain; Verify will halt again until the stored entries are restored.
func (l *Log) Resume(operator, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.halted {
		return
	}
	l.logger.WithFields(logrus.Fields{
		"module":      "audit",
		"operator":    operator,
		"reason":      reason,
		"halt_reason": l.haltReason,
	}).Warn("audit chain writes resumed")
	l.halted = false
	l.haltReason = ""
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns the whole chain in append order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Clone()
	}
	return out
}

type Filter struct {
	EntityID   string
	EntityType models.EntityType
	ActorID    string
	EventType  models.AuditEventType
	From       time.Time
	To         time.Time
	Ascending  bool
	Limit      int
}

// Query returns the entries matching f, newest first unless f.Ascending.
// Missing bounds default to the 90 days ending now; a wider span is rejected.
func (l *Log) Query(f Filter) ([]Entry, error) {
	from, to, err := l.window(f)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	var out []Entry
	for _, e := range l.entries {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		out = append(out, e.Clone())
	}
	l.mu.RUnlock()

	if f.Ascending {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (l *Log) window(f Filter) (time.Time, time.Time, error) {
	from, to := f.From, f.To
	switch {
	case from.IsZero() && to.IsZero():
		to = l.now()
		from = to.Add(-MaxQuerySpan)
	case from.IsZero():
		from = to.Add(-MaxQuerySpan)
	case to.IsZero():
		to = l.now()
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, models.NewError(models.KindInvalidInput, "", "", "date range end is before its start")
	}
	if to.Sub(from) > MaxQuerySpan {
		return time.Time{}, time.Time{}, models.NewError(models.KindInvalidInput, "", "", "date range exceeds 90 days")
	}
	return from, to, nil
}
