package protocol

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"ProcessMCP/internal/transport"
	"ProcessMCP/pkg/logger"
)

const (
	defaultTTL        = 5 * time.Minute
	defaultMaxEntries = 256
)

// DiscoveryTags are sent with the read-only query that asks a target for its
// protocol document.
var DiscoveryTags = []transport.Tag{
	{Name: "Action", Value: "Info"},
	{Name: "Protocol", Value: "ADP"},
}

// ReadOnlyQuerier is the subset of the transport discovery needs.
type ReadOnlyQuerier interface {
	QueryReadOnly(ctx context.Context, targetID string, tags []transport.Tag) (*transport.ReadResult, error)
}

// DocumentStore is an optional second level cache shared between processes.
type DocumentStore interface {
	Load(ctx context.Context, targetID string) ([]byte, bool, error)
	Save(ctx context.Context, targetID string, raw []byte, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// CacheStats summarises the discovery cache.
type CacheStats struct {
	Size      int      `json:"size"`
	TargetIDs []string `json:"targetIds"`
}

// Observer receives discovery cache events, typically metrics.
type Observer interface {
	ObserveDiscovery(source string)
}

// DiscoveryOption customises a Discoverer.
type DiscoveryOption func(*Discoverer)

// WithTTL sets how long a discovered document stays fresh.
func WithTTL(ttl time.Duration) DiscoveryOption {
	return func(d *Discoverer) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithMaxEntries bounds the number of cached documents.
func WithMaxEntries(n int) DiscoveryOption {
	return func(d *Discoverer) {
		if n > 0 {
			d.maxEntries = n
		}
	}
}

// WithParser replaces the default parser, e.g. to change the accepted
// protocol versions.
func WithParser(p *Parser) DiscoveryOption {
	return func(d *Discoverer) {
		if p != nil {
			d.parser = p
		}
	}
}

// WithDocumentStore enables the shared second level cache.
func WithDocumentStore(store DocumentStore) DiscoveryOption {
	return func(d *Discoverer) {
		d.store = store
	}
}

// WithObserver registers an event observer.
func WithObserver(o Observer) DiscoveryOption {
	return func(d *Discoverer) {
		d.observer = o
	}
}

// WithDiscoveryLogger overrides the component logger.
func WithDiscoveryLogger(l *slog.Logger) DiscoveryOption {
	return func(d *Discoverer) {
		if l != nil {
			d.log = l
		}
	}
}

// Discoverer fetches and caches protocol documents keyed by target id.
type Discoverer struct {
	querier    ReadOnlyQuerier
	parser     *Parser
	store      DocumentStore
	observer   Observer
	log        *slog.Logger
	ttl        time.Duration
	maxEntries int
	cache      *expirable.LRU[string, *Document]
	now        func() time.Time
}

// NewDiscoverer builds a discovery cache on top of querier.
func NewDiscoverer(querier ReadOnlyQuerier, opts ...DiscoveryOption) *Discoverer {
	d := &Discoverer{
		querier:    querier,
		parser:     defaultParser,
		log:        logger.Named("discovery"),
		ttl:        defaultTTL,
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.cache = expirable.NewLRU[string, *Document](d.maxEntries, nil, d.ttl)
	return d
}

// Discover returns the protocol document of targetID, or nil when the target
// does not publish a valid one. Transport failures are also reported as nil
// so callers fall back to the legacy route.
func (d *Discoverer) Discover(ctx context.Context, targetID string) *Document {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil
	}
	if doc, ok := d.cache.Get(targetID); ok {
		d.observe("memory")
		return doc
	}

	if d.store != nil {
		raw, ok, err := d.store.Load(ctx, targetID)
		if err != nil {
			d.log.Warn("shared protocol cache unavailable", "target", targetID, "error", err)
		} else if ok {
			if doc, perr := d.parser.Parse(raw); perr == nil {
				doc.DiscoveredAt = d.now()
				d.cache.Add(targetID, doc)
				d.observe("shared")
				return doc
			}
		}
	}

	if d.querier == nil {
		d.observe("unavailable")
		return nil
	}
	result, err := d.querier.QueryReadOnly(ctx, targetID, DiscoveryTags)
	if err != nil {
		d.log.Info("protocol discovery failed", "target", targetID, "error", err)
		d.observe("error")
		return nil
	}
	if result == nil || strings.TrimSpace(result.Data) == "" {
		d.observe("legacy")
		return nil
	}

	raw := []byte(result.Data)
	doc, err := d.parser.Parse(raw)
	if err != nil {
		d.log.Debug("target has no usable protocol document", "target", targetID, "error", err)
		d.observe("legacy")
		return nil
	}
	doc.DiscoveredAt = d.now()
	d.cache.Add(targetID, doc)
	d.observe("network")

	if d.store != nil {
		if err := d.store.Save(ctx, targetID, raw, d.ttl); err != nil {
			d.log.Warn("store protocol document failed", "target", targetID, "error", err)
		}
	}
	return doc
}

// Put replaces the cached document of targetID.
func (d *Discoverer) Put(targetID string, doc *Document) {
	if doc == nil {
		d.cache.Remove(targetID)
		return
	}
	if doc.DiscoveredAt.IsZero() {
		doc.DiscoveredAt = d.now()
	}
	d.cache.Add(targetID, doc)
}

// Invalidate drops the cached document of targetID.
func (d *Discoverer) Invalidate(targetID string) {
	d.cache.Remove(targetID)
}

// Clear empties the in-process cache and the shared store if configured.
func (d *Discoverer) Clear(ctx context.Context) {
	d.cache.Purge()
	if d.store != nil {
		if err := d.store.Clear(ctx); err != nil {
			d.log.Warn("clear shared protocol cache failed", "error", err)
		}
	}
}

// Stats reports the number of cached documents and their target ids.
func (d *Discoverer) Stats() CacheStats {
	keys := d.cache.Keys()
	sort.Strings(keys)
	if keys == nil {
		keys = []string{}
	}
	return CacheStats{Size: len(keys), TargetIDs: keys}
}

func (d *Discoverer) observe(source string) {
	if d.observer != nil {
		d.observer.ObserveDiscovery(source)
	}
}
