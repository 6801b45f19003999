package index

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"skywatch/internal/model"
	"skywatch/internal/settings"
	"skywatch/pkg/log"
)

// Category partitions the index; each event handler only consults the
// partitions relevant to its event class.
type Category int

const (
	CategoryOutbid Category = iota
	CategorySold
	CategoryPriceUpdate
	CategoryAuction
	CategoryPlayer
	CategoryBuy
	numCategories
)

// settingsRetryBackoff is the wait schedule between flip-settings load
// retries. Shortened by tests.
var settingsRetryBackoff = []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}

// SettingsLoader resolves the live flip settings of a user. Implemented by
// the settings store combined with the user repository.
type SettingsLoader interface {
	Load(ctx context.Context, userID uint64) (*settings.FlipSettings, error)
}

// bucket is an immutable subscription set for one topic. Mutations build a
// new bucket and swap it in, so readers iterate without locks.
type bucket struct {
	subs []*model.Subscription
}

// partition is one concurrent multimap keyed by topic id.
type partition struct {
	buckets sync.Map // topicId -> *bucket
}

func (p *partition) add(topicID string, sub *model.Subscription) {
	for {
		v, ok := p.buckets.Load(topicID)
		if !ok {
			if _, loaded := p.buckets.LoadOrStore(topicID, &bucket{subs: []*model.Subscription{sub}}); !loaded {
				return
			}
			continue
		}
		old := v.(*bucket)
		next := &bucket{subs: make([]*model.Subscription, 0, len(old.subs)+1)}
		next.subs = append(next.subs, old.subs...)
		next.subs = append(next.subs, sub)
		if p.buckets.CompareAndSwap(topicID, old, next) {
			return
		}
	}
}

// remove rebuilds the bucket without the matching subscriptions and swaps it
// back; concurrent writers force a retry instead of taking a lock.
func (p *partition) remove(userID uint64, topicID string, subType model.SubType) {
	for {
		v, ok := p.buckets.Load(topicID)
		if !ok {
			return
		}
		old := v.(*bucket)
		next := &bucket{subs: make([]*model.Subscription, 0, len(old.subs))}
		for _, s := range old.subs {
			if !s.Matches(userID, topicID, subType) {
				next.subs = append(next.subs, s)
			}
		}
		if len(next.subs) == len(old.subs) {
			return
		}
		if len(next.subs) == 0 {
			if p.buckets.CompareAndDelete(topicID, old) {
				return
			}
			continue
		}
		if p.buckets.CompareAndSwap(topicID, old, next) {
			return
		}
	}
}

func (p *partition) lookup(topicID string) []*model.Subscription {
	v, ok := p.buckets.Load(topicID)
	if !ok {
		return nil
	}
	return v.(*bucket).subs
}

func (p *partition) count() int {
	n := 0
	p.buckets.Range(func(_, v interface{}) bool {
		n += len(v.(*bucket).subs)
		return true
	})
	return n
}

// FlipEntry is one filter subscription together with the live settings of
// its owner. Settings arrive asynchronously and may be swapped at any time.
type FlipEntry struct {
	Sub      *model.Subscription
	settings atomic.Pointer[settings.FlipSettings]
}

// Settings returns the current flip settings, nil while they have not been
// loaded yet (the entry cannot trigger notifications until then).
func (e *FlipEntry) Settings() *settings.FlipSettings {
	return e.settings.Load()
}

// Index is the in-memory subscription index: one concurrent copy-on-write
// multimap per category plus a user-keyed partition for filter
// subscriptions. The index never owns the canonical records; it holds
// shared references whose lifetime belongs to the durable store.
type Index struct {
	partitions [numCategories]partition
	flips      sync.Map // userID -> *FlipEntry
	loader     SettingsLoader
}

// New creates an empty index. loader may be nil when no filter
// subscriptions are expected (tests).
func New(loader SettingsLoader) *Index {
	return &Index{loader: loader}
}

// categoriesFor maps the type bitset to every partition the subscription
// belongs to.
func categoriesFor(t model.SubType) []Category {
	var cats []Category
	if t.Has(model.SubTypePriceLowerThan) || t.Has(model.SubTypePriceHigherThan) {
		cats = append(cats, CategoryPriceUpdate)
	}
	if t.Has(model.SubTypeOutbid) {
		cats = append(cats, CategoryOutbid)
	}
	if t.Has(model.SubTypeSold) {
		cats = append(cats, CategorySold)
	}
	if t.Has(model.SubTypeAuction) {
		cats = append(cats, CategoryAuction)
	}
	if t.Has(model.SubTypePlayer) {
		cats = append(cats, CategoryPlayer)
	}
	if t.Has(model.SubTypeBuy) {
		cats = append(cats, CategoryBuy)
	}
	return cats
}

// Add inserts the subscription into every partition its type flags select.
func (i *Index) Add(sub *model.Subscription) {
	cats := categoriesFor(sub.Type)
	for _, c := range cats {
		i.partitions[c].add(sub.TopicID, sub)
	}
	if sub.Type.Has(model.SubTypeFilter) {
		i.addFlip(sub)
		return
	}
	if len(cats) == 0 {
		log.WithFields(map[string]interface{}{
			"subscription": sub.ID,
			"type":         sub.Type,
		}).Error("Unknown subscription type")
	}
}

// Remove removes the subscription from every partition it was added to,
// matched by (user, topic, type) value equality. Removing twice is a no-op.
func (i *Index) Remove(sub *model.Subscription) {
	for _, c := range categoriesFor(sub.Type) {
		i.partitions[c].remove(sub.UserID, sub.TopicID, sub.Type)
	}
	if sub.Type.Has(model.SubTypeFilter) {
		if v, ok := i.flips.Load(sub.UserID); ok {
			entry := v.(*FlipEntry)
			if entry.Sub.Matches(sub.UserID, sub.TopicID, sub.Type) {
				i.flips.Delete(sub.UserID)
			}
		}
	}
}

// LookupByTopic returns a snapshot of the subscriptions for a topic, safe
// to iterate while concurrent writers proceed.
func (i *Index) LookupByTopic(cat Category, topicID string) []*model.Subscription {
	return i.partitions[cat].lookup(topicID)
}

// Count returns the number of indexed subscription entries across all
// partitions; a subscription spanning several partitions counts once per
// partition.
func (i *Index) Count() int {
	n := 0
	for c := range i.partitions {
		n += i.partitions[c].count()
	}
	i.flips.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// RangeFlips iterates the filter subscriptions.
func (i *Index) RangeFlips(fn func(*FlipEntry) bool) {
	i.flips.Range(func(_, v interface{}) bool {
		return fn(v.(*FlipEntry))
	})
}

// UpdateFlipSettings swaps in new live settings for a user; no-op when the
// user has no filter subscription.
func (i *Index) UpdateFlipSettings(userID uint64, s *settings.FlipSettings) {
	if v, ok := i.flips.Load(userID); ok {
		v.(*FlipEntry).settings.Store(s)
	}
}

func (i *Index) addFlip(sub *model.Subscription) {
	entry := &FlipEntry{Sub: sub}
	i.flips.Store(sub.UserID, entry)
	if i.loader == nil {
		return
	}
	go i.loadSettings(entry)
}

// loadSettings fetches the user's live flip settings, retrying with
// increasing backoff. A final failure is logged and leaves the entry
// without settings; it cannot trigger until the next load attempt.
func (i *Index) loadSettings(entry *FlipEntry) {
	ctx := context.Background()
	var err error
	var s *settings.FlipSettings
	for attempt := 0; ; attempt++ {
		s, err = i.loader.Load(ctx, entry.Sub.UserID)
		if err == nil {
			entry.settings.Store(s)
			return
		}
		if attempt >= len(settingsRetryBackoff) {
			break
		}
		log.WithFields(map[string]interface{}{
			"user":    entry.Sub.UserID,
			"attempt": attempt + 1,
			"error":   err.Error(),
		}).Warn("Failed to load flip settings, retrying")
		time.Sleep(settingsRetryBackoff[attempt])
	}
	log.WithFields(map[string]interface{}{
		"user":  entry.Sub.UserID,
		"error": err.Error(),
	}).Error("Giving up loading flip settings")
}
