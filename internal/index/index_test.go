package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skywatch/internal/model"
	"skywatch/internal/settings"
)

func newSub(id, userID uint64, topicID string, subType model.SubType) *model.Subscription {
	return &model.Subscription{ID: id, UserID: userID, TopicID: topicID, Type: subType}
}

func TestAddAndLookup(t *testing.T) {
	idx := New(nil)

	sub := newSub(1, 7, "HYPERION", model.SubTypePriceLowerThan)
	idx.Add(sub)

	got := idx.LookupByTopic(CategoryPriceUpdate, "HYPERION")
	require.Len(t, got, 1)
	assert.Same(t, sub, got[0])

	assert.Empty(t, idx.LookupByTopic(CategoryPriceUpdate, "TERMINATOR"))
	assert.Empty(t, idx.LookupByTopic(CategorySold, "HYPERION"))
}

func TestAddSpansAllMatchingPartitions(t *testing.T) {
	idx := New(nil)

	sub := newSub(1, 7, "some-player", model.SubTypePlayer|model.SubTypeSold|model.SubTypeOutbid)
	idx.Add(sub)

	assert.Len(t, idx.LookupByTopic(CategoryPlayer, "some-player"), 1)
	assert.Len(t, idx.LookupByTopic(CategorySold, "some-player"), 1)
	assert.Len(t, idx.LookupByTopic(CategoryOutbid, "some-player"), 1)
	assert.Equal(t, 3, idx.Count())
}

func TestRemoveByValueEquality(t *testing.T) {
	idx := New(nil)
	idx.Add(newSub(1, 7, "HYPERION", model.SubTypePriceLowerThan))

	// a reconstructed record with the same identity removes the original
	idx.Remove(newSub(99, 7, "HYPERION", model.SubTypePriceLowerThan))
	assert.Empty(t, idx.LookupByTopic(CategoryPriceUpdate, "HYPERION"))
	assert.Zero(t, idx.Count())
}

func TestRemoveIsIdempotent(t *testing.T) {
	idx := New(nil)
	sub := newSub(1, 7, "HYPERION", model.SubTypeSold)
	idx.Add(sub)

	idx.Remove(sub)
	idx.Remove(sub)
	assert.Zero(t, idx.Count())
}

func TestRemoveKeepsOtherUsers(t *testing.T) {
	idx := New(nil)
	mine := newSub(1, 7, "HYPERION", model.SubTypeSold)
	theirs := newSub(2, 8, "HYPERION", model.SubTypeSold)
	idx.Add(mine)
	idx.Add(theirs)

	idx.Remove(mine)

	got := idx.LookupByTopic(CategorySold, "HYPERION")
	require.Len(t, got, 1)
	assert.Same(t, theirs, got[0])
}

func TestConcurrentAddRemove(t *testing.T) {
	idx := New(nil)

	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				sub := newSub(uint64(w*perWorker+i), uint64(w), "SHARED_TOPIC", model.SubTypeSold)
				idx.Add(sub)
			}
		}(w)
	}
	// concurrent readers must never observe a torn bucket
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			for _, s := range idx.LookupByTopic(CategorySold, "SHARED_TOPIC") {
				_ = s.UserID
			}
		}
	}()
	wg.Wait()
	<-done

	assert.Equal(t, workers*perWorker, idx.Count())

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			idx.partitions[CategorySold].remove(uint64(w), "SHARED_TOPIC", model.SubTypeSold)
		}(w)
	}
	wg.Wait()

	assert.Zero(t, idx.Count())
}

type stubLoader struct {
	mu       sync.Mutex
	failures int
	calls    int
	settings *settings.FlipSettings
}

func (l *stubLoader) Load(_ context.Context, userID uint64) (*settings.FlipSettings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls <= l.failures {
		return nil, fmt.Errorf("load settings for %d: %w", userID, errors.New("unavailable"))
	}
	return l.settings, nil
}

func TestFlipEntrySettingsLoad(t *testing.T) {
	loader := &stubLoader{settings: &settings.FlipSettings{MinProfit: 100}}
	idx := New(loader)

	idx.Add(&model.Subscription{ID: 1, UserID: 7, Filter: `{"tag":"HYPERION"}`, Type: model.SubTypeFilter})

	var entry *FlipEntry
	idx.RangeFlips(func(e *FlipEntry) bool {
		entry = e
		return false
	})
	require.NotNil(t, entry)

	assert.Eventually(t, func() bool {
		return entry.Settings() != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(100), entry.Settings().MinProfit)
}

func TestFlipEntrySettingsLoadRetries(t *testing.T) {
	orig := settingsRetryBackoff
	settingsRetryBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { settingsRetryBackoff = orig }()

	loader := &stubLoader{failures: 2, settings: &settings.FlipSettings{}}
	idx := New(loader)
	idx.Add(&model.Subscription{ID: 1, UserID: 7, Filter: `{}`, Type: model.SubTypeFilter})

	var entry *FlipEntry
	idx.RangeFlips(func(e *FlipEntry) bool {
		entry = e
		return false
	})
	require.NotNil(t, entry)

	assert.Eventually(t, func() bool {
		return entry.Settings() != nil
	}, time.Second, 5*time.Millisecond)
}

func TestUpdateFlipSettings(t *testing.T) {
	idx := New(nil)
	idx.Add(&model.Subscription{ID: 1, UserID: 7, Filter: `{}`, Type: model.SubTypeFilter})

	idx.UpdateFlipSettings(7, &settings.FlipSettings{MinProfit: 42})

	var entry *FlipEntry
	idx.RangeFlips(func(e *FlipEntry) bool {
		entry = e
		return false
	})
	require.NotNil(t, entry)
	require.NotNil(t, entry.Settings())
	assert.Equal(t, int64(42), entry.Settings().MinProfit)

	// unknown user is a no-op
	idx.UpdateFlipSettings(99, &settings.FlipSettings{})
}

func TestRemoveFlipSubscription(t *testing.T) {
	idx := New(nil)
	sub := &model.Subscription{ID: 1, UserID: 7, Filter: `{}`, Type: model.SubTypeFilter}
	idx.Add(sub)
	require.Equal(t, 1, idx.Count())

	idx.Remove(sub)
	assert.Zero(t, idx.Count())
}
