package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skywatch/internal/config"
	"skywatch/internal/model"
	"skywatch/internal/push"
	"skywatch/internal/repository"
)

type fakeUsers struct {
	user *model.User
}

func (f *fakeUsers) GetByID(_ context.Context, id uint64) (*model.User, error) {
	if f.user == nil || f.user.ID != id {
		return nil, repository.ErrNotFound
	}
	return f.user, nil
}

func (f *fakeUsers) GetByExternalID(_ context.Context, externalID string) (*model.User, error) {
	if f.user == nil || f.user.ExternalID != externalID {
		return nil, repository.ErrNotFound
	}
	return f.user, nil
}

func (f *fakeUsers) GetOrCreate(ctx context.Context, externalID string) (*model.User, error) {
	return f.GetByExternalID(ctx, externalID)
}

type fakeDevices struct {
	mu      sync.Mutex
	devices []model.Device
	deleted []uint64
}

func (f *fakeDevices) ListByUser(_ context.Context, _ uint64) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Device(nil), f.devices...), nil
}

func (f *fakeDevices) Upsert(_ context.Context, _ *model.Device) error { return nil }

func (f *fakeDevices) Delete(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDevices) deletedIDs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.deleted...)
}

// fakeTransport returns a scripted result per device token.
type fakeTransport struct {
	mu      sync.Mutex
	results map[string]error // token -> error (nil = success)
	sent    []string
}

func (f *fakeTransport) TryDeliver(_ context.Context, token string, _ *model.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, token)
	err, ok := f.results[token]
	if !ok {
		return true, nil
	}
	return false, err
}

func (f *fakeTransport) sentTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type published struct {
	topic   string
	key     string
	payload interface{}
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, key: key, payload: payload})
	return nil
}

func (f *fakePublisher) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Notify.DedupWindow = time.Minute
	cfg.Notify.QueueSize = 16
	cfg.Notify.Workers = 2
	cfg.Notify.SendRate = 10000
	cfg.Notify.SendBurst = 10000
	return cfg
}

func newTestDispatcher(t *testing.T, devices *fakeDevices, transport *fakeTransport, publisher *fakePublisher) *Dispatcher {
	t.Helper()
	users := &fakeUsers{user: &model.User{ID: 7, ExternalID: "ext-7"}}
	d, err := NewDispatcher(testConfig(), users, devices, transport, publisher)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d.Start(ctx)
	return d
}

func TestSendDeliversAndRepublishes(t *testing.T) {
	devices := &fakeDevices{devices: []model.Device{{ID: 1, UserID: 7, Name: "phone", Token: "tok-1"}}}
	transport := &fakeTransport{}
	publisher := &fakePublisher{}
	d := newTestDispatcher(t, devices, transport, publisher)

	sub := &model.Subscription{ID: 3, UserID: 7}
	d.Send(sub, "Item Sold", "Your Hyperion sold for 5", "https://sky.coflnet.com/auction/a1", "", nil)

	assert.Eventually(t, func() bool {
		return len(publisher.messages()) == 1
	}, time.Second, 5*time.Millisecond)

	require.Len(t, transport.sentTokens(), 1)
	msg := publisher.messages()[0]
	assert.Equal(t, "sky.notifications", msg.topic)
	assert.Equal(t, "ext-7", msg.key)

	payload := msg.payload.(*model.NotificationMessage)
	assert.Equal(t, "Item Sold", payload.Title)
	assert.Equal(t, "ext-7", payload.Data["userId"])
	assert.Equal(t, "3", payload.Data["subId"])
}

func TestSendDeduplicatesWithinWindow(t *testing.T) {
	devices := &fakeDevices{}
	transport := &fakeTransport{}
	publisher := &fakePublisher{}
	d := newTestDispatcher(t, devices, transport, publisher)

	sub := &model.Subscription{ID: 3, UserID: 7}
	for i := 0; i < 5; i++ {
		d.Send(sub, "Outbid", "You were outbid on Hyperion by 100", "u", "", nil)
	}

	assert.Eventually(t, func() bool {
		return len(publisher.messages()) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, publisher.messages(), 1)
}

func TestSendDistinctBodiesAreNotDeduplicated(t *testing.T) {
	devices := &fakeDevices{}
	transport := &fakeTransport{}
	publisher := &fakePublisher{}
	d := newTestDispatcher(t, devices, transport, publisher)

	sub := &model.Subscription{ID: 3, UserID: 7}
	d.Send(sub, "Outbid", "You were outbid on Hyperion by 100", "u", "", nil)
	d.Send(sub, "Outbid", "You were outbid on Hyperion by 250", "u", "", nil)

	assert.Eventually(t, func() bool {
		return len(publisher.messages()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestInvalidTokenPrunesDevice(t *testing.T) {
	devices := &fakeDevices{devices: []model.Device{
		{ID: 1, UserID: 7, Name: "phone", Token: "dead"},
		{ID: 2, UserID: 7, Name: "tablet", Token: "alive"},
	}}
	transport := &fakeTransport{results: map[string]error{"dead": push.ErrInvalidToken}}
	publisher := &fakePublisher{}
	d := newTestDispatcher(t, devices, transport, publisher)

	d.Send(&model.Subscription{ID: 3, UserID: 7}, "New bid", "body", "u", "", nil)

	assert.Eventually(t, func() bool {
		return len(devices.deletedIDs()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{1}, devices.deletedIDs())

	// the healthy device was still notified
	assert.Contains(t, transport.sentTokens(), "alive")
}

func TestRepublishesWhenAllDeliveriesFail(t *testing.T) {
	devices := &fakeDevices{devices: []model.Device{{ID: 1, UserID: 7, Name: "phone", Token: "tok"}}}
	transport := &fakeTransport{results: map[string]error{"tok": assert.AnError}}
	publisher := &fakePublisher{}
	d := newTestDispatcher(t, devices, transport, publisher)

	d.Send(&model.Subscription{ID: 3, UserID: 7}, "Price Alert", "body", "u", "", nil)

	assert.Eventually(t, func() bool {
		return len(publisher.messages()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	users := &fakeUsers{user: &model.User{ID: 7, ExternalID: "ext-7"}}
	cfg := testConfig()
	cfg.Notify.QueueSize = 2
	d, err := NewDispatcher(cfg, users, &fakeDevices{}, &fakeTransport{}, &fakePublisher{})
	require.NoError(t, err)
	// no workers running, the queue only fills

	for i := 0; i < 5; i++ {
		d.enqueue(task{sub: &model.Subscription{ID: uint64(i), UserID: 7}, n: &model.Notification{}})
	}

	// the two newest survive
	assert.Len(t, d.queue, 2)
	first := <-d.queue
	assert.Equal(t, uint64(3), first.sub.ID)
}

func TestNotifierFilterGatesDispatch(t *testing.T) {
	devices := &fakeDevices{}
	transport := &fakeTransport{}
	publisher := &fakePublisher{}
	d := newTestDispatcher(t, devices, transport, publisher)
	n := NewNotifier(d)

	sub := &model.Subscription{ID: 3, UserID: 7, Type: model.SubTypePlayer | model.SubTypeFilter, Filter: `{"tag":"HYPERION"}`}

	n.NewAuction(sub, &model.Auction{UUID: "a1", Tag: "TERMINATOR", ItemName: "Terminator"})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, publisher.messages())

	n.NewAuction(sub, &model.Auction{UUID: "a2", Tag: "HYPERION", ItemName: "Hyperion"})
	assert.Eventually(t, func() bool {
		return len(publisher.messages()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotifierFilterAppliesWithoutFilterFlag(t *testing.T) {
	devices := &fakeDevices{}
	transport := &fakeTransport{}
	publisher := &fakePublisher{}
	d := newTestDispatcher(t, devices, transport, publisher)
	n := NewNotifier(d)

	// filter text gates dispatch even when the filter type flag is unset
	sub := &model.Subscription{ID: 4, UserID: 7, Type: model.SubTypePriceLowerThan, Filter: `{"tag":"HYPERION"}`}

	n.AuctionPriceAlert(sub, &model.Auction{UUID: "a1", Tag: "TERMINATOR", ItemName: "Terminator", StartingBid: 100})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, publisher.messages())

	n.AuctionPriceAlert(sub, &model.Auction{UUID: "a2", Tag: "HYPERION", ItemName: "Hyperion", StartingBid: 100})
	assert.Eventually(t, func() bool {
		return len(publisher.messages()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotifierOutbidAmount(t *testing.T) {
	devices := &fakeDevices{}
	transport := &fakeTransport{}
	publisher := &fakePublisher{}
	d := newTestDispatcher(t, devices, transport, publisher)
	n := NewNotifier(d)

	a := &model.Auction{
		UUID: "a1", ItemName: "Hyperion",
		Bids: []model.Bid{
			{Bidder: "alice", Amount: 100},
			{Bidder: "bob", Amount: 150},
		},
	}
	n.Outbid(&model.Subscription{ID: 3, UserID: 7}, a, a.Bids[0])

	assert.Eventually(t, func() bool {
		return len(publisher.messages()) == 1
	}, time.Second, 5*time.Millisecond)

	payload := publisher.messages()[0].payload.(*model.NotificationMessage)
	assert.Equal(t, "Outbid", payload.Title)
	assert.Equal(t, "You were outbid on Hyperion by 50", payload.Body)
	assert.Equal(t, "https://sky.coflnet.com/auction/a1", payload.URL)
}
