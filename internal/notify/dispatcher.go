// Package notify is the notification dispatch pipeline: deduplication,
// per-device fan-out with dead-device pruning, and re-publication onto the
// outbound topic. Dispatch is fire-and-forget relative to the matching
// engine; a failed send never reaches the event-handling path.
package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/allegro/bigcache/v3"
	"golang.org/x/time/rate"

	"skywatch/internal/config"
	"skywatch/internal/filter"
	"skywatch/internal/model"
	"skywatch/internal/monitor"
	"skywatch/internal/push"
	"skywatch/internal/repository"
	"skywatch/pkg/kafka"
	"skywatch/pkg/log"
)

// task is one queued dispatch.
type task struct {
	sub *model.Subscription
	n   *model.Notification
}

// Dispatcher fans triggered notifications out to devices and the outbound
// topic. It owns a bounded work queue drained by a worker pool; when the
// queue is full the oldest task is dropped so matching never blocks.
type Dispatcher struct {
	users     repository.UserRepository
	devices   repository.DeviceRepository
	transport push.Transport
	producer  kafka.Publisher
	topic     string

	dedup    *bigcache.BigCache
	matchers *filter.Cache
	limiter  *rate.Limiter
	metrics  *monitor.MetricsCollector

	baseURL string
	iconURL string

	queue   chan task
	workers int
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher; call Start to launch its workers.
func NewDispatcher(
	cfg *config.Config,
	users repository.UserRepository,
	devices repository.DeviceRepository,
	transport push.Transport,
	producer kafka.Publisher,
) (*Dispatcher, error) {
	dedup, err := bigcache.New(context.Background(), bigcache.DefaultConfig(cfg.Notify.DedupWindow))
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}
	return &Dispatcher{
		users:     users,
		devices:   devices,
		transport: transport,
		producer:  producer,
		topic:     cfg.Kafka.Topics.Notifications,
		dedup:     dedup,
		matchers:  filter.NewCache(),
		limiter:   rate.NewLimiter(rate.Limit(cfg.Notify.SendRate), cfg.Notify.SendBurst),
		metrics:   monitor.GetCollector(),
		baseURL:   cfg.Push.BaseURL,
		iconURL:   cfg.Push.ItemIconsURL,
		queue:     make(chan task, cfg.Notify.QueueSize),
		workers:   cfg.Notify.Workers,
	}, nil
}

// Start launches the worker pool. Workers exit when the context is
// cancelled; in-flight tasks are best effort and not awaited.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	log.Infof("Started %d dispatch workers", d.workers)
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.queue:
			d.metrics.SetDispatchQueueDepth(len(d.queue))
			d.deliver(ctx, t)
		}
	}
}

// Send deduplicates and enqueues one notification for the subscription's
// owner. Identical (title, body, url) notifications to the same user
// within the dedup window are dropped silently.
func (d *Dispatcher) Send(sub *model.Subscription, title, body, url, icon string, data map[string]string) {
	sig := signature(sub.UserID, title, body, url)
	if _, err := d.dedup.Get(sig); err == nil {
		d.metrics.RecordDedupSuppressed()
		return
	}
	if err := d.dedup.Set(sig, []byte{1}); err != nil {
		log.WithError(err).Warn("Failed to record dedup signature")
	}

	t := task{
		sub: sub,
		n: &model.Notification{
			Title: title,
			Body:  body,
			URL:   url,
			Icon:  icon,
			Data:  data,
		},
	}
	d.enqueue(t)
}

// enqueue pushes a task, dropping the oldest queued task when full.
func (d *Dispatcher) enqueue(t task) {
	for {
		select {
		case d.queue <- t:
			d.metrics.SetDispatchQueueDepth(len(d.queue))
			return
		default:
		}
		select {
		case <-d.queue:
			d.metrics.RecordDispatchDropped()
		default:
		}
	}
}

// deliver runs steps 2-5 of one dispatch. Every failure is contained here;
// nothing propagates to the worker loop.
func (d *Dispatcher) deliver(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(map[string]interface{}{
				"user":  t.sub.UserID,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Panic during notification dispatch")
		}
	}()

	user, err := d.users.GetByID(ctx, t.sub.UserID)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"user":  t.sub.UserID,
			"error": err.Error(),
		}).Error("Could not resolve notification recipient")
		d.metrics.RecordNotification("error")
		return
	}

	devices, err := d.devices.ListByUser(ctx, user.ID)
	if err != nil {
		log.WithError(err).Error("Could not list devices")
		devices = nil
	}
	if len(devices) > 0 {
		log.WithFields(map[string]interface{}{
			"user":  user.ID,
			"title": t.n.Title,
		}).Info("Sending notification")
	}

	// all devices are notified; only rejected tokens are pruned
	delivered := 0
	for i := range devices {
		if err := d.limiter.Wait(ctx); err != nil {
			break
		}
		ok, err := d.transport.TryDeliver(ctx, devices[i].Token, t.n)
		if ok {
			delivered++
			continue
		}
		if errors.Is(err, push.ErrInvalidToken) {
			if delErr := d.devices.Delete(ctx, devices[i].ID); delErr != nil {
				log.WithError(delErr).Error("Failed to remove dead device")
			} else {
				d.metrics.RecordDevicePruned()
			}
			continue
		}
		log.WithFields(map[string]interface{}{
			"user":   user.ID,
			"device": devices[i].Name,
			"error":  fmt.Sprint(err),
		}).Error("Push delivery failed")
	}

	// republish even when every device failed; dedup already passed
	d.republish(ctx, user.ExternalID, t)

	if delivered > 0 {
		d.metrics.RecordNotification("delivered")
	} else {
		d.metrics.RecordNotification("undelivered")
	}
}

func (d *Dispatcher) republish(ctx context.Context, externalUserID string, t task) {
	data := make(map[string]string, len(t.n.Data)+2)
	for k, v := range t.n.Data {
		data[k] = v
	}
	data["userId"] = externalUserID
	data["subId"] = fmt.Sprintf("%d", t.sub.ID)

	msg := &model.NotificationMessage{
		Title: t.n.Title,
		Body:  t.n.Body,
		URL:   t.n.URL,
		Icon:  t.n.Icon,
		Data:  data,
	}
	if err := d.producer.Publish(ctx, d.topic, externalUserID, msg); err != nil {
		log.WithFields(map[string]interface{}{
			"user":  externalUserID,
			"error": err.Error(),
		}).Error("Failed to republish notification")
	}
}

// matchesFilter evaluates the subscription's predicate against the
// listing. An absent filter always passes. On evaluation failure the
// record's attribute lookup is rebuilt once and the predicate retried; a
// filter that still fails skips only this subscription.
func (d *Dispatcher) matchesFilter(sub *model.Subscription, auction *model.Auction) bool {
	matcher, err := d.matchers.Matcher(sub)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"subscription": sub.ID,
			"error":        err.Error(),
		}).Error("Broken subscription filter")
		return false
	}
	if matcher == nil {
		return true
	}

	ok, err := matcher(auction)
	if err != nil {
		auction.RebuildAttributeLookup()
		ok, err = matcher(auction)
	}
	if err != nil {
		log.WithFields(map[string]interface{}{
			"subscription": sub.ID,
			"auction":      auction.UUID,
			"error":        err.Error(),
		}).Error("Filter evaluation failed")
		return false
	}
	return ok
}

func signature(userID uint64, title, body, url string) string {
	h := sha1.New()
	fmt.Fprintf(h, "%d|%s|%s|%s", userID, title, body, url)
	return hex.EncodeToString(h.Sum(nil))
}
