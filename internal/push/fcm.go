// Package push delivers notifications to devices through FCM.
package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"skywatch/internal/config"
	"skywatch/internal/model"
	"skywatch/pkg/breaker"
)

// ErrInvalidToken signals that the transport permanently rejected the
// device token; the caller removes the device.
var ErrInvalidToken = errors.New("push token rejected")

// Transport attempts delivery of one notification to one device token.
// A false return without ErrInvalidToken is a transient failure.
type Transport interface {
	TryDeliver(ctx context.Context, token string, n *model.Notification) (bool, error)
}

// fcmResponse is the subset of the FCM send response the service inspects.
type fcmResponse struct {
	Success int `json:"success"`
	Results []struct {
		Error string `json:"error"`
	} `json:"results"`
}

// FCMTransport sends through the FCM legacy HTTP endpoint. A circuit
// breaker short-circuits delivery while the endpoint is failing.
type FCMTransport struct {
	client   *resty.Client
	endpoint string
	key      string
	senderID string
	cb       *breaker.CircuitBreaker
}

// NewFCMTransport creates the transport from config.
func NewFCMTransport(cfg config.PushConfig) *FCMTransport {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(1)
	return &FCMTransport{
		client:   client,
		endpoint: cfg.Endpoint,
		key:      cfg.Key,
		senderID: cfg.SenderID,
		cb: breaker.NewCircuitBreaker("fcm", breaker.Config{
			MaxRequests: 5,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
		}),
	}
}

// TryDeliver posts the notification to FCM. It returns true on a reported
// success, ErrInvalidToken when the token is dead, and a plain error on
// transient transport failures.
func (t *FCMTransport) TryDeliver(ctx context.Context, token string, n *model.Notification) (bool, error) {
	payload := map[string]interface{}{
		"to":           token,
		"notification": n,
		"data":         n.Data,
	}

	var result fcmResponse
	err := t.cb.Execute(ctx, func() error {
		resp, err := t.client.R().
			SetContext(ctx).
			SetHeader("Authorization", "key="+t.key).
			SetHeader("Sender", "id="+t.senderID).
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			SetResult(&result).
			Post(t.endpoint)
		if err != nil {
			return fmt.Errorf("fcm request: %w", err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("fcm returned status %d", resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if result.Success >= 1 {
		return true, nil
	}
	for _, r := range result.Results {
		if r.Error == "NotRegistered" || r.Error == "InvalidRegistration" || r.Error == "MismatchSenderId" {
			return false, ErrInvalidToken
		}
	}
	return false, nil
}
