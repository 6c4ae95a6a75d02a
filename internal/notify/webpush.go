package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// Subscription is a browser push endpoint.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// pushPayload is the JSON sent to the push service.
type pushPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Tag   string            `json:"tag,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

type sender func(ctx context.Context, data []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// WebPushNotifier sends every event to all registered push subscriptions.
// Expired subscriptions are dropped.
type WebPushNotifier struct {
	publicKey  string
	privateKey string
	subscriber string
	send       sender

	mu   sync.Mutex
	subs []Subscription
}

func NewWebPushNotifier(publicKey, privateKey, subscriber string, subs []Subscription) *WebPushNotifier {
	return &WebPushNotifier{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		send:       webpush.SendNotificationWithContext,
		subs:       append([]Subscription(nil), subs...),
	}
}

// LoadSubscriptions reads a JSON array of subscriptions. A missing file
// yields no subscriptions.
func LoadSubscriptions(path string) ([]Subscription, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read push subscriptions: %w", err)
	}
	var subs []Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("parse push subscriptions: %w", err)
	}
	return subs, nil
}

// Subscribe registers another endpoint.
func (w *WebPushNotifier) Subscribe(s Subscription) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, existing := range w.subs {
		if existing.Endpoint == s.Endpoint {
			return
		}
	}
	w.subs = append(w.subs, s)
}

// Subscriptions returns the live subscriptions.
func (w *WebPushNotifier) Subscriptions() []Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Subscription(nil), w.subs...)
}

func (w *WebPushNotifier) Notify(ctx context.Context, e Event) error {
	data, err := json.Marshal(pushPayload{Title: e.Title, Body: e.Body, Tag: string(e.Kind), Data: e.Data})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var errs []error
	for _, sub := range w.Subscriptions() {
		err := w.sendOne(ctx, sub, data)
		if errors.Is(err, ErrExpired) {
			slog.InfoContext(ctx, "Removing expired push subscription", "endpoint", sub.Endpoint)
			w.remove(sub.Endpoint)
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *WebPushNotifier) sendOne(ctx context.Context, sub Subscription, data []byte) error {
	resp, err := w.send(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  w.publicKey,
		VAPIDPrivateKey: w.privateKey,
		Subscriber:      w.subscriber,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

func (w *WebPushNotifier) remove(endpoint string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.subs[:0]
	for _, s := range w.subs {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	w.subs = kept
}
