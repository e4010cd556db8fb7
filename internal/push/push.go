package push

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/4xmen/cineadmin/internal/db"
	"github.com/4xmen/cineadmin/internal/notify"
)

const namespace = "push-subscription"

// Store is where the admin's subscription lives.
type Store interface {
	Get(namespace string) (string, error)
	Put(namespace, value string) error
	Delete(namespace string) error
}

// Notifier sends Web Push alerts for incoming messages to the admin's
// subscribed browser.
type Notifier struct {
	store           Store
	vapidPublicKey  string
	vapidPrivateKey string
	client          webpush.HTTPClient
	sent            chan int
}

// Subscription represents a stored Web Push subscription.
type Subscription struct {
	Endpoint  string `json:"endpoint"`
	KeyP256dh string `json:"p256dh"`
	KeyAuth   string `json:"auth"`
}

// NewNotifier creates a push Notifier. Returns nil if VAPID keys are empty.
func NewNotifier(store Store, vapidPublicKey, vapidPrivateKey string) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	return &Notifier{
		store:           store,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		client:          http.DefaultClient,
	}
}

// VAPIDPublicKey returns the public VAPID key the browser subscribes with.
func (n *Notifier) VAPIDPublicKey() string {
	return n.vapidPublicKey
}

// Subscribe stores sub, replacing any previous one. raw is the JSON form
// produced by the subscribe helper ({"endpoint","p256dh","auth"}).
func (n *Notifier) Subscribe(raw []byte) error {
	var sub Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}
	if sub.Endpoint == "" || sub.KeyP256dh == "" || sub.KeyAuth == "" {
		return errors.New("push: incomplete subscription")
	}
	data, _ := json.Marshal(sub)
	return n.store.Put(namespace, string(data))
}

func (n *Notifier) Subscription() (*Subscription, error) {
	data, err := n.store.Get(namespace)
	if err != nil {
		return nil, err
	}
	var sub Subscription
	if err := json.Unmarshal([]byte(data), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// payload is the JSON structure sent inside the push notification.
type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Notify pushes message notices; every other kind stays local.
func (n *Notifier) Notify(note notify.Notification) {
	if n == nil || note.Kind != notify.KindMessage {
		return
	}

	sub, err := n.Subscription()
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	if err != nil {
		log.Printf("push: failed to load subscription: %v", err)
		return
	}

	data, _ := json.Marshal(payload{Title: note.Title, Body: note.Body, URL: "/chat"})
	go n.sendToSubscription(*sub, data)
}

func (n *Notifier) sendToSubscription(sub Subscription, data []byte) {
	status := 0
	defer func() {
		if n.sent != nil {
			n.sent <- status
		}
	}()

	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}

	resp, err := webpush.SendNotification(data, s, &webpush.Options{
		HTTPClient:      n.client,
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		Subscriber:      "mailto:admin@cineadmin.local",
		TTL:             3600,
	})
	if err != nil {
		log.Printf("push: failed to send to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	// 410 Gone or 404 means the subscription is expired
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		if err := n.store.Delete(namespace); err != nil {
			log.Printf("push: failed to remove expired subscription: %v", err)
			return
		}
		log.Printf("push: removed expired subscription %s (status %d)", sub.Endpoint, resp.StatusCode)
	}
}
