// ABOUTME: Webpush delivery backed by VAPID-signed requests to browser push services
// ABOUTME: Wraps the webpush-go client behind the Pusher interface used by the service

package push

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/Xevo88/shuna-gateway/internal/cachestore"
)

// Pusher delivers one encrypted payload to one subscription endpoint and
// reports the push service's status code.
type Pusher interface {
	Push(ctx context.Context, payload []byte, sub *cachestore.PushSubscription) (int, error)
}

// VAPIDConfig carries the voluntary application server identification used
// to sign webpush requests.
type VAPIDConfig struct {
	// Subscriber is a contact URI (mailto: or https:) push services may
	// use to reach the operator.
	Subscriber string

	PublicKey  string
	PrivateKey string

	// TTL is how long, in seconds, push services should retain an
	// undelivered message.
	TTL int
}

// webpushSender is the production Pusher.
type webpushSender struct {
	cfg    VAPIDConfig
	logger *slog.Logger
}

// NewWebPusher creates a Pusher that signs with the given VAPID keys.
// Returns nil when no keypair is configured, which disables the relay.
func NewWebPusher(cfg VAPIDConfig, logger *slog.Logger) Pusher {
	if cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &webpushSender{
		cfg:    cfg,
		logger: logger.With("component", "webpush"),
	}
}

func (w *webpushSender) Push(ctx context.Context, payload []byte, sub *cachestore.PushSubscription) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.PublicKey,
		VAPIDPrivateKey: w.cfg.PrivateKey,
		TTL:             w.cfg.TTL,
	})
	if err != nil {
		return 0, fmt.Errorf("sending webpush: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// GenerateVAPIDKeys creates a fresh VAPID keypair for configuration.
func GenerateVAPIDKeys() (privateKey, publicKey string, err error) {
	return webpush.GenerateVAPIDKeys()
}
