// ABOUTME: Package documentation for push notification handling
// ABOUTME: Describes ingest, display routing, webpush relay, and click semantics

// Package push turns incoming push payloads into notifications.
//
// A payload may be JSON ({"title","body","tag"}) or opaque text; either
// way it is recorded first, then shown to every connected client over the
// event hub, then relayed in the background to registered webpush
// subscriptions with VAPID-signed requests. Subscriptions a push service
// reports gone (404 or 410) are pruned during relay.
//
// Clicks always close the notification. An "open" click focuses the first
// connected client when one exists; otherwise the caller is told to open
// a new window at "/".
package push
