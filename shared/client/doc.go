// Package client is the Go client for the lostfound chat service.
//
// View keeps one deduplicated, ordered message list for the open conversation plus a
// global unread counter, merging history pulls with realtime pushes. Session drives a
// View over a Transport (WebSocket) and a History (HTTP) and owns room membership
// across conversation switches and reconnects.
package client
