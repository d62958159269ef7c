// Package timeouts defines shared timeout constants used by the table server.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// WebsocketWrite caps a single push to a websocket client.
const WebsocketWrite = 5 * time.Second
