// Package server manages the HTTP server lifecycle: non-blocking start,
// graceful shutdown, and signal handling.
package server
