// Package server wires and runs the authority's transport servers.
//
// It provides orchestration for the HTTP server and the websocket hub
// lifecycle, including startup, signal handling, and graceful shutdown.
package server
