package server

// Server is the lifecycle contract of the authority's transport server.
//
// Implementations block in [RunServer] until shutdown is requested, then
// drain active connections and release resources in [Shutdown].
type Server interface {
	// RunServer starts serving requests and blocks until the server stops.
	RunServer()

	// Shutdown gracefully stops the server and frees associated resources.
	Shutdown()
}
