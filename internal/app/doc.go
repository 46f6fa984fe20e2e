// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the primary execution lifecycle, decoupled
// from any specific entrypoint like a CLI or server.
//
// An App loads a sheet into a calculation graph, together with the sheets and
// host modules it imports, computes it, and either prints the results or keeps
// serving the live graph over socket.io.
package app
