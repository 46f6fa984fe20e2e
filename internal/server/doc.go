// Package server publishes a live graph over socket.io. Clients receive a
// snapshot of every node on connection and an update for every change after
// it, and edit the graph by emitting insert, update, rename and remove
// events. A plain GET /health answers OK.
package server
