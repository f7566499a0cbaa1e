// Command rollmesh-relay forwards peer datagrams between members of a room
// over websockets, for peers that cannot reach each other directly.
//
// Usage:
//
//	rollmesh-relay --addr 0.0.0.0:7480
//	rollmesh-relay --config relay.yaml
package main
