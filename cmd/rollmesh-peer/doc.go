// Command rollmesh-peer plays an arena match against other peers.
//
// The peer waits in a lobby until every peer in its room is ready, then
// runs the rollback session at the configured tick rate over gossip or a
// websocket relay. When the match ends the confirmed state is written to
// the save directory, and with the journal enabled every confirmed frame
// can be replayed later with rollmesh-cli.
//
// Usage:
//
//	rollmesh-peer --config peer.yaml
//	rollmesh-peer --room duel --seed 10.0.0.5:7946 --bot --frames 3600
//	rollmesh-peer --transport relay --relay-url wss://relay.example:7480
package main
