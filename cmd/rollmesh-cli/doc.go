// Command rollmesh-cli inspects the saves and match journal of a peer's
// data directory, validates configuration and queries relays.
//
// Usage:
//
//	rollmesh-cli save list
//	rollmesh-cli journal replay MATCH_ID
//	rollmesh-cli relay --url http://relay.example:7480 rooms
package main
