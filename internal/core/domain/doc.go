// Package domain defines the core domain models for RollMesh.
//
// Domain models are pure value objects without any IO dependencies or
// framework coupling. This package contains:
//
//   - Frame, Input, InputSet: per-frame player input and its status
//   - PeerRecord: the session's view of one participant
//   - Checkpoint, Digest, Desync: saved state and state agreement
//   - FrameResult, Simulation: the contract with the host game
//   - Errors: Domain-specific error definitions
package domain
