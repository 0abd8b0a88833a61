// Package core defines the domain types and contracts shared by recallmesh:
//
//   - Agents and the RunContext / ToolContext they execute in
//   - Sessions keyed by app, user and session id, plus the SessionStore contract
//   - Events, their tagged payloads and orchestration actions
//   - Memory records and the MemoryStore contract
//   - Artifacts and lifecycle observers
//
// Implementations (stores, agents, runner) live in sibling packages.
package core
