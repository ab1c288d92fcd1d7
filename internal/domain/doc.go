// Package domain contains the core business entities and interfaces of the
// task orchestrator: tasks, runs, outbox/inbox entries, budget ledgers,
// circuit state, and API keys.
//
// This package is the innermost layer of the hexagonal architecture,
// containing pure business logic with no external dependencies. It defines
// entities, value objects, repository interfaces (ports), and domain errors.
//
// # Layer Boundary Rules
//
// The domain layer has strict import restrictions enforced by depguard:
//
//	| CAN Import     | CANNOT Import                                     |
//	|----------------|----------------------------------------------------|
//	| stdlib, subpkgs| slog, otel, zap, http, pgx, app, transport, infra  |
//
// This ensures the domain remains pure and testable without infrastructure.
// Entities MUST NOT carry JSON tags (the transport layer adds those via its
// own DTOs); the domain MUST NOT log directly; repository interfaces define
// only the contract, never an implementation.
package domain
