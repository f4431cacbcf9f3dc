// Package core defines the neutral step/artifact contract every flow is
// built from: typed artifacts addressed by content hash, the
// StepDefinition interface invoked by the scheduler, a generic TypedStep
// adapter for authoring steps against concrete Go types, and the
// canonical-JSON encoding everything else in this engine hashes against.
//
// # Design Principles
//
//  1. No implied fields that could affect determinism (e.g., timestamps,
//     unseeded randomness) belong in a step's Params or Artifact payload.
//  2. Every Artifact's Hash is exactly HashValue(Payload); nothing else
//     participates, so Metadata can carry non-hashed annotations freely.
//  3. Canonical encoding sorts object keys recursively, so two payloads
//     that differ only in field order hash identically.
//
// # Core Types
//
// Artifact: the content-addressed unit exchanged between steps.
// ArtifactSpec: a named, versioned schema binding an Artifact's payload to
// a concrete Go type.
// StepDefinition: the neutral interface the scheduler invokes.
// TypedStep / Adapt: the generic authoring surface that erases into
// StepDefinition.
package core
