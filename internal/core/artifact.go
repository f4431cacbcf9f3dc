package core

import (
	"errors"
	"fmt"
)

// ArtifactKind tags the shape of an artifact's payload. GenericJSON is the
// only kind in scope for this engine; the type exists so a future kind can
// be added without touching the Artifact struct.
type ArtifactKind string

// GenericJSON is the only artifact kind currently defined.
const GenericJSON ArtifactKind = "generic_json"

// Artifact is the neutral, content-addressed unit exchanged between steps.
//
// Invariant: for any artifact accepted by the scheduler, Hash equals
// HashValue(Payload). A freshly constructed artifact may carry an empty
// Hash; the engine fills it in before storing it.
type Artifact struct {
	Kind     ArtifactKind `json:"kind"`
	Hash     string       `json:"hash"`
	Payload  any          `json:"payload"`
	Metadata any          `json:"metadata,omitempty"`
}

// NewUnhashedArtifact builds an artifact with an empty Hash, to be filled
// in by the scheduler once the payload is finalised.
func NewUnhashedArtifact(kind ArtifactKind, payload any, metadata any) Artifact {
	return Artifact{Kind: kind, Payload: payload, Metadata: metadata}
}

// Sealed computes the artifact's hash from its payload and returns a copy
// with Hash populated. Metadata never participates in the hash.
func (a Artifact) Sealed() (Artifact, error) {
	h, err := HashValue(a.Payload)
	if err != nil {
		return Artifact{}, fmt.Errorf("core: seal artifact: %w", err)
	}
	a.Hash = h
	return a, nil
}

// Verify reports whether Hash matches the digest of Payload.
func (a Artifact) Verify() error {
	want, err := HashValue(a.Payload)
	if err != nil {
		return err
	}
	if want != a.Hash {
		return fmt.Errorf("core: artifact hash mismatch: have %s want %s", a.Hash, want)
	}
	return nil
}

// ArtifactDecodeError describes why a typed decode of a neutral artifact
// failed.
type ArtifactDecodeError struct {
	Reason string
}

func (e *ArtifactDecodeError) Error() string {
	return "core: artifact decode: " + e.Reason
}

// ErrArtifactKindMismatch is wrapped by ArtifactDecodeError when the
// artifact's Kind does not match the spec's KIND.
var ErrArtifactKindMismatch = errors.New("artifact kind mismatch")

// ArtifactSpec is a named, versioned schema for a typed artifact payload.
// T is the Go type the payload decodes into.
type ArtifactSpec[T any] struct {
	// Kind is the artifact kind this spec encodes/decodes.
	Kind ArtifactKind
	// SchemaVersion defaults to 1 when zero.
	SchemaVersion int
	// VersionFieldName defaults to "schema_version" when empty.
	VersionFieldName string
	// Validate runs after structural decoding, if set.
	Validate func(T) error
}

func (s ArtifactSpec[T]) schemaVersion() int {
	if s.SchemaVersion == 0 {
		return 1
	}
	return s.SchemaVersion
}

func (s ArtifactSpec[T]) versionField() string {
	if s.VersionFieldName == "" {
		return "schema_version"
	}
	return s.VersionFieldName
}

// Encode converts payload into a neutral, hash-sealed Artifact, inserting
// the schema version field into the payload map if it is absent.
func (s ArtifactSpec[T]) Encode(payload T, metadata any) (Artifact, error) {
	raw, err := toJSONMap(payload)
	if err != nil {
		return Artifact{}, fmt.Errorf("core: encode artifact: %w", err)
	}
	field := s.versionField()
	if _, present := raw[field]; !present {
		raw[field] = s.schemaVersion()
	}
	a := NewUnhashedArtifact(s.Kind, raw, metadata)
	return a.Sealed()
}

// Decode validates kind and schema version, then decodes the payload into
// T and runs the spec's semantic Validate hook, if any.
func (s ArtifactSpec[T]) Decode(a Artifact) (T, error) {
	var zero T
	if a.Kind != s.Kind {
		return zero, &ArtifactDecodeError{Reason: fmt.Sprintf("%v: have %q want %q", ErrArtifactKindMismatch, a.Kind, s.Kind)}
	}
	raw, ok := a.Payload.(map[string]any)
	if !ok {
		var err error
		raw, err = toJSONMap(a.Payload)
		if err != nil {
			return zero, &ArtifactDecodeError{Reason: "payload is not a JSON object"}
		}
	}
	field := s.versionField()
	v, present := raw[field]
	if !present {
		return zero, &ArtifactDecodeError{Reason: fmt.Sprintf("missing version field %q", field)}
	}
	version, err := asInt(v)
	if err != nil {
		return zero, &ArtifactDecodeError{Reason: fmt.Sprintf("version field %q is not an integer", field)}
	}
	if version != s.schemaVersion() {
		return zero, &ArtifactDecodeError{Reason: fmt.Sprintf("schema version mismatch: have %d want %d", version, s.schemaVersion())}
	}
	out, err := fromJSONMap[T](raw)
	if err != nil {
		return zero, &ArtifactDecodeError{Reason: err.Error()}
	}
	if s.Validate != nil {
		if err := s.Validate(out); err != nil {
			return zero, &ArtifactDecodeError{Reason: "validate: " + err.Error()}
		}
	}
	return out, nil
}
