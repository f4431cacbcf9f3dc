package engine

import (
	"detflow/internal/core"
)

// stepFingerprintInput documents the exact shape hashed into a step
// fingerprint, per the engine's fingerprint invariants: engine version,
// definition hash, step index, output hashes and effective params — never
// timestamps, flow ids, event seq, or metadata.
type stepFingerprintInput struct {
	EngineVersion  string   `json:"engine_version"`
	DefinitionHash string   `json:"definition_hash"`
	StepIndex      int      `json:"step_index"`
	OutputHashes   []string `json:"output_hashes"`
	Params         any      `json:"params"`
}

func computeStepFingerprint(definitionHash string, stepIndex int, outputHashes []string, params any) (string, error) {
	return core.HashValue(stepFingerprintInput{
		EngineVersion:  core.EngineVersion,
		DefinitionHash: definitionHash,
		StepIndex:      stepIndex,
		OutputHashes:   outputHashes,
		Params:         params,
	})
}

type flowFingerprintInput struct {
	EngineVersion   string   `json:"engine_version"`
	DefinitionHash  string   `json:"definition_hash"`
	StepFingerprints []string `json:"step_fingerprints"`
}

func computeFlowFingerprint(definitionHash string, stepFingerprints []string) (string, error) {
	return core.HashValue(flowFingerprintInput{
		EngineVersion:    core.EngineVersion,
		DefinitionHash:   definitionHash,
		StepFingerprints: stepFingerprints,
	})
}

// failureFingerprintInput documents the shape hashed into a step-failure
// fingerprint: the failed step's own definition hash instead of output
// hashes (a failed step has none), so that redefining the step between
// the failure and a later retry changes the fingerprint even though the
// flow's DefinitionHash, step index and params may coincidentally match.
type failureFingerprintInput struct {
	EngineVersion      string `json:"engine_version"`
	StepDefinitionHash string `json:"step_definition_hash"`
	StepIndex          int    `json:"step_index"`
	Params             any    `json:"params"`
}

func computeFailureFingerprint(stepDefinitionHash string, stepIndex int, baseParams any) (string, error) {
	return core.HashValue(failureFingerprintInput{
		EngineVersion:      core.EngineVersion,
		StepDefinitionHash: stepDefinitionHash,
		StepIndex:          stepIndex,
		Params:             baseParams,
	})
}
