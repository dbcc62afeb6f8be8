package models

import (
	"time"

	"github.com/google/uuid"
)

// ReplayMode distinguishes capture packs from replay packs
type ReplayMode string

const (
	ReplayModeCapture ReplayMode = "capture"
	ReplayModeReplay  ReplayMode = "replay"
)

// Fixture is a recorded external response keyed by request fingerprint
type Fixture struct {
	RequestFingerprint string                 `json:"request_fingerprint"`
	Response           map[string]interface{} `json:"response"`
}

// ExecutionReplayPack is the immutable bundle needed to reproduce an
// execution: workflow snapshot, trigger, fixtures, and seed.
type ExecutionReplayPack struct {
	ID                  uuid.UUID              `json:"id"`
	ExecutionID         uuid.UUID              `json:"execution_id"`
	WorkspaceID         uuid.UUID              `json:"workspace_id"`
	WorkflowID          uuid.UUID              `json:"workflow_id"`
	SourceExecutionID   *uuid.UUID             `json:"source_execution_id,omitempty"`
	Mode                ReplayMode             `json:"mode"`
	DeterministicSeed   int64                  `json:"deterministic_seed"`
	WorkflowSnapshot    map[string]interface{} `json:"workflow_snapshot"`
	TriggerSnapshot     map[string]interface{} `json:"trigger_snapshot,omitempty"`
	Fixtures            []Fixture              `json:"fixtures,omitempty"`
	EnvironmentSnapshot map[string]interface{} `json:"environment_snapshot,omitempty"`
	CapturedAt          time.Time              `json:"captured_at"`
	ExpiresAt           time.Time              `json:"expires_at"`
}

// ReplayContext travels with a job payload to drive deterministic replay
type ReplayContext struct {
	Mode             ReplayMode             `json:"mode"`
	Seed             int64                  `json:"seed"`
	Fixtures         []Fixture              `json:"fixtures,omitempty"`
	WorkflowSnapshot map[string]interface{} `json:"workflow_snapshot,omitempty"`
	StrictReplay     bool                   `json:"strict_replay,omitempty"`
}
