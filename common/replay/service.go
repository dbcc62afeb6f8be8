package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
	"github.com/loomery/loom/common/queue"
	"github.com/loomery/loom/common/repository"
)

// DefaultRetention is how long capture packs stay replayable
const DefaultRetention = 30 * 24 * time.Hour

// Service captures replay packs on dispatch and reruns executions
// deterministically from them.
type Service struct {
	packs      *repository.ReplayPackRepository
	executions *repository.ExecutionRepository
	jobs       *queue.JobQueue
	statuses   *queue.JobStatusStore
	retention  time.Duration
	log        *logger.Logger
}

// NewService creates a replay service
func NewService(packs *repository.ReplayPackRepository, executions *repository.ExecutionRepository, jobs *queue.JobQueue, statuses *queue.JobStatusStore, log *logger.Logger) *Service {
	return &Service{
		packs:      packs,
		executions: executions,
		jobs:       jobs,
		statuses:   statuses,
		retention:  DefaultRetention,
		log:        log,
	}
}

// Capture records the pack for a freshly dispatched execution: the
// workflow snapshot as it was, the trigger payload, and a seed for
// deterministic randomness. Fixtures stream in later via AppendFixtures.
func (s *Service) Capture(ctx context.Context, execution *models.Execution, workflow *models.Workflow, seed int64) (*models.ExecutionReplayPack, error) {
	snapshot, err := workflowSnapshot(workflow)
	if err != nil {
		return nil, fmt.Errorf("snapshot workflow %s: %w", workflow.ID, err)
	}

	now := time.Now().UTC()
	pack := &models.ExecutionReplayPack{
		ID:                uuid.New(),
		ExecutionID:       execution.ID,
		WorkspaceID:       execution.WorkspaceID,
		WorkflowID:        execution.WorkflowID,
		Mode:              models.ReplayModeCapture,
		DeterministicSeed: seed,
		WorkflowSnapshot:  snapshot,
		TriggerSnapshot:   execution.TriggerData,
		CapturedAt:        now,
		ExpiresAt:         now.Add(s.retention),
	}

	if err := s.packs.Upsert(ctx, pack); err != nil {
		return nil, fmt.Errorf("store replay pack: %w", err)
	}

	return pack, nil
}

// AppendFixtures merges recorded responses into an execution's pack.
// Fixtures are keyed by request fingerprint; a later fixture for the
// same fingerprint wins.
func (s *Service) AppendFixtures(ctx context.Context, executionID uuid.UUID, fixtures []models.Fixture) error {
	if len(fixtures) == 0 {
		return nil
	}

	pack, err := s.packs.GetByExecution(ctx, executionID)
	if err != nil {
		return err
	}

	index := make(map[string]int, len(pack.Fixtures))
	for i, f := range pack.Fixtures {
		index[f.RequestFingerprint] = i
	}
	for _, f := range fixtures {
		if i, ok := index[f.RequestFingerprint]; ok {
			pack.Fixtures[i] = f
			continue
		}
		index[f.RequestFingerprint] = len(pack.Fixtures)
		pack.Fixtures = append(pack.Fixtures, f)
	}

	return s.packs.Upsert(ctx, pack)
}

// RerunOptions tune a deterministic rerun
type RerunOptions struct {
	// TriggerOverride, when set, is applied to the captured trigger as
	// a JSON merge patch before the rerun.
	TriggerOverride map[string]interface{}
	// UseLatestWorkflow drops the captured workflow snapshot so the
	// rerun executes against the current workflow definition.
	UseLatestWorkflow bool
	// StrictReplay fails the rerun on any fixture miss instead of
	// falling through to the live connector.
	StrictReplay bool
	TriggeredBy  string
}

// Rerun starts a deterministic child execution from a captured pack.
// The child execution and its replay-mode pack are created in one
// transaction, then the job is enqueued with the replay context.
func (s *Service) Rerun(ctx context.Context, sourceExecutionID uuid.UUID, opts RerunOptions) (*models.Execution, error) {
	source, err := s.packs.GetByExecution(ctx, sourceExecutionID)
	if err != nil {
		return nil, err
	}
	if time.Now().UTC().After(source.ExpiresAt) {
		return nil, models.NewCodedError(models.CodeNotFound, fmt.Sprintf("replay pack for execution %s expired", sourceExecutionID))
	}

	trigger := source.TriggerSnapshot
	if opts.TriggerOverride != nil {
		trigger, err = mergeTrigger(source.TriggerSnapshot, opts.TriggerOverride)
		if err != nil {
			return nil, fmt.Errorf("apply trigger override: %w", err)
		}
	}

	snapshot := replaySnapshot(source, opts)

	now := time.Now().UTC()
	parentID := sourceExecutionID
	child := &models.Execution{
		ID:                    uuid.New(),
		WorkflowID:            source.WorkflowID,
		WorkspaceID:           source.WorkspaceID,
		Status:                models.ExecutionPending,
		Mode:                  models.ModeReplay,
		TriggeredBy:           opts.TriggeredBy,
		TriggerData:           trigger,
		Attempt:               1,
		MaxAttempts:           1,
		ParentExecutionID:     &parentID,
		ReplayOfExecutionID:   &parentID,
		IsDeterministicReplay: true,
		CreatedAt:             now,
	}

	childPack := &models.ExecutionReplayPack{
		ID:                uuid.New(),
		ExecutionID:       child.ID,
		WorkspaceID:       source.WorkspaceID,
		WorkflowID:        source.WorkflowID,
		SourceExecutionID: &parentID,
		Mode:              models.ReplayModeReplay,
		DeterministicSeed: source.DeterministicSeed,
		WorkflowSnapshot:  snapshot,
		TriggerSnapshot:   trigger,
		Fixtures:          source.Fixtures,
		CapturedAt:        now,
		ExpiresAt:         now.Add(s.retention),
	}

	tx, err := s.executions.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin rerun transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.executions.CreateIn(ctx, tx, child); err != nil {
		return nil, fmt.Errorf("create replay execution: %w", err)
	}
	if err := s.packs.UpsertIn(ctx, tx, childPack); err != nil {
		return nil, fmt.Errorf("store replay pack: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rerun transaction: %w", err)
	}

	payload := &queue.JobPayload{
		JobID:         uuid.New(),
		WorkflowID:    child.WorkflowID,
		ExecutionID:   child.ID,
		WorkspaceID:   child.WorkspaceID,
		TriggerData:   trigger,
		CallbackToken: uuid.NewString(),
		ReplayContext: &models.ReplayContext{
			Mode:             models.ReplayModeReplay,
			Seed:             source.DeterministicSeed,
			Fixtures:         source.Fixtures,
			WorkflowSnapshot: snapshot,
			StrictReplay:     opts.StrictReplay,
		},
	}

	partition, err := s.jobs.Enqueue(ctx, queue.PriorityDefault, payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue replay job: %w", err)
	}

	if s.statuses != nil {
		executionID := child.ID
		status := &models.JobStatus{
			JobID:         payload.JobID,
			ExecutionID:   &executionID,
			Partition:     partition,
			CallbackToken: payload.CallbackToken,
			Status:        "queued",
		}
		if err := s.statuses.Put(ctx, status); err != nil {
			s.log.Warn("replay job status write failed", "job_id", payload.JobID, "error", err)
		}
	}

	s.log.Info("replay rerun enqueued",
		"source_execution_id", sourceExecutionID,
		"execution_id", child.ID,
		"partition", partition,
		"strict", opts.StrictReplay)

	return child, nil
}

// replaySnapshot picks the workflow definition a rerun carries. Without
// a snapshot in the replay context the runner loads the live workflow.
func replaySnapshot(source *models.ExecutionReplayPack, opts RerunOptions) map[string]interface{} {
	if opts.UseLatestWorkflow {
		return nil
	}
	return source.WorkflowSnapshot
}

// PruneExpired deletes packs past their retention window
func (s *Service) PruneExpired(ctx context.Context) (int64, error) {
	removed, err := s.packs.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("expired replay packs pruned", "count", removed)
	}
	return removed, nil
}

// Fingerprint derives the stable fixture key for an outbound request:
// hex sha256 over the method, URL, normalised headers, and body.
// Header names are lowercased and sorted; hop-by-hop and auth headers
// are excluded so rotated credentials still match.
func Fingerprint(method, url string, headers map[string]string, body []byte) string {
	normalised := make([]string, 0, len(headers))
	for name, value := range headers {
		lower := strings.ToLower(name)
		switch lower {
		case "authorization", "cookie", "date", "user-agent", "connection", "content-length":
			continue
		}
		normalised = append(normalised, lower+":"+value)
	}
	sort.Strings(normalised)

	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(normalised, "\n")))
	h.Write([]byte{0})
	h.Write(body)

	return hex.EncodeToString(h.Sum(nil))
}

func mergeTrigger(base, override map[string]interface{}) (map[string]interface{}, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	patchJSON, err := json.Marshal(override)
	if err != nil {
		return nil, err
	}

	merged, err := jsonpatch.MergePatch(baseJSON, patchJSON)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(merged, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func workflowSnapshot(w *models.Workflow) (map[string]interface{}, error) {
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	var snapshot map[string]interface{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}
