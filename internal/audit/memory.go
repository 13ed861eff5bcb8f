package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tachyon-beep/elspeth/internal/canon"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

// MemoryRecorder is a thread-safe, in-process Recorder. It exercises the
// exact invariants spec §8 demands and is what the engine's own test
// suite and single-process deployments run against; internal/audit/pgstore
// provides the durable Postgres-backed twin behind the same interface.
type MemoryRecorder struct {
	mu sync.Mutex

	runs    map[string]*Run
	nodes   map[string]*Node
	edges   map[string]*Edge
	rows    map[string]*Row
	tokens  map[string]*Token
	tokenParents []*TokenParent
	states  map[string]*NodeState
	stateAttempts map[string]int // token_id|node_id -> next attempt
	calls   map[string]*Call
	callSeq map[string]int // state_id or operation_id -> next call_index
	operations map[string]*Operation
	routingEvents []*RoutingEvent
	batches map[string]*Batch
	batchMembers []*BatchMember
	batchOrdinal map[string]int
	artifacts []*Artifact
	outcomes map[string]*TokenOutcome
	validationErrors []ValidationErrorRecord
	transformErrors  []TransformErrorRecord

	stateSeq int
}

// NewMemoryRecorder constructs an empty in-memory audit store.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		runs:          map[string]*Run{},
		nodes:         map[string]*Node{},
		edges:         map[string]*Edge{},
		rows:          map[string]*Row{},
		tokens:        map[string]*Token{},
		states:        map[string]*NodeState{},
		stateAttempts: map[string]int{},
		calls:         map[string]*Call{},
		callSeq:       map[string]int{},
		operations:    map[string]*Operation{},
		batches:       map[string]*Batch{},
		batchOrdinal:  map[string]int{},
		outcomes:      map[string]*TokenOutcome{},
	}
}

func (m *MemoryRecorder) BeginRun(_ context.Context, settings map[string]any, canonicalVersion string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	configHash, err := canon.StableHash(settings)
	if err != nil {
		return nil, &engineerr.ConfigurationError{Reason: err.Error()}
	}

	r := &Run{
		RunID:            uuid.NewString(),
		Status:           RunRunning,
		StartedAt:        time.Now().UTC(),
		ConfigHash:       configHash,
		SettingsJSON:     settings,
		CanonicalVersion: canonicalVersion,
	}
	m.runs[r.RunID] = r
	cp := *r
	return &cp, nil
}

func (m *MemoryRecorder) CompleteRun(_ context.Context, runID string, status RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("audit: unknown run %s", runID)
	}
	if r.Status != RunRunning {
		return &engineerr.FrameworkBugError{Invariant: "run-status-forward-only", Detail: fmt.Sprintf("run %s already %s", runID, r.Status)}
	}
	r.Status = status
	now := time.Now().UTC()
	r.CompletedAt = &now
	return nil
}

func (m *MemoryRecorder) RegisterNode(_ context.Context, n Node) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.NodeID == "" {
		n.NodeID = uuid.NewString()
	}
	key := n.RunID + "|" + n.NodeID
	if _, exists := m.nodes[key]; exists {
		return nil, &engineerr.FrameworkBugError{Invariant: "unique(run_id,node_id)", Detail: key}
	}
	seq := 0
	for _, existing := range m.nodes {
		if existing.RunID == n.RunID {
			seq++
		}
	}
	n.SequenceInPipeline = seq
	cp := n
	m.nodes[key] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryRecorder) AddEdge(_ context.Context, e Edge) (*Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.EdgeID == "" {
		e.EdgeID = uuid.NewString()
	}
	cp := e
	m.edges[e.EdgeID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryRecorder) CreateRow(_ context.Context, runID, sourceNodeID string, rowIndex int, data map[string]any, rowID string) (*Row, error) {
	hash, err := canon.StableHash(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rowID == "" {
		rowID = uuid.NewString()
	}
	r := &Row{
		RowID:          rowID,
		RunID:          runID,
		SourceNodeID:   sourceNodeID,
		RowIndex:       rowIndex,
		SourceDataHash: hash,
	}
	m.rows[rowID] = r
	cp := *r
	return &cp, nil
}

func (m *MemoryRecorder) CreateToken(_ context.Context, rowID, tokenID string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tokenID == "" {
		tokenID = uuid.NewString()
	}
	t := &Token{TokenID: tokenID, RowID: rowID, CreatedAt: time.Now().UTC()}
	m.tokens[tokenID] = t
	cp := *t
	return &cp, nil
}

// ForkToken is atomic with outcome recording: the parent's FORKED outcome
// and the children's creation happen under a single lock acquisition, so
// no observer can see the children without the parent outcome or vice
// versa (spec §8's fork invariant).
func (m *MemoryRecorder) ForkToken(_ context.Context, parentTokenID, rowID string, branches []string, runID string, stepInPipeline *int) ([]*Token, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[parentTokenID]; !ok {
		return nil, "", fmt.Errorf("audit: unknown parent token %s", parentTokenID)
	}

	groupID := uuid.NewString()
	children := make([]*Token, 0, len(branches))
	for i, branch := range branches {
		child := &Token{
			TokenID:        uuid.NewString(),
			RowID:          rowID,
			CreatedAt:      time.Now().UTC(),
			ForkGroupID:    groupID,
			BranchName:     branch,
			StepInPipeline: stepInPipeline,
		}
		m.tokens[child.TokenID] = child
		m.tokenParents = append(m.tokenParents, &TokenParent{TokenID: child.TokenID, ParentTokenID: parentTokenID, Ordinal: i})
		cp := *child
		children = append(children, &cp)
	}

	m.outcomes[parentTokenID] = &TokenOutcome{
		TokenID:              parentTokenID,
		Outcome:              OutcomeForked,
		ExpectedBranchesJSON: append([]string(nil), branches...),
	}

	return children, groupID, nil
}

// ExpandToken mirrors ForkToken's atomicity for the deaggregation case.
func (m *MemoryRecorder) ExpandToken(_ context.Context, parentTokenID, rowID string, count int, runID string, stepInPipeline *int, recordParentOutcome bool) ([]*Token, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[parentTokenID]; !ok {
		return nil, "", fmt.Errorf("audit: unknown parent token %s", parentTokenID)
	}

	groupID := uuid.NewString()
	children := make([]*Token, 0, count)
	for i := 0; i < count; i++ {
		child := &Token{
			TokenID:        uuid.NewString(),
			RowID:          rowID,
			CreatedAt:      time.Now().UTC(),
			ExpandGroupID:  groupID,
			StepInPipeline: stepInPipeline,
		}
		m.tokens[child.TokenID] = child
		m.tokenParents = append(m.tokenParents, &TokenParent{TokenID: child.TokenID, ParentTokenID: parentTokenID, Ordinal: i})
		cp := *child
		children = append(children, &cp)
	}

	if recordParentOutcome {
		branches := make([]string, count)
		for i := range branches {
			branches[i] = fmt.Sprintf("%d", i)
		}
		m.outcomes[parentTokenID] = &TokenOutcome{
			TokenID:              parentTokenID,
			Outcome:              OutcomeExpanded,
			ExpectedBranchesJSON: branches,
		}
	}

	return children, groupID, nil
}

func (m *MemoryRecorder) CoalesceTokens(_ context.Context, parentTokenIDs []string, rowID string, stepInPipeline *int) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	joinGroupID := uuid.NewString()
	child := &Token{
		TokenID:        uuid.NewString(),
		RowID:          rowID,
		CreatedAt:      time.Now().UTC(),
		JoinGroupID:    joinGroupID,
		StepInPipeline: stepInPipeline,
	}
	m.tokens[child.TokenID] = child
	for i, p := range parentTokenIDs {
		if _, ok := m.tokens[p]; !ok {
			return nil, fmt.Errorf("audit: unknown parent token %s", p)
		}
		m.tokenParents = append(m.tokenParents, &TokenParent{TokenID: child.TokenID, ParentTokenID: p, Ordinal: i})
		m.outcomes[p] = &TokenOutcome{TokenID: p, Outcome: OutcomeJoined}
	}
	cp := *child
	return &cp, nil
}

func (m *MemoryRecorder) RecordTokenOutcome(_ context.Context, outcome TokenOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.outcomes[outcome.TokenID]; ok {
		return &engineerr.FrameworkBugError{Invariant: "token_outcomes.token_id UNIQUE", Detail: fmt.Sprintf("token %s already has outcome %s", outcome.TokenID, existing.Outcome)}
	}
	cp := outcome
	m.outcomes[outcome.TokenID] = &cp
	return nil
}

func (m *MemoryRecorder) nextAttempt(tokenID, nodeID string) int {
	key := tokenID + "|" + nodeID
	n := m.stateAttempts[key]
	m.stateAttempts[key] = n + 1
	return n
}

func (m *MemoryRecorder) BeginNodeState(_ context.Context, tokenID, nodeID, runID string, stepIndex int, input map[string]any, attempt int, contextBefore map[string]any) (*NodeState, error) {
	inputHash, err := canon.StableHash(input)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expected := m.nextAttempt(tokenID, nodeID)
	if attempt != expected {
		return nil, &engineerr.FrameworkBugError{
			Invariant: "dense-attempt-numbering",
			Detail:    fmt.Sprintf("token %s node %s expected attempt %d, got %d", tokenID, nodeID, expected, attempt),
		}
	}

	m.stateSeq++
	s := &NodeState{
		StateID:           fmt.Sprintf("st-%d-%s", m.stateSeq, uuid.NewString()),
		TokenID:           tokenID,
		NodeID:            nodeID,
		RunID:             runID,
		StepIndex:         stepIndex,
		Attempt:           attempt,
		InputHash:         inputHash,
		ContextBeforeJSON: contextBefore,
		StartedAt:         time.Now().UTC(),
		Status:            StateOpen,
	}
	m.states[s.StateID] = s
	cp := *s
	return &cp, nil
}

func (m *MemoryRecorder) mustOpenState(stateID string) (*NodeState, error) {
	s, ok := m.states[stateID]
	if !ok {
		return nil, fmt.Errorf("audit: unknown state %s", stateID)
	}
	if s.Status != StateOpen {
		return nil, &engineerr.FrameworkBugError{Invariant: "single-terminal-variant", Detail: fmt.Sprintf("state %s already %s", stateID, s.Status)}
	}
	return s, nil
}

func (m *MemoryRecorder) CompleteNodeState(_ context.Context, stateID string, output map[string]any, successReason map[string]any, contextAfter map[string]any, durationMS int64) (*NodeState, error) {
	outputHash, err := canon.StableHash(output)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.mustOpenState(stateID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	s.Status = StateCompleted
	s.OutputHash = outputHash
	s.SuccessReasonJSON = successReason
	s.ContextAfterJSON = contextAfter
	s.DurationMS = &durationMS
	s.CompletedAt = &now
	cp := *s
	return &cp, nil
}

func (m *MemoryRecorder) FailNodeState(_ context.Context, stateID string, errJSON map[string]any, durationMS int64, contextAfter map[string]any) (*NodeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.mustOpenState(stateID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	s.Status = StateFailed
	s.ErrorJSON = errJSON
	s.ContextAfterJSON = contextAfter
	s.DurationMS = &durationMS
	s.CompletedAt = &now
	cp := *s
	return &cp, nil
}

func (m *MemoryRecorder) SuspendNodeState(_ context.Context, stateID string, contextAfter map[string]any, durationMS int64) (*NodeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.mustOpenState(stateID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	s.Status = StatePending
	s.ContextAfterJSON = contextAfter
	s.DurationMS = &durationMS
	s.CompletedAt = &now
	cp := *s
	return &cp, nil
}

func (m *MemoryRecorder) GetNodeState(_ context.Context, stateID string) (*NodeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[stateID]
	if !ok {
		return nil, fmt.Errorf("audit: unknown state %s", stateID)
	}
	cp := *s
	return &cp, nil
}

// AllocateCallIndex is thread-safe and produces sequential, contiguous
// indices per state under contention.
func (m *MemoryRecorder) AllocateCallIndex(_ context.Context, stateID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.callSeq[stateID]
	m.callSeq[stateID] = idx + 1
	return idx, nil
}

func (m *MemoryRecorder) AllocateOperationCallIndex(_ context.Context, operationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "op:" + operationID
	idx := m.callSeq[key]
	m.callSeq[key] = idx + 1
	return idx, nil
}

func (m *MemoryRecorder) RecordCall(_ context.Context, c Call) (*Call, error) {
	hasState := c.StateID != ""
	hasOp := c.OperationID != ""
	if hasState == hasOp {
		return nil, &engineerr.FrameworkBugError{
			Invariant: "calls-exactly-one-of(state_id,operation_id)",
			Detail:    fmt.Sprintf("state_id=%q operation_id=%q", c.StateID, c.OperationID),
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c.CallID == "" {
		c.CallID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := c
	m.calls[c.CallID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryRecorder) BeginOperation(_ context.Context, runID, nodeID string, opType OperationType, inputRef, inputHash string) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op := &Operation{
		OperationID:   uuid.NewString(),
		RunID:         runID,
		NodeID:        nodeID,
		OperationType: opType,
		Status:        OperationOpen,
		StartedAt:     time.Now().UTC(),
		InputDataRef:  inputRef,
		InputDataHash: inputHash,
	}
	m.operations[op.OperationID] = op
	cp := *op
	return &cp, nil
}

func (m *MemoryRecorder) CompleteOperation(_ context.Context, operationID string, status OperationStatus, errMsg string, durationMS int64, outputRef, outputHash string) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.operations[operationID]
	if !ok {
		return nil, &engineerr.FrameworkBugError{Invariant: "operation-exists", Detail: operationID}
	}
	if op.Status != OperationOpen {
		return nil, &engineerr.FrameworkBugError{Invariant: "operation-completes-exactly-once", Detail: fmt.Sprintf("operation %s already %s", operationID, op.Status)}
	}
	now := time.Now().UTC()
	op.Status = status
	op.ErrorMessage = errMsg
	op.DurationMS = &durationMS
	op.CompletedAt = &now
	op.OutputDataRef = outputRef
	op.OutputDataHash = outputHash
	cp := *op
	return &cp, nil
}

func (m *MemoryRecorder) RecordRoutingEvent(_ context.Context, ev RoutingEvent) (*RoutingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	cp := ev
	m.routingEvents = append(m.routingEvents, &cp)
	out := cp
	return &out, nil
}

func (m *MemoryRecorder) RecordBatch(_ context.Context, b Batch) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.BatchID == "" {
		b.BatchID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	cp := b
	m.batches[b.BatchID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryRecorder) UpdateBatchStatus(_ context.Context, batchID string, status BatchStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID]
	if !ok {
		return fmt.Errorf("audit: unknown batch %s", batchID)
	}
	b.Status = status
	if completedAt != nil {
		b.CompletedAt = completedAt
	}
	return nil
}

// AppendBatchMember enforces strictly increasing, submission-ordered
// ordinals per batch.
func (m *MemoryRecorder) AppendBatchMember(_ context.Context, batchID, tokenID string) (*BatchMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordinal := m.batchOrdinal[batchID]
	m.batchOrdinal[batchID] = ordinal + 1
	bm := &BatchMember{BatchID: batchID, TokenID: tokenID, Ordinal: ordinal}
	m.batchMembers = append(m.batchMembers, bm)
	cp := *bm
	return &cp, nil
}

func (m *MemoryRecorder) RecordArtifact(_ context.Context, a Artifact) (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ArtifactID == "" {
		a.ArtifactID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := a
	m.artifacts = append(m.artifacts, &cp)
	out := cp
	return &out, nil
}

func (m *MemoryRecorder) RecordValidationError(_ context.Context, v ValidationErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	m.validationErrors = append(m.validationErrors, v)
	return nil
}

func (m *MemoryRecorder) RecordTransformError(_ context.Context, v TransformErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	m.transformErrors = append(m.transformErrors, v)
	return nil
}

// --- Read side, batch-fetch by run_id to stay O(1) per entity type ---

func (m *MemoryRecorder) GetRun(_ context.Context, runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("audit: unknown run %s", runID)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryRecorder) ListNodes(_ context.Context, runID string) ([]*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Node
	for _, n := range m.nodes {
		if n.RunID == runID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ListEdges(_ context.Context, runID string) ([]*Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Edge
	for _, e := range m.edges {
		if e.RunID == runID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ListRows(_ context.Context, runID string) ([]*Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Row
	for _, r := range m.rows {
		if r.RunID == runID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ListTokens(_ context.Context, runID string) ([]*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rowIDs := map[string]bool{}
	for _, r := range m.rows {
		if r.RunID == runID {
			rowIDs[r.RowID] = true
		}
	}
	var out []*Token
	for _, t := range m.tokens {
		if rowIDs[t.RowID] {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ListTokenParents(_ context.Context, runID string) ([]*TokenParent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rowIDs := map[string]bool{}
	for _, r := range m.rows {
		if r.RunID == runID {
			rowIDs[r.RowID] = true
		}
	}
	var out []*TokenParent
	for _, tp := range m.tokenParents {
		if t, ok := m.tokens[tp.TokenID]; ok && rowIDs[t.RowID] {
			cp := *tp
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ListNodeStates(_ context.Context, runID string) ([]*NodeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*NodeState
	for _, s := range m.states {
		if s.RunID == runID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ListCalls(_ context.Context, runID string) ([]*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stateIDs := map[string]bool{}
	for _, s := range m.states {
		if s.RunID == runID {
			stateIDs[s.StateID] = true
		}
	}
	opIDs := map[string]bool{}
	for _, o := range m.operations {
		if o.RunID == runID {
			opIDs[o.OperationID] = true
		}
	}
	var out []*Call
	for _, c := range m.calls {
		if stateIDs[c.StateID] || opIDs[c.OperationID] {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ListOperations(_ context.Context, runID string) ([]*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Operation
	for _, o := range m.operations {
		if o.RunID == runID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ListRoutingEvents(_ context.Context, runID string) ([]*RoutingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stateIDs := map[string]bool{}
	for _, s := range m.states {
		if s.RunID == runID {
			stateIDs[s.StateID] = true
		}
	}
	var out []*RoutingEvent
	for _, ev := range m.routingEvents {
		if stateIDs[ev.StateID] {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ListBatches(_ context.Context, runID string) ([]*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Batch
	for _, b := range m.batches {
		if b.RunID == runID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ListBatchMembers(_ context.Context, runID string) ([]*BatchMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batchIDs := map[string]bool{}
	for _, b := range m.batches {
		if b.RunID == runID {
			batchIDs[b.BatchID] = true
		}
	}
	var out []*BatchMember
	for _, bm := range m.batchMembers {
		if batchIDs[bm.BatchID] {
			cp := *bm
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ListArtifacts(_ context.Context, runID string) ([]*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Artifact
	for _, a := range m.artifacts {
		if a.RunID == runID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ListTokenOutcomes(_ context.Context, runID string) ([]*TokenOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rowIDs := map[string]bool{}
	for _, r := range m.rows {
		if r.RunID == runID {
			rowIDs[r.RowID] = true
		}
	}
	tokenInRun := map[string]bool{}
	for _, t := range m.tokens {
		if rowIDs[t.RowID] {
			tokenInRun[t.TokenID] = true
		}
	}
	var out []*TokenOutcome
	for _, o := range m.outcomes {
		if tokenInRun[o.TokenID] {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) CountValidationErrors(_ context.Context, runID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.validationErrors {
		if v.RunID == runID {
			n++
		}
	}
	return n, nil
}
