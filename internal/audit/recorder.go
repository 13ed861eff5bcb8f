package audit

import (
	"context"
	"time"
)

// Recorder is the storage-abstract audit API described in spec §4.4.
// Every mutation the engine makes flows through one of these methods.
type Recorder interface {
	// Lifecycle
	BeginRun(ctx context.Context, settings map[string]any, canonicalVersion string) (*Run, error)
	CompleteRun(ctx context.Context, runID string, status RunStatus) error

	// Graph
	RegisterNode(ctx context.Context, n Node) (*Node, error)
	AddEdge(ctx context.Context, e Edge) (*Edge, error)

	// Rows
	CreateRow(ctx context.Context, runID, sourceNodeID string, rowIndex int, data map[string]any, rowID string) (*Row, error)

	// Tokens
	CreateToken(ctx context.Context, rowID, tokenID string) (*Token, error)
	ForkToken(ctx context.Context, parentTokenID, rowID string, branches []string, runID string, stepInPipeline *int) ([]*Token, string, error)
	ExpandToken(ctx context.Context, parentTokenID, rowID string, count int, runID string, stepInPipeline *int, recordParentOutcome bool) ([]*Token, string, error)
	CoalesceTokens(ctx context.Context, parentTokenIDs []string, rowID string, stepInPipeline *int) (*Token, error)
	RecordTokenOutcome(ctx context.Context, outcome TokenOutcome) error

	// States
	BeginNodeState(ctx context.Context, tokenID, nodeID, runID string, stepIndex int, input map[string]any, attempt int, contextBefore map[string]any) (*NodeState, error)
	CompleteNodeState(ctx context.Context, stateID string, output map[string]any, successReason map[string]any, contextAfter map[string]any, durationMS int64) (*NodeState, error)
	FailNodeState(ctx context.Context, stateID string, errJSON map[string]any, durationMS int64, contextAfter map[string]any) (*NodeState, error)
	SuspendNodeState(ctx context.Context, stateID string, contextAfter map[string]any, durationMS int64) (*NodeState, error)
	GetNodeState(ctx context.Context, stateID string) (*NodeState, error)

	// Calls
	AllocateCallIndex(ctx context.Context, stateID string) (int, error)
	AllocateOperationCallIndex(ctx context.Context, operationID string) (int, error)
	RecordCall(ctx context.Context, c Call) (*Call, error)

	// Operations
	BeginOperation(ctx context.Context, runID, nodeID string, opType OperationType, inputRef, inputHash string) (*Operation, error)
	CompleteOperation(ctx context.Context, operationID string, status OperationStatus, errMsg string, durationMS int64, outputRef, outputHash string) (*Operation, error)

	// Append-only records
	RecordRoutingEvent(ctx context.Context, ev RoutingEvent) (*RoutingEvent, error)
	RecordBatch(ctx context.Context, b Batch) (*Batch, error)
	UpdateBatchStatus(ctx context.Context, batchID string, status BatchStatus, completedAt *time.Time) error
	AppendBatchMember(ctx context.Context, batchID, tokenID string) (*BatchMember, error)
	RecordArtifact(ctx context.Context, a Artifact) (*Artifact, error)
	RecordValidationError(ctx context.Context, v ValidationErrorRecord) error
	RecordTransformError(ctx context.Context, v TransformErrorRecord) error

	// Read side for export (batch-fetch to avoid N+1).
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListNodes(ctx context.Context, runID string) ([]*Node, error)
	ListEdges(ctx context.Context, runID string) ([]*Edge, error)
	ListRows(ctx context.Context, runID string) ([]*Row, error)
	ListTokens(ctx context.Context, runID string) ([]*Token, error)
	ListTokenParents(ctx context.Context, runID string) ([]*TokenParent, error)
	ListNodeStates(ctx context.Context, runID string) ([]*NodeState, error)
	ListCalls(ctx context.Context, runID string) ([]*Call, error)
	ListOperations(ctx context.Context, runID string) ([]*Operation, error)
	ListRoutingEvents(ctx context.Context, runID string) ([]*RoutingEvent, error)
	ListBatches(ctx context.Context, runID string) ([]*Batch, error)
	ListBatchMembers(ctx context.Context, runID string) ([]*BatchMember, error)
	ListArtifacts(ctx context.Context, runID string) ([]*Artifact, error)
	ListTokenOutcomes(ctx context.Context, runID string) ([]*TokenOutcome, error)
	CountValidationErrors(ctx context.Context, runID string) (int, error)
}
