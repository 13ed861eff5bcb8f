// Package audit implements the relational audit trail of spec §4.4: runs,
// nodes, edges, rows, tokens, token parents, node states, calls,
// operations, routing events, batches, batch members, and artifacts. The
// Recorder interface is storage-abstract; internal/audit/pgstore provides
// the pgx-backed implementation, and this package also ships an in-memory
// Recorder exercising the identical contract for tests and single-process
// runs without Postgres.
package audit

import "time"

// RunStatus is the lifecycle status of a Run. Transitions only go
// forward: RUNNING -> COMPLETED | FAILED.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// Run is one process-level execution.
type Run struct {
	RunID           string
	Status          RunStatus
	StartedAt       time.Time
	CompletedAt     *time.Time
	ConfigHash      string
	SettingsJSON    map[string]any
	CanonicalVersion string
}

// NodeType/Determinism/RoutingMode mirror graph package's enums; audit
// keeps its own copies so this package has no import-time dependency on
// graph, matching the layering of the reference orchestrator's
// common/models being independent of its compiler package.
type NodeType string

const (
	NodeSource      NodeType = "SOURCE"
	NodeTransform   NodeType = "TRANSFORM"
	NodeSink        NodeType = "SINK"
	NodeGate        NodeType = "GATE"
	NodeAggregation NodeType = "AGGREGATION"
	NodeCoalesce    NodeType = "COALESCE"
)

type Determinism string

const (
	Deterministic    Determinism = "DETERMINISTIC"
	NonDeterministic Determinism = "NON_DETERMINISTIC"
	IORead           Determinism = "IO_READ"
	IOWrite          Determinism = "IO_WRITE"
	ExternalCall     Determinism = "EXTERNAL_CALL"
)

// Node is a plugin instance in the graph, registered once per run.
type Node struct {
	NodeID             string
	RunID              string
	PluginName         string
	NodeType           NodeType
	PluginVersion      string
	Determinism        Determinism
	ConfigHash         string
	ConfigJSON         map[string]any
	SchemaHash         string
	SchemaMode         string
	SchemaFields       []map[string]any
	SequenceInPipeline int
}

type RoutingMode string

const (
	ModeMove   RoutingMode = "MOVE"
	ModeCopy   RoutingMode = "COPY"
	ModeDivert RoutingMode = "DIVERT"
)

// Edge is a labeled directed connection between two nodes.
type Edge struct {
	EdgeID      string
	RunID       string
	FromNodeID  string
	ToNodeID    string
	Label       string
	DefaultMode RoutingMode
}

// Row is one record emitted by a source. Immutable after creation.
type Row struct {
	RowID          string
	RunID          string
	SourceNodeID   string
	RowIndex       int
	SourceDataHash string
	SourceDataRef  string
}

// Token is one addressable unit of work flowing through the DAG.
type Token struct {
	TokenID       string
	RowID         string
	CreatedAt     time.Time
	ForkGroupID   string
	BranchName    string
	JoinGroupID   string
	ExpandGroupID string
	StepInPipeline *int
}

// TokenParent is a lineage edge; a child may have multiple parents.
type TokenParent struct {
	TokenID       string
	ParentTokenID string
	Ordinal       int
}

// NodeStateStatus discriminates the NodeState union.
type NodeStateStatus string

const (
	StateOpen      NodeStateStatus = "OPEN"
	StatePending   NodeStateStatus = "PENDING"
	StateCompleted NodeStateStatus = "COMPLETED"
	StateFailed    NodeStateStatus = "FAILED"
)

// NodeState is a single attempt at a node for a token.
type NodeState struct {
	StateID           string
	TokenID           string
	NodeID            string
	RunID             string
	StepIndex         int
	Attempt           int
	InputHash         string
	ContextBeforeJSON map[string]any
	StartedAt         time.Time

	Status NodeStateStatus

	// PENDING/COMPLETED/FAILED
	ContextAfterJSON map[string]any
	DurationMS       *int64
	CompletedAt      *time.Time

	// COMPLETED only
	OutputHash       string
	SuccessReasonJSON map[string]any

	// FAILED only
	ErrorJSON map[string]any
}

// CallType enumerates the kinds of external side-effect a Call records.
type CallType string

const (
	CallLLM        CallType = "LLM"
	CallHTTP       CallType = "HTTP"
	CallSQL        CallType = "SQL"
	CallFilesystem CallType = "FILESYSTEM"
)

// CallStatus is the outcome of a Call.
type CallStatus string

const (
	CallSuccess CallStatus = "SUCCESS"
	CallError   CallStatus = "ERROR"
)

// Call is an external side-effect attributable to exactly one of a
// NodeState or an Operation (XOR enforced at the storage layer).
type Call struct {
	CallID      string
	StateID     string // exactly one of StateID/OperationID is set
	OperationID string
	CallIndex   int
	CallType    CallType
	Status      CallStatus
	RequestHash string
	ResponseHash string
	RequestRef  string
	ResponseRef string
	LatencyMS   *int64
	ErrorJSON   map[string]any
	CreatedAt   time.Time
	Provider    string
}

// OperationType classifies an Operation.
type OperationType string

const (
	OperationSourceLoad OperationType = "source_load"
	OperationSinkWrite  OperationType = "sink_write"
)

// OperationStatus is the lifecycle status of an Operation.
type OperationStatus string

const (
	OperationOpen      OperationStatus = "open"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
	OperationPending   OperationStatus = "pending"
)

// Operation is a source load or sink write.
type Operation struct {
	OperationID    string
	RunID          string
	NodeID         string
	OperationType  OperationType
	Status         OperationStatus
	StartedAt      time.Time
	CompletedAt    *time.Time
	DurationMS     *int64
	ErrorMessage   string
	InputDataRef   string
	InputDataHash  string
	OutputDataRef  string
	OutputDataHash string
}

// RoutingEvent is a decision to forward a token along an edge.
type RoutingEvent struct {
	EventID       string
	StateID       string
	EdgeID        string
	RoutingGroupID string
	Ordinal       int
	Mode          RoutingMode
	ReasonHash    string
	ReasonRef     string
	CreatedAt     time.Time
}

// TokenOutcomeKind is the terminal classification of a token.
type TokenOutcomeKind string

const (
	OutcomeCompletedAtSink TokenOutcomeKind = "COMPLETED_AT_SINK"
	OutcomeForked          TokenOutcomeKind = "FORKED"
	OutcomeExpanded        TokenOutcomeKind = "EXPANDED"
	OutcomeJoined          TokenOutcomeKind = "JOINED"
	OutcomeConsumedInBatch TokenOutcomeKind = "CONSUMED_IN_BATCH"
	OutcomeFailed          TokenOutcomeKind = "FAILED"
	OutcomeDiscarded       TokenOutcomeKind = "DISCARDED"
	OutcomeQuarantined     TokenOutcomeKind = "QUARANTINED"
)

// TokenOutcome is the one terminal classification per token.
type TokenOutcome struct {
	TokenID             string
	Outcome             TokenOutcomeKind
	ExpectedBranchesJSON []string
}

// BatchStatus is the lifecycle status of a Batch.
type BatchStatus string

const (
	BatchDraft     BatchStatus = "DRAFT"
	BatchExecuting BatchStatus = "EXECUTING"
	BatchCompleted BatchStatus = "COMPLETED"
	BatchFailed    BatchStatus = "FAILED"
)

// TriggerType enumerates how a Batch executes.
type TriggerType string

const (
	TriggerCount  TriggerType = "COUNT"
	TriggerTime   TriggerType = "TIME"
	TriggerManual TriggerType = "MANUAL"
)

// Batch is an aggregation grouping.
type Batch struct {
	BatchID          string
	RunID            string
	AggregationNodeID string
	Attempt          int
	Status           BatchStatus
	TriggerType      TriggerType
	TriggerReason    string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// BatchMember records FIFO membership in a batch.
type BatchMember struct {
	BatchID string
	TokenID string
	Ordinal int
}

// Artifact is a sink output.
type Artifact struct {
	ArtifactID     string
	RunID          string
	SinkNodeID     string
	ProducedByStateID string
	ArtifactType   string
	PathOrURI      string
	ContentHash    string
	SizeBytes      int64
	CreatedAt      time.Time
}

// ValidationErrorRecord captures a ContractViolation at row ingress,
// routed per spec §9's resolved Open Question: both a destination string
// and a route_to_sink invocation are recorded when both fire.
type ValidationErrorRecord struct {
	RunID        string
	NodeID       string
	RowIndex     int
	Violations   []string
	SchemaMode   string
	Destination  string
	RoutedToSink string
	CreatedAt    time.Time
}

// TransformErrorRecord captures a non-retryable transform error routed to
// a destination other than the normal success path.
type TransformErrorRecord struct {
	RunID       string
	TokenID     string
	TransformID string
	ErrorDetail string
	Destination string
	CreatedAt   time.Time
}
