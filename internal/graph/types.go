// Package graph implements ExecutionGraph, the typed DAG of nodes and
// labeled edges described in spec §4.5, including schema-propagation
// walk and compatibility validation across edges.
package graph

// NodeType classifies a node's role in the pipeline.
type NodeType string

const (
	NodeSource      NodeType = "SOURCE"
	NodeTransform   NodeType = "TRANSFORM"
	NodeSink        NodeType = "SINK"
	NodeGate        NodeType = "GATE"
	NodeAggregation NodeType = "AGGREGATION"
	NodeCoalesce    NodeType = "COALESCE"
)

// Determinism classifies a node's side-effect profile.
type Determinism string

const (
	Deterministic    Determinism = "DETERMINISTIC"
	NonDeterministic Determinism = "NON_DETERMINISTIC"
	IORead           Determinism = "IO_READ"
	IOWrite          Determinism = "IO_WRITE"
	ExternalCall     Determinism = "EXTERNAL_CALL"
)

// RoutingMode is the default_mode of an Edge and the mode recorded on
// each RoutingEvent.
type RoutingMode string

const (
	ModeMove   RoutingMode = "MOVE"
	ModeCopy   RoutingMode = "COPY"
	ModeDivert RoutingMode = "DIVERT"
)

// SchemaConfig captures what a node guarantees and requires of its row
// shape, driving validate_edge_compatibility.
type SchemaConfig struct {
	// GuaranteedFields are fields this node's output is certain to carry.
	GuaranteedFields []string
	// RequiredFields are fields this node needs present on its input.
	RequiredFields []string
	// PassThrough marks gates/coalesce nodes whose output schema is
	// inherited from the nearest upstream producer rather than computed
	// locally.
	PassThrough bool
}

// NodeInfo is the graph's per-node record.
type NodeInfo struct {
	NodeID      string
	PluginName  string
	Type        NodeType
	Determinism Determinism
	SequenceInPipeline int
	Schema      SchemaConfig
}

// Edge is a labeled directed connection between two nodes.
type Edge struct {
	EdgeID      string
	FromNodeID  string
	ToNodeID    string
	Label       string
	DefaultMode RoutingMode
}
