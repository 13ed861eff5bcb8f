package checkpoint

// Manager is the per-invocation view of Store a PluginContext hands to a
// plugin: it is scoped to one (run_id, node_id, token_id) and knows the
// topology/config hashes that must match on resume, so a plugin's
// get_checkpoint/update_checkpoint/clear_checkpoint calls never need to
// know about hashing at all.
type Manager struct {
	store          Store
	key            Key
	topologyHash   string
	nodeConfigHash string
}

// NewManager scopes store to one checkpoint slot, verified against the
// topology and node config hashes computed for this run.
func NewManager(store Store, key Key, topologyHash, nodeConfigHash string) *Manager {
	return &Manager{store: store, key: key, topologyHash: topologyHash, nodeConfigHash: nodeConfigHash}
}

// Get returns the checkpoint data persisted for this slot, or nil if
// there is none — a fresh invocation, or one that already cleared its
// checkpoint on a prior terminal completion. A stored checkpoint whose
// hashes do not match this Manager's is a DataIntegrityError: the
// pipeline topology or the node's own config changed since the
// checkpoint was taken, and resuming against it would silently replay
// state the current pipeline never produced.
func (m *Manager) Get() (map[string]any, error) {
	cp, ok, err := m.store.Get(m.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if err := verifyHashes(cp, m.topologyHash, m.nodeConfigHash); err != nil {
		return nil, err
	}
	return cp.Data, nil
}

// Update persists data under this slot, stamped with the current
// topology/config hashes and the next monotonic sequence number.
func (m *Manager) Update(data map[string]any) error {
	return m.store.Put(&Checkpoint{
		Key:                  m.key,
		UpstreamTopologyHash: m.topologyHash,
		NodeConfigHash:       m.nodeConfigHash,
		Data:                 data,
	})
}

// Clear removes the checkpoint on terminal completion (spec §4.8 step 4).
func (m *Manager) Clear() error {
	return m.store.Clear(m.key)
}
