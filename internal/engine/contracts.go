package engine

import (
	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

// validateRow checks row against nodeID's declared contract, if any. A
// node with no entry in Contracts is unvalidated and always passes —
// FIXED contracts are expected to be built and locked by the caller
// before Run begins; FLEXIBLE/OBSERVED contracts validate against
// whatever shape was locked in at setup rather than growing field-by-field
// as rows arrive, a deliberate simplification over the full per-row
// contract evolution spec §4.3 describes.
//
// row is bound into a PipelineRow before validation so every node-entry
// point gets the contract's O(1) normalized-or-original lookup (spec
// §4.3), not just a raw map traversal.
func (e *Engine) validateRow(nodeID string, row map[string]any) []engineerr.Violation {
	c, ok := e.Contracts[nodeID]
	if !ok || c == nil {
		return nil
	}
	return c.ValidateRow(contracts.NewRow(row, c))
}

func (e *Engine) schemaModeFor(nodeID string) string {
	c, ok := e.Contracts[nodeID]
	if !ok || c == nil {
		return ""
	}
	return string(c.Mode())
}
