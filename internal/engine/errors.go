package engine

func errJSON(err error) map[string]any {
	if err == nil {
		return nil
	}
	return map[string]any{"error": err.Error()}
}

// retryableOutcomeError is the sentinel the transform retry loop returns
// when a TransformResult.error declared itself Retryable, so the shared
// retry.Manager's isRetryable predicate can tell it apart from a plain
// plugin-invocation failure without inspecting TransformResult directly.
type retryableOutcomeError struct {
	reason map[string]any
}

func (e *retryableOutcomeError) Error() string {
	if msg, ok := e.reason["error"].(string); ok {
		return msg
	}
	return "retryable transform outcome"
}
