package transforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/canon"
	"github.com/tachyon-beep/elspeth/internal/plugin"
)

// HTTPFetch sends each row as a JSON body to the URL URLFor returns for
// it and stores the decoded JSON response body in the row under
// OutputField.
type HTTPFetch struct {
	Client      *http.Client
	Method      string
	URLFor      func(row map[string]any) (string, error)
	OutputField string
}

// NewHTTPFetch builds an HTTPFetch transform. A nil client defaults to
// http.DefaultClient, matching the reference orchestrator's stdlib-only
// HTTPClient wrapper: no third-party HTTP library appears anywhere in
// the example pack, so this transform calls net/http directly rather
// than introducing one (see DESIGN.md).
func NewHTTPFetch(client *http.Client, method string, urlFor func(row map[string]any) (string, error), outputField string) *HTTPFetch {
	if client == nil {
		client = http.DefaultClient
	}
	if method == "" {
		method = http.MethodGet
	}
	return &HTTPFetch{Client: client, Method: method, URLFor: urlFor, OutputField: outputField}
}

func (h *HTTPFetch) IsBatchAware() bool { return false }

// Process issues one HTTP request per row and records it as a Call via
// PluginContext.RecordCall, matching how the engine wraps every
// plugin-initiated side effect in the audit trail regardless of call
// type.
func (h *HTTPFetch) Process(ctx context.Context, rows []map[string]any, pctx *plugin.Context) (plugin.TransformResult, error) {
	if len(rows) != 1 {
		return plugin.TransformResult{}, fmt.Errorf("http fetch transform: expected exactly one row, got %d", len(rows))
	}
	row := rows[0]

	url, err := h.URLFor(row)
	if err != nil {
		return plugin.Error(map[string]any{"error": err.Error()}, false), nil
	}

	reqBody, err := canon.Marshal(row)
	if err != nil {
		return plugin.Error(map[string]any{"error": err.Error()}, false), nil
	}

	req, err := http.NewRequestWithContext(ctx, h.Method, url, bytes.NewReader(reqBody))
	if err != nil {
		return plugin.Error(map[string]any{"error": err.Error()}, false), nil
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, doErr := h.Client.Do(req)
	latency := time.Since(started).Milliseconds()

	if doErr != nil {
		if _, rerr := pctx.RecordCall(ctx, plugin.CallOpts{
			CallType:  audit.CallHTTP,
			Status:    audit.CallError,
			LatencyMS: &latency,
			ErrorJSON: map[string]any{"error": doErr.Error()},
		}); rerr != nil {
			return plugin.TransformResult{}, rerr
		}
		return plugin.Error(map[string]any{"error": doErr.Error()}, true), nil
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return plugin.TransformResult{}, fmt.Errorf("http fetch transform: read response: %w", readErr)
	}

	status := audit.CallSuccess
	if resp.StatusCode >= 400 {
		status = audit.CallError
	}
	if _, rerr := pctx.RecordCall(ctx, plugin.CallOpts{
		CallType:     audit.CallHTTP,
		Status:       status,
		RequestHash:  canon.HashBytes(reqBody),
		ResponseHash: canon.HashBytes(respBody),
		LatencyMS:    &latency,
		Provider:     req.URL.Host,
	}); rerr != nil {
		return plugin.TransformResult{}, rerr
	}

	if resp.StatusCode >= 500 {
		return plugin.Error(map[string]any{"status": resp.StatusCode, "body": string(respBody)}, true), nil
	}
	if resp.StatusCode >= 400 {
		return plugin.Error(map[string]any{"status": resp.StatusCode, "body": string(respBody)}, false), nil
	}

	var decoded any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return plugin.Error(map[string]any{"error": "response is not valid JSON: " + err.Error()}, false), nil
		}
	}

	out := make(map[string]any, len(row)+1)
	for k, v := range row {
		out[k] = v
	}
	out[h.OutputField] = decoded

	return plugin.Success(out), nil
}

var _ plugin.Transform = (*HTTPFetch)(nil)
