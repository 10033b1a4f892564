package interceptors

import (
	"net/http"

	"go.temporal.io/sdk/activity"
)

// WorkflowHTTPRoundTripper tags outgoing requests made inside an activity with the
// workflow and run ids so provider-side logs can be joined with the run.
type WorkflowHTTPRoundTripper struct {
	base http.RoundTripper
}

// NewWorkflowHTTPRoundTripper wraps base; nil uses http.DefaultTransport
func NewWorkflowHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &WorkflowHTTPRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper
func (w *WorkflowHTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if wfID, runID := workflowIDs(req); wfID != "" {
		req = req.Clone(req.Context())
		req.Header.Set("X-Workflow-ID", wfID)
		req.Header.Set("X-Run-ID", runID)
	}
	return w.base.RoundTrip(req)
}

// workflowIDs reads the activity info; requests outside an activity carry none
func workflowIDs(req *http.Request) (wfID, runID string) {
	defer func() {
		if recover() != nil {
			wfID, runID = "", ""
		}
	}()
	info := activity.GetInfo(req.Context())
	return info.WorkflowExecution.ID, info.WorkflowExecution.RunID
}
