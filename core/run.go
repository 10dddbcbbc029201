package core

// WorkflowRun identifies one execution attempt of a workflow.
type WorkflowRun struct {
	// WorkflowID is the ID of the workflow this run belongs to.
	WorkflowID string `json:"workflow_id,omitempty"`

	// RunID is the ID of this execution attempt. It is unique across all
	// attempts and is the sole key used for sticky caching.
	RunID string `json:"run_id,omitempty"`
}

func NewWorkflowRun(workflowID, runID string) *WorkflowRun {
	return &WorkflowRun{
		WorkflowID: workflowID,
		RunID:      runID,
	}
}
