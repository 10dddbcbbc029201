package metadata

// WorkflowMetadata carries routing information for a workflow run. It is
// attached to decision tasks for tagging metrics and log lines, it is not
// part of the run identity.
type WorkflowMetadata struct {
	Namespace    string `json:"namespace,omitempty"`
	TaskQueue    string `json:"task_queue,omitempty"`
	WorkflowType string `json:"workflow_type,omitempty"`
}
