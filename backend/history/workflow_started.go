package history

import (
	"github.com/tylercunnion/go-replay/backend/metadata"
	"github.com/tylercunnion/go-replay/backend/payload"
)

type ExecutionStartedAttributes struct {
	// Name of the workflow to run
	Name string `json:"name,omitempty"`

	Metadata *metadata.WorkflowMetadata `json:"metadata,omitempty"`

	Input payload.Payload `json:"input,omitempty"`
}
