package history

import (
	"github.com/tylercunnion/go-replay/backend/payload"
)

type SignalReceivedAttributes struct {
	Name string `json:"name,omitempty"`

	Arg payload.Payload `json:"arg,omitempty"`
}
