package payload

// Payload is an opaque serialized value crossing the worker boundary. The
// replay core never inspects payloads, it only moves them between history
// events, workflow code, and results.
type Payload []byte
