package types

// Event is a typed record emitted by the native engines during state
// transitions. Attribute values are already string-encoded.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
