// Package publisher holds helpers shared by the Publisher implementations.
package publisher

// Attributer is implemented by payloads that carry message attributes.
type Attributer interface {
	Attributes() map[string]string
}

// AttributesOf returns the payload's attributes, or nil when it has none.
func AttributesOf(payload any) map[string]string {
	if a, ok := payload.(Attributer); ok {
		return a.Attributes()
	}
	return nil
}
