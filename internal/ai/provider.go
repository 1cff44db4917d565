package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role/text pair of a model request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a stateless request/response client to a text-completion service.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Named is implemented by providers that report a name for metrics and logs.
type Named interface {
	Name() string
}

func ProviderName(p Provider) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
