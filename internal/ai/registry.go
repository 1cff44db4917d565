package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrUnknownProvider = errors.New("unknown model provider")
	ErrMissingAPIKey   = errors.New("model provider api key is required")
)

// ProviderFactory builds a provider for one model.
type ProviderFactory func(ctx context.Context, model string) (Provider, error)

// Registry resolves a provider by name. Names are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	key := normName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = f
}

func (r *Registry) Get(ctx context.Context, name, model string) (Provider, error) {
	key := normName(name)
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownProvider, key, strings.Join(r.Names(), ", "))
	}
	p, err := f(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("build %s provider: %w", key, err)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normName(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Settings carries the connection details of the built-in providers.
type Settings struct {
	Timeout time.Duration

	OllamaBaseURL string

	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterSiteURL string
	OpenRouterAppName string

	GeminiAPIKey  string
	GeminiBaseURL string
}

// NewDefaultRegistry registers ollama, openrouter and gemini. Hosted
// providers fail to build without an API key.
func NewDefaultRegistry(s Settings) *Registry {
	r := NewRegistry()
	r.Register("ollama", func(_ context.Context, model string) (Provider, error) {
		return NewOllamaProvider(s.OllamaBaseURL, model, s.Timeout), nil
	})
	r.Register("openrouter", func(_ context.Context, model string) (Provider, error) {
		if strings.TrimSpace(s.OpenRouterAPIKey) == "" {
			return nil, ErrMissingAPIKey
		}
		return NewOpenRouterProvider(s.OpenRouterBaseURL, s.OpenRouterAPIKey, model,
			s.OpenRouterSiteURL, s.OpenRouterAppName, s.Timeout), nil
	})
	r.Register("gemini", func(ctx context.Context, model string) (Provider, error) {
		if strings.TrimSpace(s.GeminiAPIKey) == "" {
			return nil, ErrMissingAPIKey
		}
		return NewGeminiProvider(ctx, s.GeminiAPIKey, s.GeminiBaseURL, model)
	})
	return r
}
