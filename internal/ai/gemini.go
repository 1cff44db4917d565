package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider talks to the Gemini API through the official SDK. System
// messages become the request's system instruction.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, baseURL, model string) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{client: c, model: model}, nil
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	system, contents := toGenAI(messages)
	if len(contents) == 0 {
		return "", permanentError(g.Name(), errors.New("no conversation turns"))
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		if code, msg, ok := geminiStatus(err); ok {
			return "", statusError(g.Name(), code, msg)
		}
		return "", transportError(g.Name(), err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", permanentError(g.Name(), ErrEmptyResponse)
	}
	return text, nil
}

// geminiStatus extracts the HTTP status of an API error.
func geminiStatus(err error) (int, string, bool) {
	var v genai.APIError
	if errors.As(err, &v) && v.Code != 0 {
		return v.Code, v.Message, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil && p.Code != 0 {
		return p.Code, p.Message, true
	}
	return 0, "", false
}

// toGenAI folds system messages into one instruction and maps assistant
// turns to the "model" role.
func toGenAI(messages []Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}
