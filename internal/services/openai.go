package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// KindOpenAI is the registry key for OpenAIService.
const KindOpenAI = "openai"

const (
	defaultOpenAIModel  = openai.GPT4oMini
	defaultInstruction  = "List every named entity mentioned in the text."
	openAISystemMessage = "You extract values from text. Answer with one value per line and nothing else. " +
		"Keep the order in which values appear in the text. If there is nothing to extract, answer NONE."
)

// OpenAIService asks a chat completion model to extract values following the
// instruction property. The reply is read as one value per line.
type OpenAIService struct {
	Properties
	client  *openai.Client
	limiter *rate.Limiter
}

// NewOpenAIService creates a service bound to deps.OpenAI, which may be nil.
func NewOpenAIService(deps Deps) *OpenAIService {
	model := deps.OpenAIModel
	if model == "" {
		model = defaultOpenAIModel
	}
	s := &OpenAIService{client: deps.OpenAI, limiter: deps.limiter()}
	s.Declare([]string{"model", "instruction", ColumnProperty}, map[string]string{
		"model":       model,
		"instruction": defaultInstruction,
	})
	return s
}

func (s *OpenAIService) Kind() string { return KindOpenAI }

func (s *OpenAIService) Documentation() string {
	return "Chat completion extraction; one value per line of the model reply"
}

// IsConfigured reports whether an API client, model and instruction are set.
func (s *OpenAIService) IsConfigured() bool {
	return s.client != nil && s.Property("model") != "" && s.Property("instruction") != ""
}

// Extract sends text with the instruction and parses the reply.
func (s *OpenAIService) Extract(ctx context.Context, text string) ([]string, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("%w: missing API key, model or instruction", ErrNotConfigured)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req := openai.ChatCompletionRequest{
		Model: s.Property("model"),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: openAISystemMessage},
			{Role: openai.ChatMessageRoleUser, Content: s.Property("instruction") + "\n\nText:\n" + text},
		},
		Temperature: 0,
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return parseLines(resp.Choices[0].Message.Content), nil
}

// parseLines splits a model reply into values, dropping list markers and
// blank lines. A lone NONE means no values.
func parseLines(reply string) []string {
	values := []string{}
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		values = append(values, line)
	}
	if len(values) == 1 && strings.EqualFold(values[0], "none") {
		return []string{}
	}
	return values
}
