package usecase

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"coach-proxy/internal/domain"
)

const (
	DefaultModel        = "gpt-4o"
	DefaultSystemPrompt = "You are a supportive mental coach."
)

// CredentialSource supplies the completion API credential at call time.
// Name and Hint are used to build the configuration error shown to callers.
type CredentialSource interface {
	APIKey(ctx context.Context) (string, error)
	Name() string
	Hint() string
}

// Completer issues a single chat completion and returns the first choice text.
type Completer interface {
	Complete(ctx context.Context, apiKey, model string, messages []domain.ChatMessage) (string, error)
}

type ChatService struct {
	creds         CredentialSource
	llm           Completer
	model         string
	systemPrompt  string
	maxMessageLen int
}

type ChatInput struct {
	Message string
}

type ChatOutput struct {
	Reply string
}

func NewChatService(creds CredentialSource, llm Completer, model, systemPrompt string, maxMessageLen int) (*ChatService, error) {
	if creds == nil {
		return nil, errors.New("usecase: credential source must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if maxMessageLen < 0 {
		return nil, errors.New("usecase: max message length must not be negative")
	}
	return &ChatService{
		creds:         creds,
		llm:           llm,
		model:         model,
		systemPrompt:  systemPrompt,
		maxMessageLen: maxMessageLen,
	}, nil
}

// Chat validates the message, resolves the credential and forwards one
// completion request. The trimmed message is checked before the credential so
// empty input is always reported as the caller's fault.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", "Message cannot be empty", nil)
	}
	if s.maxMessageLen > 0 && utf8.RuneCountInString(message) > s.maxMessageLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", "Message is too long", nil)
	}

	apiKey, err := s.creds.APIKey(ctx)
	if err == nil && strings.TrimSpace(apiKey) == "" {
		err = errors.New("usecase: credential is empty")
	}
	if err != nil {
		return ChatOutput{}, newError(ErrorConfiguration, "credential_missing", s.configurationMessage(), err)
	}

	reply, err := s.llm.Complete(ctx, apiKey, s.model, buildPromptMessages(s.systemPrompt, message))
	if err != nil {
		return ChatOutput{}, newError(ErrorUpstream, "openai_error", "Error calling OpenAI API: "+err.Error(), err)
	}
	return ChatOutput{Reply: reply}, nil
}

func (s *ChatService) configurationMessage() string {
	msg := s.creds.Name() + " not configured."
	if hint := strings.TrimSpace(s.creds.Hint()); hint != "" {
		msg += " " + hint
	}
	return msg
}
