package usecase

import (
	"strings"

	"coach-proxy/internal/domain"
)

// buildPromptMessages returns the fixed two-message conversation sent upstream.
func buildPromptMessages(systemPrompt, message string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: strings.TrimSpace(systemPrompt)},
		{Role: domain.RoleUser, Content: message},
	}
}
