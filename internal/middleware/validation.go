package middleware

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/capitalize-ai/model-middleware/internal/model"
)

const (
	maxContentLength = 100000
	maxMessages      = 500
)

var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxContentLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversation validates a chat request's messages.
func ValidateConversation(conv model.Conversation) error {
	if len(conv) == 0 {
		return errors.New("messages cannot be empty")
	}
	if len(conv) > maxMessages {
		return fmt.Errorf("at most %d messages allowed", maxMessages)
	}
	for i, msg := range conv {
		if !msg.Role.Valid() {
			return fmt.Errorf("message %d: invalid role %q", i, msg.Role)
		}
		if err := ValidateMessageContent(msg.Content); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

// ValidateToolName validates a tool name.
func ValidateToolName(name string) error {
	if !toolNamePattern.MatchString(name) {
		return errors.New("invalid tool name")
	}
	return nil
}
