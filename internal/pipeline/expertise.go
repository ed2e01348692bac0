package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
)

const (
	expertInstructions = "You are assisting an expert user. Provide detailed technical explanations, " +
		"use domain-specific terminology, and offer advanced options. " +
		"Assume deep knowledge of the subject matter."

	beginnerInstructions = "You are assisting a beginner. Use simple language, provide step-by-step " +
		"explanations, avoid jargon, and include helpful examples. " +
		"Be patient and educational."
)

// ExpertiseMiddleware adds a system instruction matching the user's expertise.
type ExpertiseMiddleware struct {
	Base

	user   *model.UserContext
	logger *logger.Logger
}

// NewExpertiseMiddleware creates an expertise middleware reading user.
func NewExpertiseMiddleware(user *model.UserContext, log *logger.Logger) *ExpertiseMiddleware {
	if log == nil {
		log = logger.NewNop()
	}
	return &ExpertiseMiddleware{
		user:   user,
		logger: log.Named("expertise"),
	}
}

// Name implements Middleware.
func (m *ExpertiseMiddleware) Name() string { return "expertise" }

// InstructionsFor returns the system instruction for a level. Anything other
// than expert gets the beginner instruction.
func InstructionsFor(level model.ExpertiseLevel) string {
	if level == model.ExpertiseExpert {
		return expertInstructions
	}
	return beginnerInstructions
}

// BeforeModel inserts the instruction right after the existing system messages.
func (m *ExpertiseMiddleware) BeforeModel(_ context.Context, conv model.Conversation) (Result, error) {
	level := m.user.ExpertiseLevel()
	pos := conv.CountRole(model.RoleSystem)

	out := make(model.Conversation, 0, len(conv)+1)
	out = append(out, conv[:pos]...)
	out = append(out, model.SystemMessage(InstructionsFor(level)))
	out = append(out, conv[pos:]...)

	m.logger.Debug("expertise instruction added",
		zap.String("level", string(level)),
		zap.Int("position", pos),
	)

	return Continue(out), nil
}
