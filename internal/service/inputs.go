package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// MaxContentRunes: предел длины текста сообщения.
const MaxContentRunes = 5000

type CreateConversationInput struct {
	CreatorID   string                 `json:"-" validate:"required"`
	Type        model.ConversationType `json:"type" validate:"required,oneof=private group channel"`
	Name        string                 `json:"name" validate:"max=255"`
	Description string                 `json:"description" validate:"max=1000"`
	Members     []string               `json:"members" validate:"max=1000,dive,required,max=64"`
	Settings    map[string]string      `json:"settings"`
}

type CreateMessageInput struct {
	ConversationID string            `json:"-" validate:"required"`
	AuthorID       string            `json:"-" validate:"required"`
	Content        string            `json:"content" validate:"required_if=Type text,max=5000"`
	Type           model.MessageType `json:"type" validate:"required,oneof=text image file audio video system"`
	ParentID       *string           `json:"parent_id"`
	Metadata       map[string]any    `json:"metadata"`
	ScheduledAt    *time.Time        `json:"scheduled_at"`
}

type editInput struct {
	Content string `json:"content" validate:"required,max=5000"`
}

type ListMessagesInput struct {
	ConversationID string
	ViewerID       string
	Before         string
	After          string
	Limit          int
}

type reactionInput struct {
	Emoji string `json:"emoji" validate:"required,max=10"`
}

type pinInput struct {
	Note string `json:"note" validate:"max=255"`
}

type CreatePollInput struct {
	ConversationID string     `json:"-" validate:"required"`
	CreatorID      string     `json:"-" validate:"required"`
	Question       string     `json:"question" validate:"required,max=500"`
	Options        []string   `json:"options" validate:"min=2,max=10,dive,required,max=100"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

type searchInput struct {
	Query string `json:"query" validate:"required,min=2,max=200"`
}

type AttachFileInput struct {
	MessageID string
	UserID    string
	Name      string
	Data      []byte
}

// check прогоняет validator по структуре и переводит ошибки в apperr.Validation.
func (s *Service) check(op string, in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return apperr.Wrap(apperr.Internal, op, err)
	}
	msgs := lo.Map(ve, func(fe validator.FieldError, _ int) string { return describe(fe) })
	return apperr.E(apperr.Validation, op, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fe.Field() + " is required"
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at most %s items", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at least %s items", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	}
	return fe.Field() + " is invalid"
}
