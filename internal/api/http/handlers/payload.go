package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/authgate/internal/api/dto"
	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/internal/pipeline"
	"github.com/spec-kit/authgate/pkg/apperr"
)

func respond(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(dto.Envelope{Success: true, Message: message, Data: data})
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func optionalStr(m map[string]any, key string) *string {
	s, ok := m[key].(string)
	if !ok {
		return nil
	}
	return &s
}

func optionalBool(m map[string]any, key string) *bool {
	b, ok := m[key].(bool)
	if !ok {
		return nil
	}
	return &b
}

func optionalRole(m map[string]any, key string) *domain.Role {
	s, ok := m[key].(string)
	if !ok {
		return nil
	}
	r := domain.Role(s)
	return &r
}

func integer(m map[string]any, key string) int {
	n, _ := m[key].(int)
	return n
}

// principal returns the caller attached by the authentication stage. Routes
// reaching a handler without one are wired wrong, so this fails closed.
func principal(st *pipeline.State) (*domain.Principal, error) {
	if st == nil || st.Principal == nil {
		return nil, apperr.CredentialMissing("Access denied. No token provided.")
	}
	return st.Principal, nil
}
