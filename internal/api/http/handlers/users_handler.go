package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/authgate/internal/api/dto"
	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/internal/pipeline"
	"github.com/spec-kit/authgate/internal/service"
)

// UsersHandler exposes account administration endpoints.
type UsersHandler struct {
	users *service.UserService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(users *service.UserService) *UsersHandler {
	return &UsersHandler{users: users}
}

// List handles GET /users.
func (h *UsersHandler) List(c *fiber.Ctx, st *pipeline.State) error {
	page, err := h.users.List(c.UserContext(), service.ListUsersInput{
		Page:     integer(st.Query, "page"),
		Limit:    integer(st.Query, "limit"),
		Search:   str(st.Query, "search"),
		Role:     domain.Role(str(st.Query, "role")),
		IsActive: optionalBool(st.Query, "isActive"),
		Sort:     str(st.Query, "sort"),
	})
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Users retrieved successfully", dto.NewUserListResponse(page.Users, page.Page, page.Limit, page.Total))
}

// Get handles GET /users/:id.
func (h *UsersHandler) Get(c *fiber.Ctx, _ *pipeline.State) error {
	user, err := h.users.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "User retrieved successfully", fiber.Map{"user": dto.NewUserResponse(user)})
}

// Create handles POST /users.
func (h *UsersHandler) Create(c *fiber.Ctx, st *pipeline.State) error {
	p, err := principal(st)
	if err != nil {
		return err
	}
	user, err := h.users.Create(c.UserContext(), p.SubjectID, service.CreateUserInput{
		Email:     str(st.Payload, "email"),
		Password:  str(st.Payload, "password"),
		FirstName: str(st.Payload, "firstName"),
		LastName:  str(st.Payload, "lastName"),
		Role:      domain.Role(str(st.Payload, "role")),
	})
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, "User created successfully", fiber.Map{"user": dto.NewUserResponse(user)})
}

// Update handles PUT /users/:id.
func (h *UsersHandler) Update(c *fiber.Ctx, st *pipeline.State) error {
	p, err := principal(st)
	if err != nil {
		return err
	}
	user, err := h.users.Update(c.UserContext(), p, c.Params("id"), service.UpdateUserInput{
		Email:     optionalStr(st.Payload, "email"),
		FirstName: optionalStr(st.Payload, "firstName"),
		LastName:  optionalStr(st.Payload, "lastName"),
		Role:      optionalRole(st.Payload, "role"),
		IsActive:  optionalBool(st.Payload, "isActive"),
	})
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "User updated successfully", fiber.Map{"user": dto.NewUserResponse(user)})
}

// Delete handles DELETE /users/:id.
func (h *UsersHandler) Delete(c *fiber.Ctx, st *pipeline.State) error {
	p, err := principal(st)
	if err != nil {
		return err
	}
	if err := h.users.Delete(c.UserContext(), p.SubjectID, c.Params("id")); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "User deleted successfully", nil)
}

// SetStatus handles PATCH /users/:id/status.
func (h *UsersHandler) SetStatus(c *fiber.Ctx, st *pipeline.State) error {
	active, _ := st.Payload["isActive"].(bool)
	return h.setActive(c, st, active, "User status updated successfully")
}

// Activate handles PATCH /users/:id/activate.
func (h *UsersHandler) Activate(c *fiber.Ctx, st *pipeline.State) error {
	return h.setActive(c, st, true, "User activated successfully")
}

// Deactivate handles PATCH /users/:id/deactivate.
func (h *UsersHandler) Deactivate(c *fiber.Ctx, st *pipeline.State) error {
	return h.setActive(c, st, false, "User deactivated successfully")
}

func (h *UsersHandler) setActive(c *fiber.Ctx, st *pipeline.State, active bool, message string) error {
	p, err := principal(st)
	if err != nil {
		return err
	}
	user, err := h.users.SetActive(c.UserContext(), p.SubjectID, c.Params("id"), active)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, message, fiber.Map{"user": dto.NewUserResponse(user)})
}
