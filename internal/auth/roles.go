package auth

import (
	"context"
	"slices"

	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/internal/pipeline"
	"github.com/spec-kit/authgate/pkg/apperr"
)

const (
	msgInsufficientRole = "Insufficient permissions."
	msgNotOwner         = "Access denied. You can only access your own resources."
)

// Authorize allows p only when its role is listed in required. There is no
// implicit hierarchy: admin passes only when admin is listed. A nil principal
// is denied.
func Authorize(p *domain.Principal, required ...domain.Role) error {
	if p == nil {
		return apperr.RoleForbidden(msgInsufficientRole)
	}
	if !slices.Contains(required, p.Role) {
		return apperr.RoleForbidden(msgInsufficientRole)
	}
	return nil
}

// CheckOwnership allows p when it owns the resource or carries the admin role.
func CheckOwnership(p *domain.Principal, ownerID string) error {
	if p == nil {
		return apperr.OwnershipForbidden(msgNotOwner)
	}
	if p.IsAdmin() {
		return nil
	}
	if ownerID == "" || p.SubjectID != ownerID {
		return apperr.OwnershipForbidden(msgNotOwner)
	}
	return nil
}

// RequireRoles is the authorization stage for a fixed role set.
func RequireRoles(roles ...domain.Role) pipeline.Stage {
	required := append([]domain.Role(nil), roles...)
	return pipeline.StageFunc("authorize", func(_ context.Context, _ *pipeline.Request, st *pipeline.State) pipeline.Outcome {
		if err := Authorize(st.Principal, required...); err != nil {
			return pipeline.Reject(err)
		}
		return pipeline.Allow()
	})
}

// OwnerFunc extracts the owning subject id of the addressed resource.
type OwnerFunc func(req *pipeline.Request, st *pipeline.State) string

// OwnerFromParam reads the owner id from a route parameter.
func OwnerFromParam(name string) OwnerFunc {
	return func(req *pipeline.Request, _ *pipeline.State) string {
		return req.Params[name]
	}
}

// RequireOwnership is the ownership stage; admins bypass it.
func RequireOwnership(owner OwnerFunc) pipeline.Stage {
	return pipeline.StageFunc("authorize-ownership", func(_ context.Context, req *pipeline.Request, st *pipeline.State) pipeline.Outcome {
		if err := CheckOwnership(st.Principal, owner(req, st)); err != nil {
			return pipeline.Reject(err)
		}
		return pipeline.Allow()
	})
}
