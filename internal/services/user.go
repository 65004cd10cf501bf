package services

import (
	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
)

// userService answers block queries about the learner the block is bound
// to. Under masquerade the info reflects the effective (impersonated)
// identity; wrappers that must know the real identity consult request data
// directly.
type userService struct {
	info block.UserInfo
}

func NewUserService(viewer requestdata.Viewer, anonymousID string) block.UserService {
	role := "student"
	isStaff := viewer.IsStaff && !viewer.IsMasqueradingAsStudent()
	if isStaff {
		role = "staff"
	}
	info := block.UserInfo{
		Username:        viewer.Username,
		IsAuthenticated: viewer.IsAuthenticated,
		IsStaff:         isStaff,
		Role:            role,
		AnonymousID:     anonymousID,
		CountryCode:     viewer.CountryCode,
	}
	if viewer.IsAuthenticated {
		id := viewer.EffectiveUserID()
		info.ID = &id
	}
	return &userService{info: info}
}

func (s *userService) Info() block.UserInfo { return s.info }
