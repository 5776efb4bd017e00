package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Role is the operator account role carried in the token.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleSchool Role = "school"
)

// ActingSchoolCookie holds the school an admin is currently operating on.
const ActingSchoolCookie = "acting_school_id"

// ErrForbidden is returned when the operator may not act on any school.
var ErrForbidden = errors.New("operator is not allowed to access school data")

// ErrNoActingSchool is returned when an admin has not selected a school.
var ErrNoActingSchool = errors.New("admin acting school is not set")

// SchoolScope returns the school the request is scoped to. Admins act on the
// school named by the acting cookie; school operators on their own school.
func SchoolScope(r *http.Request, claims *Claims) (string, error) {
	if claims == nil {
		return "", ErrMissingToken
	}
	switch claims.Role {
	case RoleAdmin:
		cookie, err := r.Cookie(ActingSchoolCookie)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			return "", ErrNoActingSchool
		}
		return strings.TrimSpace(cookie.Value), nil
	case RoleSchool:
		if claims.SchoolID == "" {
			return "", ErrForbidden
		}
		return claims.SchoolID, nil
	}
	return "", ErrForbidden
}
