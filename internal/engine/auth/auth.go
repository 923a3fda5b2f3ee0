// Package auth defines the actor identity and role model used across the
// engine and the HTTP layer.
package auth

import (
	"fmt"
	"strings"
)

// Role is the coarse permission level attached to an actor.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleLeader Role = "leader"
	RoleWorker Role = "worker"
)

// ParseRole validates a raw role string.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleLeader:
		return RoleLeader, nil
	case RoleWorker:
		return RoleWorker, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Actor is the authenticated caller of an engine operation. CrewID is set
// for leaders and workers bound to a crew, nil for admins.
type Actor struct {
	ID     string
	Role   Role
	CrewID *string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// ManagesProjects reports whether the actor can drive project status
// transitions. Admins and crew leaders can; workers cannot.
func (a Actor) ManagesProjects() bool {
	return a.Role == RoleAdmin || a.Role == RoleLeader
}

// Crew returns the actor's crew ID, or empty when unbound.
func (a Actor) Crew() string {
	if a.CrewID == nil {
		return ""
	}
	return *a.CrewID
}
