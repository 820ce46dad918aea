package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequirement marks a malformed authorization requirement
var ErrInvalidRequirement = errors.New("rbac: invalid requirement")

// Kind selects which gate evaluates a Requirement
type Kind string

const (
	// KindModelPermission maps the HTTP verb to an action on a resource
	KindModelPermission Kind = "model_permission"
	// KindUserGroupAdmin guards membership administration (user_group)
	KindUserGroupAdmin Kind = "user_group_admin"
	// KindSpecificPermission requires one fixed (resource, action) pair
	KindSpecificPermission Kind = "specific_permission"
	// KindGroupMember requires membership in one of the listed groups
	KindGroupMember Kind = "group_member"
	// KindPermissionAdmin guards group permission administration (group_permission)
	KindPermissionAdmin Kind = "permission_admin"
)

// Requirement is the authorization a handler declares. Only the fields of
// its Kind are read.
type Requirement struct {
	Kind Kind `yaml:"kind" json:"kind"`

	// Resource overrides the name inferred from Model
	Resource string `yaml:"resource,omitempty" json:"resource,omitempty"`
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`

	// Permission is a (resource, action) pair
	Permission []string `yaml:"permission,omitempty" json:"permission,omitempty"`

	// Groups lists acceptable group codes
	Groups []string `yaml:"groups,omitempty" json:"groups,omitempty"`
}

// ModelPermission requires the verb-mapped action on resource
func ModelPermission(resource string) Requirement {
	return Requirement{Kind: KindModelPermission, Resource: resource}
}

// ModelPermissionFor infers the resource from a model name (lower-cased)
func ModelPermissionFor(model string) Requirement {
	return Requirement{Kind: KindModelPermission, Model: model}
}

// UserGroupAdmin requires user_group.READ for reads and user_group.UPDATE for writes
func UserGroupAdmin() Requirement {
	return Requirement{Kind: KindUserGroupAdmin}
}

// SpecificPermission requires resource.action whatever the verb
func SpecificPermission(resource string, action Action) Requirement {
	return Requirement{Kind: KindSpecificPermission, Permission: []string{resource, string(action)}}
}

// GroupMember requires an active membership in one of the groups
func GroupMember(codes ...string) Requirement {
	return Requirement{Kind: KindGroupMember, Groups: codes}
}

// PermissionAdmin requires group_permission.READ for reads and group_permission.UPDATE for writes
func PermissionAdmin() Requirement {
	return Requirement{Kind: KindPermissionAdmin}
}

// resourceName returns the explicit resource, else the lower-cased model
func (r Requirement) resourceName() string {
	if r.Resource != "" {
		return r.Resource
	}
	return strings.ToLower(r.Model)
}

// Validate checks the requirement is well formed for its kind
func (r Requirement) Validate() error {
	switch r.Kind {
	case KindModelPermission:
		if r.resourceName() == "" {
			return fmt.Errorf("%w: %s needs a resource or model", ErrInvalidRequirement, r.Kind)
		}
	case KindUserGroupAdmin, KindPermissionAdmin:
	case KindSpecificPermission:
		if len(r.Permission) != 2 {
			return fmt.Errorf("%w: %s needs exactly (resource, action), got %d values",
				ErrInvalidRequirement, r.Kind, len(r.Permission))
		}
		if r.Permission[0] == "" {
			return fmt.Errorf("%w: %s has an empty resource", ErrInvalidRequirement, r.Kind)
		}
		if !Action(r.Permission[1]).Valid() {
			return fmt.Errorf("%w: %s has unknown action %q", ErrInvalidRequirement, r.Kind, r.Permission[1])
		}
	case KindGroupMember:
		if len(r.Groups) == 0 {
			return fmt.Errorf("%w: %s needs at least one group code", ErrInvalidRequirement, r.Kind)
		}
	case "":
		return fmt.Errorf("%w: missing kind", ErrInvalidRequirement)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequirement, r.Kind)
	}
	return nil
}

// String renders the requirement for logs
func (r Requirement) String() string {
	switch r.Kind {
	case KindModelPermission:
		return fmt.Sprintf("%s(%s)", r.Kind, r.resourceName())
	case KindSpecificPermission:
		return fmt.Sprintf("%s(%s)", r.Kind, strings.Join(r.Permission, "."))
	case KindGroupMember:
		return fmt.Sprintf("%s(%s)", r.Kind, strings.Join(r.Groups, ","))
	}
	return string(r.Kind)
}
