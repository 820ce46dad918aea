package rbac

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy maps route names to the requirement guarding them.
//
// Example file:
//
//	routes:
//	  list_groups:
//	    kind: group_member
//	    groups: [rh, direction]
//	  effective_permissions:
//	    kind: specific_permission
//	    permission: [user_management, READ]
type Policy struct {
	Routes map[string]Requirement `yaml:"routes"`
}

// ParsePolicy decodes and validates a YAML policy
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	for name, req := range p.Routes {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("route %q: %w", name, err)
		}
	}
	return &p, nil
}

// LoadPolicy reads a policy file. An empty path yields an empty policy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return &Policy{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// Requirement returns the override for route, else def
func (p *Policy) Requirement(route string, def Requirement) Requirement {
	if p == nil {
		return def
	}
	if req, ok := p.Routes[route]; ok {
		return req
	}
	return def
}
