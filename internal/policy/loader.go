package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"intercom/internal/model"
)

// LoadFile reads a policy YAML document (spec.md §6 Policy file) from
// path and returns the parsed ApprovalPolicy.
func LoadFile(path string) (model.ApprovalPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ApprovalPolicy{}, fmt.Errorf("read policy file %s: %w", path, err)
	}
	var p model.ApprovalPolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return model.ApprovalPolicy{}, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if p.DefaultApproval == "" {
		p.DefaultApproval = model.ApprovalOnce
	}
	return p, nil
}
