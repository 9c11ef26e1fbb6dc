package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProvisioningPolicy names the directory groups with special meaning during provisioning
type ProvisioningPolicy struct {
	// PartnerGroupNames are the accepted spellings of the business-partners group
	PartnerGroupNames []string `yaml:"partner_group_names"`
	// AdminGroupNames are groups a partner must never belong to
	AdminGroupNames []string `yaml:"admin_group_names"`
}

// DefaultProvisioningPolicy returns the built-in group spellings
func DefaultProvisioningPolicy() ProvisioningPolicy {
	return ProvisioningPolicy{
		PartnerGroupNames: []string{"business-partners", "business_partners", "businesspartners", "partners"},
		AdminGroupNames:   []string{"admins", "admin", "administrators"},
	}
}

// LoadProvisioningPolicy reads a policy file. An empty path returns the defaults;
// lists omitted from the file keep their default values.
func LoadProvisioningPolicy(path string) (ProvisioningPolicy, error) {
	policy := DefaultProvisioningPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("failed to read policy file: %w", err)
	}

	var fromFile ProvisioningPolicy
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return policy, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if len(fromFile.PartnerGroupNames) > 0 {
		policy.PartnerGroupNames = fromFile.PartnerGroupNames
	}
	if len(fromFile.AdminGroupNames) > 0 {
		policy.AdminGroupNames = fromFile.AdminGroupNames
	}
	return policy, nil
}
