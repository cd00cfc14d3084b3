package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// PartnerEndpoints defines one partner's upstream endpoints and OAuth
// credentials, as declared in the partners file.
type PartnerEndpoints struct {
	Code string `mapstructure:"code"`
	Name string `mapstructure:"name"`

	CoursesURL       string `mapstructure:"courses_url"`
	ProductsURL      string `mapstructure:"products_url"`
	ProgramsURL      string `mapstructure:"programs_url"`
	OrganizationsURL string `mapstructure:"organizations_url"`

	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	PublisherManaged bool `mapstructure:"publisher_managed"`
}

// LoadPartners reads the partner definitions from a YAML/JSON/TOML file.
func LoadPartners(path string) ([]PartnerEndpoints, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read partners file %s: %w", path, err)
	}

	var partners []PartnerEndpoints
	if err := v.UnmarshalKey("partners", &partners); err != nil {
		return nil, fmt.Errorf("parse partners file %s: %w", path, err)
	}
	for i := range partners {
		if partners[i].Code == "" {
			return nil, fmt.Errorf("partners file %s: entry %d has no code", path, i)
		}
	}
	return partners, nil
}
