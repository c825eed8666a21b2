package model

import "fmt"

// Provider is a Mail.tm-compatible API deployment together with its
// Mercure hub.
type Provider struct {
	ID         string `mapstructure:"id" yaml:"id"`
	Name       string `mapstructure:"name" yaml:"name"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	MercureURL string `mapstructure:"mercure_url" yaml:"mercure_url"`
	Custom     bool   `mapstructure:"-" yaml:"-"`
}

// PresetProviders are always available without configuration.
var PresetProviders = []Provider{
	{
		ID:         "duckmail",
		Name:       "DuckMail",
		BaseURL:    "https://api.duckmail.sbs",
		MercureURL: "https://mercure.duckmail.sbs/.well-known/mercure",
	},
	{
		ID:         "mailtm",
		Name:       "Mail.tm",
		BaseURL:    "https://api.mail.tm",
		MercureURL: "https://mercure.mail.tm/.well-known/mercure",
	},
}

// Providers returns the presets followed by the configured custom
// providers. A custom provider with a preset id replaces the preset.
func (c *AppConfig) Providers() []Provider {
	out := make([]Provider, 0, len(PresetProviders)+len(c.CustomProviders))
	overridden := make(map[string]bool, len(c.CustomProviders))
	for _, p := range c.CustomProviders {
		overridden[p.ID] = true
	}
	for _, p := range PresetProviders {
		if !overridden[p.ID] {
			out = append(out, p)
		}
	}
	for _, p := range c.CustomProviders {
		p.Custom = true
		out = append(out, p)
	}
	return out
}

// Provider looks up a provider by id.
func (c *AppConfig) Provider(id string) (Provider, error) {
	for _, p := range c.Providers() {
		if p.ID == id {
			return p, nil
		}
	}
	return Provider{}, fmt.Errorf("unknown provider %q", id)
}
