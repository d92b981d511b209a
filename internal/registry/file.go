package registry

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a provider registry from a YAML file. The file has a
// top-level "registry" key:
//
//	registry:
//	  active_provider: gemini
//	  fallback_enabled: true
//	  providers:
//	    - id: gemini
//	      model: gemini-1.5-flash
//	      credential_ref: GEMINI_API_KEY
//	      enabled: true
//	      priority: 1
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, eris.Wrapf(err, "registry: read %s", path)
	}

	var wrapper struct {
		Registry struct {
			ActiveProviderID string           `yaml:"active_provider"`
			FallbackEnabled  *bool            `yaml:"fallback_enabled"`
			Providers        []ProviderConfig `yaml:"providers"`
		} `yaml:"registry"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Config{}, eris.Wrap(err, "registry: parse file")
	}

	cfg := Config{
		ActiveProviderID: wrapper.Registry.ActiveProviderID,
		FallbackEnabled:  true,
		Providers:        wrapper.Registry.Providers,
	}
	if wrapper.Registry.FallbackEnabled != nil {
		cfg.FallbackEnabled = *wrapper.Registry.FallbackEnabled
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MaskCredential hides all but the last four characters of a secret.
func MaskCredential(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "***"
	}
	return "***" + secret[len(secret)-4:]
}

// Describe returns a display-safe copy of the providers: the resolved
// credential is replaced by its masked form.
func Describe(providers []ProviderConfig, activeID string) []ProviderView {
	views := make([]ProviderView, 0, len(providers))
	for _, p := range providers {
		views = append(views, ProviderView{
			ID:           p.ID,
			DisplayName:  p.DisplayName,
			Backend:      p.BackendName(),
			Model:        p.ModelID,
			Enabled:      p.Enabled,
			PriorityRank: p.PriorityRank,
			Credential:   MaskCredential(strings.TrimSpace(p.Credential())),
			Active:       p.ID == activeID,
		})
	}
	return views
}

// ProviderView is the public, secret-free rendering of a provider.
type ProviderView struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	Backend      string `json:"backend"`
	Model        string `json:"model"`
	Enabled      bool   `json:"enabled"`
	PriorityRank int    `json:"priority"`
	Credential   string `json:"credential"`
	Active       bool   `json:"active"`
}
