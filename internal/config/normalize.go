package config

import (
	"strings"
)

func (c *Config) normalize() error {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverJSON
	}
	if c.Storage.Driver != DriverPostgres && c.Storage.Path != "" && c.Storage.Path != ":memory:" {
		expanded, err := expandPath(c.Storage.Path)
		if err != nil {
			return err
		}
		c.Storage.Path = expanded
	}

	c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.BaseURL), "/")
	c.Provider.AccountID = strings.TrimSpace(c.Provider.AccountID)
	c.Provider.APIToken = strings.TrimSpace(c.Provider.APIToken)

	c.Server.AllowedOrigins = mergeOrigins(c.Server.AllowedOrigins, c.Server.FrontendURL)
	c.Uploads.AllowedOrigins = dedupe(c.Uploads.AllowedOrigins)

	c.Events.Driver = strings.ToLower(strings.TrimSpace(c.Events.Driver))
	if c.Events.Driver == "" {
		c.Events.Driver = EventsNone
	}
	return nil
}

// mergeOrigins appends the frontend URL to the CORS allow list.
func mergeOrigins(origins []string, frontendURL string) []string {
	merged := append([]string(nil), origins...)
	if trimmed := strings.TrimRight(strings.TrimSpace(frontendURL), "/"); trimmed != "" {
		merged = append(merged, trimmed)
	}
	return dedupe(merged)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
