package orchestrator

import (
	"net/url"
	"strings"

	"github.com/3leaps/tunegrab/pkg/jobregistry"
)

// ValidateURL accepts absolute http(s) URLs whose host is in allowed
// (case-insensitive, port ignored).
func ValidateURL(raw string, allowed []string) error {
	if strings.TrimSpace(raw) == "" {
		return jobregistry.InvalidInput("Submit", "url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return jobregistry.InvalidInput("Submit", "url does not parse")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return jobregistry.InvalidInput("Submit", "url must use http or https")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return jobregistry.InvalidInput("Submit", "url has no host")
	}
	for _, h := range allowed {
		if strings.EqualFold(strings.TrimSpace(h), host) {
			return nil
		}
	}
	return jobregistry.InvalidInput("Submit", "unsupported host "+host)
}
