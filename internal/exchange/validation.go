package exchange

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// emailPattern accepts a simple local@domain.tld shape without embedded
// whitespace. Deliberately loose: the server is the authority on which
// accounts exist.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ewsPathMarkers are the path substrings that identify an EWS endpoint.
var ewsPathMarkers = []string{"/ews/", "/exchange.asmx", "/microsoft-server-activesync"}

// versionCutoff is the oldest version that does not trigger an upgrade
// suggestion.
const versionCutoff = Exchange2013

// ValidationResult reports all rule violations found in a candidate
// configuration.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// Validate checks a candidate configuration against every rule
// independently, collecting all violations rather than stopping at the
// first.
func Validate(cfg Config) ValidationResult {
	var errs []string

	switch {
	case cfg.URL == "":
		errs = append(errs, "URL is required")
	default:
		u, err := url.Parse(cfg.URL)
		switch {
		case err != nil || !u.IsAbs() || u.Host == "":
			errs = append(errs, "URL must be a valid absolute URL")
		case u.Scheme != "https":
			errs = append(errs, "URL must use HTTPS")
		case !hasEWSPath(u):
			errs = append(errs, "URL does not look like an EWS endpoint (expected a path containing /ews/, /exchange.asmx, or /microsoft-server-activesync)")
		}
	}

	switch {
	case cfg.Username == "":
		errs = append(errs, "username is required")
	case !emailPattern.MatchString(cfg.Username):
		errs = append(errs, "username must be an email address")
	}

	if cfg.Password == "" {
		errs = append(errs, "password is required")
	}

	if !cfg.AuthenticationMethod.valid() {
		errs = append(errs, "authentication method is not a recognized value")
	}

	if !cfg.ExchangeVersion.valid() {
		errs = append(errs, "Exchange version is not a recognized value")
	}

	return ValidationResult{
		IsValid: len(errs) == 0,
		Errors:  errs,
	}
}

func hasEWSPath(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	for _, marker := range ewsPathMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

// Suggestions produces non-blocking advisory strings for a candidate
// configuration. Unlike Validate, it requires a parseable URL and returns an
// error otherwise.
func Suggestions(cfg Config) ([]string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("cannot produce suggestions for an unparseable URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, errors.New("cannot produce suggestions for a non-absolute URL")
	}

	var suggestions []string

	if u.Scheme == "http" {
		suggestions = append(suggestions, "Use HTTPS for the EWS endpoint; credentials travel with every request.")
	}

	if !strings.Contains(strings.ToLower(u.Path), "/ews/exchange.asmx") {
		suggestions = append(suggestions, "EWS endpoints usually end in /EWS/Exchange.asmx; verify the path with your Exchange administrator.")
	}

	if cfg.AuthenticationMethod == AuthNTLM {
		suggestions = append(suggestions, "NTLM against older on-premise servers may require the runtime's legacy TLS/cryptography compatibility flag.")
	}

	if cfg.ExchangeVersion.valid() && cfg.ExchangeVersion < versionCutoff {
		suggestions = append(suggestions, fmt.Sprintf("The configured Exchange version predates Exchange 2013; consider upgrading the server (configured: ordinal %d).", cfg.ExchangeVersion))
	}

	return suggestions, nil
}
