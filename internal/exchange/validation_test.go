package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	result := Validate(Config{
		URL:                  "https://mail.example.com/EWS/Exchange.asmx",
		Username:             "user@example.com",
		Password:             "secret",
		AuthenticationMethod: AuthStandard,
		ExchangeVersion:      Exchange2015,
	})

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
}

func TestValidate_RejectsPlainHTTP(t *testing.T) {
	result := Validate(Config{
		URL:      "http://mail.example.com/EWS/Exchange.asmx",
		Username: "user@example.com",
		Password: "secret",
	})

	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, "URL must use HTTPS")
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	result := Validate(Config{
		AuthenticationMethod: AuthMethod(5),
		ExchangeVersion:      Version(99),
	})

	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, "URL is required")
	assert.Contains(t, result.Errors, "username is required")
	assert.Contains(t, result.Errors, "password is required")
	assert.Contains(t, result.Errors, "authentication method is not a recognized value")
	assert.Contains(t, result.Errors, "Exchange version is not a recognized value")
	assert.Len(t, result.Errors, 5)
}

func TestValidate_URLShapes(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{
			name:    "relative url",
			url:     "/EWS/Exchange.asmx",
			wantErr: "URL must be a valid absolute URL",
		},
		{
			name:    "no ews path",
			url:     "https://mail.example.com/owa",
			wantErr: "URL does not look like an EWS endpoint (expected a path containing /ews/, /exchange.asmx, or /microsoft-server-activesync)",
		},
		{
			name: "activesync path accepted",
			url:  "https://mail.example.com/Microsoft-Server-ActiveSync",
		},
		{
			name: "case-insensitive ews path",
			url:  "https://mail.example.com/ews/exchange.asmx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(Config{
				URL:      tt.url,
				Username: "user@example.com",
				Password: "secret",
			})
			if tt.wantErr == "" {
				assert.True(t, result.IsValid, "errors: %v", result.Errors)
			} else {
				assert.Contains(t, result.Errors, tt.wantErr)
			}
		})
	}
}

func TestValidate_Username(t *testing.T) {
	result := Validate(Config{
		URL:      "https://mail.example.com/EWS/Exchange.asmx",
		Username: "not an email",
		Password: "secret",
	})
	assert.Contains(t, result.Errors, "username must be an email address")
}

func TestSuggestions_UnparseableURL(t *testing.T) {
	_, err := Suggestions(Config{URL: "://not a url"})
	require.Error(t, err)

	_, err = Suggestions(Config{URL: "relative/path"})
	require.Error(t, err)
}

func TestSuggestions_HTTPAndPath(t *testing.T) {
	suggestions, err := Suggestions(Config{
		URL:             "http://mail.example.com/owa",
		ExchangeVersion: Exchange2016,
	})
	require.NoError(t, err)

	assert.Contains(t, suggestions, "Use HTTPS for the EWS endpoint; credentials travel with every request.")
	assert.Contains(t, suggestions, "EWS endpoints usually end in /EWS/Exchange.asmx; verify the path with your Exchange administrator.")
}

func TestSuggestions_NTLMAndOldVersion(t *testing.T) {
	suggestions, err := Suggestions(Config{
		URL:                  "https://mail.example.com/EWS/Exchange.asmx",
		AuthenticationMethod: AuthNTLM,
		ExchangeVersion:      Exchange2010,
	})
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	assert.Contains(t, suggestions[0], "NTLM")
	assert.Contains(t, suggestions[1], "Exchange 2013")
}

func TestSuggestions_CleanConfigHasNone(t *testing.T) {
	suggestions, err := Suggestions(Config{
		URL:                  "https://mail.example.com/EWS/Exchange.asmx",
		AuthenticationMethod: AuthStandard,
		ExchangeVersion:      Exchange2016,
	})
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}
