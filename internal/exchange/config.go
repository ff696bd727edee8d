package exchange

import (
	"encoding/json"

	"github.com/schedkit/exchange-bridge/internal/secrets"
)

// AuthMethod selects how the adapter authenticates against the Exchange
// server.
type AuthMethod int

const (
	// AuthStandard attaches the username and password as HTTP Basic
	// credentials.
	AuthStandard AuthMethod = iota

	// AuthNTLM uses NTLM challenge-response over a transport tolerant of
	// self-signed certificates.
	AuthNTLM
)

func (m AuthMethod) String() string {
	switch m {
	case AuthStandard:
		return "Standard"
	case AuthNTLM:
		return "NTLM"
	default:
		return "Unknown"
	}
}

func (m AuthMethod) valid() bool {
	return m >= AuthStandard && m <= AuthNTLM
}

// Version is the Exchange server version, ordinal from 2007 through 2019.
type Version int

const (
	Exchange2007 Version = iota
	Exchange2007SP1
	Exchange2010
	Exchange2010SP1
	Exchange2010SP2
	Exchange2013
	Exchange2013SP1
	Exchange2015
	Exchange2016
	Exchange2019
)

// wire tokens for the EWS RequestServerVersion header. Exchange 2019 speaks
// the 2016 schema.
var versionTokens = [...]string{
	Exchange2007:    "Exchange2007",
	Exchange2007SP1: "Exchange2007_SP1",
	Exchange2010:    "Exchange2010",
	Exchange2010SP1: "Exchange2010_SP1",
	Exchange2010SP2: "Exchange2010_SP2",
	Exchange2013:    "Exchange2013",
	Exchange2013SP1: "Exchange2013_SP1",
	Exchange2015:    "Exchange2015",
	Exchange2016:    "Exchange2016",
	Exchange2019:    "Exchange2016",
}

func (v Version) valid() bool {
	return v >= Exchange2007 && v <= Exchange2019
}

// Token returns the RequestServerVersion value for this version.
func (v Version) Token() string {
	if !v.valid() {
		return ""
	}
	return versionTokens[v]
}

// Config is an Exchange connection configuration. Once validated, URL,
// Username, and Password are non-empty and the enum fields are within range.
// A Config is immutable for the lifetime of the adapter holding it.
type Config struct {
	URL                  string     `json:"url"`
	Username             string     `json:"username"`
	Password             string     `json:"password"`
	AuthenticationMethod AuthMethod `json:"authenticationMethod"`
	ExchangeVersion      Version    `json:"exchangeVersion"`
	UseCompression       bool       `json:"useCompression,omitempty"`
}

// DecodeConfig decrypts and parses a stored credential blob. Any failure,
// whether a missing key, tampered ciphertext, or malformed JSON, is a
// credential error; callers must not construct an adapter from a partial
// result.
func DecodeConfig(encrypted string, key []byte) (*Config, error) {
	plaintext, err := secrets.Decrypt(encrypted, key)
	if err != nil {
		return nil, newError(KindCredential, "Invalid or corrupted credentials", err)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(plaintext), &cfg); err != nil {
		return nil, newError(KindCredential, "Invalid or corrupted credentials", err)
	}
	return &cfg, nil
}

// EncodeConfig serializes and encrypts a configuration for persistence.
func EncodeConfig(cfg Config, key []byte) (string, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return secrets.Encrypt(string(payload), key)
}
