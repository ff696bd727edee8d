package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the failure class of an Error.
type Kind int

const (
	// KindUnknown is an unclassified remote failure; the original message
	// is preserved.
	KindUnknown Kind = iota

	// KindCredential means the stored credential blob could not be
	// decrypted or parsed. Construction of the adapter fails.
	KindCredential

	// KindConfig means a required connection field (URL, username,
	// password) is missing.
	KindConfig

	// KindAuth means the remote server rejected the credentials.
	KindAuth

	// KindConnectivity covers network, DNS, and timeout failures reaching
	// the server.
	KindConnectivity

	// KindTLS covers certificate and transport trust failures.
	KindTLS

	// KindEnvironment means the host runtime's cryptography stack is
	// incompatible with NTLM against this server.
	KindEnvironment

	// KindAuthSetup means NTLM transport construction failed for a reason
	// other than a cryptography incompatibility.
	KindAuthSetup

	// KindNotFound means a referenced remote item or folder is absent.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindCredential:
		return "credential"
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindConnectivity:
		return "connectivity"
	case KindTLS:
		return "tls"
	case KindEnvironment:
		return "environment"
	case KindAuthSetup:
		return "auth_setup"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified adapter failure. Message is safe to surface to an
// end user: it carries remediation guidance and never raw endpoints or
// secrets.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf reports the classification of err, or KindUnknown for errors that
// did not pass through Classify.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is a missing-item failure.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// classifier is one ordered classification predicate over a normalized error
// description.
type classifier struct {
	kind    Kind
	match   func(desc string) bool
	message func(cause error) string
}

func containsAny(desc string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(desc, n) {
			return true
		}
	}
	return false
}

// Ordered: the first matching predicate wins. Auth before connectivity
// before TLS before environment, with unknown as the fall-through.
var classifiers = []classifier{
	{
		kind: KindAuth,
		match: func(desc string) bool {
			return containsAny(desc, "401", "unauthorized", "authentication failed")
		},
		message: func(error) string {
			return "The Exchange server rejected the configured username or password."
		},
	},
	{
		kind: KindConnectivity,
		match: func(desc string) bool {
			return containsAny(desc,
				"timeout", "timed out", "deadline exceeded",
				"connection refused", "no such host", "network is unreachable", "host is down")
		},
		message: func(error) string {
			return "Could not reach the Exchange server. Check the server address and network connectivity."
		},
	},
	{
		kind: KindTLS,
		match: func(desc string) bool {
			return containsAny(desc, "certificate", "x509", "tls", "ssl")
		},
		message: func(error) string {
			return "The Exchange server's TLS certificate could not be verified."
		},
	},
	{
		kind: KindEnvironment,
		match: func(desc string) bool {
			return containsAny(desc, "legacy", "digital envelope", "unsupported cipher", "md4")
		},
		message: func(error) string {
			return "The runtime's cryptography stack does not support NTLM against this server. " +
				"Enable the legacy cryptography provider for this process, or switch to Standard authentication."
		},
	},
}

// Classify maps a handle-acquisition failure into the error taxonomy.
// Pre-classified errors pass through unchanged; everything else is matched
// against the ordered predicates, falling back to an unknown-kind error that
// preserves the original message.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var pre *Error
	if errors.As(err, &pre) {
		return err
	}

	desc := strings.ToLower(err.Error())
	for _, c := range classifiers {
		if c.match(desc) {
			return newError(c.kind, c.message(err), err)
		}
	}
	return newError(KindUnknown, err.Error(), err)
}

// classifyNTLMSetup classifies a failure constructing the NTLM transport.
// Legacy-cryptography incompatibilities become environment errors telling
// the operator what to change; anything else becomes an auth-setup error
// suggesting Standard authentication as a fallback.
func classifyNTLMSetup(err error) error {
	desc := strings.ToLower(err.Error())
	if containsAny(desc, "legacy", "digital envelope", "unsupported cipher", "md4") {
		return newError(KindEnvironment,
			"NTLM setup failed: the runtime's cryptography stack is missing legacy algorithm support. "+
				"Enable the legacy cryptography provider for this process, or switch to Standard authentication.",
			err)
	}
	return newError(KindAuthSetup,
		fmt.Sprintf("NTLM authentication setup failed: %v. Consider Standard authentication as a fallback.", err),
		err)
}
