package ews

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/go-ntlmssp"
	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// EWS XML namespaces.
const (
	nsSOAP     = "http://schemas.xmlsoap.org/soap/envelope/"
	nsTypes    = "http://schemas.microsoft.com/exchange/services/2006/types"
	nsMessages = "http://schemas.microsoft.com/exchange/services/2006/messages"
)

// DefaultVersion is the RequestServerVersion sent when none is configured.
const DefaultVersion = "Exchange2013_SP1"

// ErrItemNotFound is returned when the server reports ErrorItemNotFound for
// a referenced item. Callers match it with errors.Is.
var ErrItemNotFound = errors.New("ews: item not found")

// Options configures a Client.
type Options struct {
	// URL is the EWS endpoint, e.g. https://mail.example.com/EWS/Exchange.asmx.
	URL string

	// Version is the RequestServerVersion token (e.g. "Exchange2013_SP1").
	// Defaults to DefaultVersion.
	Version string

	Username string
	Password string

	// NTLM selects the challenge-response negotiating transport instead of
	// plain HTTP Basic authentication.
	NTLM bool

	// Timeout bounds connect and response time for the underlying HTTP
	// client. Zero means no timeout.
	Timeout time.Duration

	// InsecureTLS disables certificate verification. On-premise servers
	// frequently present self-signed certificates on the NTLM path.
	InsecureTLS bool

	// HTTPClient overrides transport construction entirely. Used by tests.
	HTTPClient *http.Client
}

// Client issues EWS SOAP operations against a single endpoint with a fixed
// credential pair. It is safe for concurrent use.
type Client struct {
	endpoint string
	version  string
	username string
	password string
	http     *http.Client
}

// NewClient creates an EWS client bound to the configured endpoint and
// version and attaches credentials per the selected authentication scheme.
func NewClient(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("ews: endpoint URL is required")
	}
	if _, err := url.ParseRequestURI(opts.URL); err != nil {
		return nil, fmt.Errorf("ews: invalid endpoint URL: %w", err)
	}

	version := opts.Version
	if version == "" {
		version = DefaultVersion
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		if opts.NTLM {
			transport, err := ntlmTransport(opts)
			if err != nil {
				return nil, err
			}
			httpClient = &http.Client{
				Transport: transport,
				Timeout:   opts.Timeout,
			}
		} else {
			httpClient = &http.Client{Timeout: opts.Timeout}
		}
	}

	return &Client{
		endpoint: opts.URL,
		version:  version,
		username: opts.Username,
		password: opts.Password,
		http:     httpClient,
	}, nil
}

// ntlmTransport builds the NTLM negotiating round tripper. The negotiator
// reads the Basic Authorization header set on each request and upgrades the
// exchange to NTLM challenge-response.
func ntlmTransport(opts Options) (http.RoundTripper, error) {
	if opts.Username == "" || opts.Password == "" {
		return nil, errors.New("ews: NTLM transport requires username and password")
	}

	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: opts.Timeout,
		}).DialContext,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
	}
	if opts.InsecureTLS {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- self-signed on-premise tolerance
	}

	return ntlmssp.Negotiator{RoundTripper: base}, nil
}

// Close releases idle connections held by the client's transport.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// envelope wraps an operation body in a SOAP envelope carrying the
// RequestServerVersion header.
func (c *Client) envelope(body *etree.Element) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)

	env := doc.CreateElement("soap:Envelope")
	env.CreateAttr("xmlns:soap", nsSOAP)
	env.CreateAttr("xmlns:t", nsTypes)
	env.CreateAttr("xmlns:m", nsMessages)

	header := env.CreateElement("soap:Header")
	rsv := header.CreateElement("t:RequestServerVersion")
	rsv.CreateAttr("Version", c.version)

	env.CreateElement("soap:Body").AddChild(body)
	return doc
}

// call posts one SOAP operation and decodes the response into out.
func (c *Client) call(ctx context.Context, action string, body *etree.Element, out any) error {
	doc := c.envelope(body)
	payload, err := doc.WriteToString()
	if err != nil {
		return fmt.Errorf("ews %s: encode request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ews %s: %w", action, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("X-Request-Id", uuid.NewString())
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ews %s: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ews %s: read response: %w", action, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("ews %s: unauthorized (401)", action)
	case resp.StatusCode != http.StatusOK:
		if msg := faultString(data); msg != "" {
			return fmt.Errorf("ews %s: %s (HTTP %d)", action, msg, resp.StatusCode)
		}
		return fmt.Errorf("ews %s: unexpected HTTP status %d", action, resp.StatusCode)
	}

	if err := xml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("ews %s: decode response: %w", action, err)
	}
	return nil
}

// faultString extracts the faultstring from a SOAP fault body, if present.
func faultString(data []byte) string {
	var env struct {
		Body struct {
			Fault struct {
				FaultString string `xml:"faultstring"`
			} `xml:"Fault"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(data, &env); err != nil {
		return ""
	}
	return env.Body.Fault.FaultString
}

// checkResponse inspects an EWS response message and converts error classes
// into Go errors. ErrorItemNotFound maps to ErrItemNotFound.
func checkResponse(action string, m responseMessage) error {
	if m.ResponseClass != "Error" {
		return nil
	}
	if m.ResponseCode == "ErrorItemNotFound" {
		return fmt.Errorf("ews %s: %w", action, ErrItemNotFound)
	}
	text := m.MessageText
	if text == "" {
		text = m.ResponseCode
	}
	return fmt.Errorf("ews %s: %s (%s)", action, text, m.ResponseCode)
}

// ewsTime renders a timestamp the way EWS expects date/time values.
func ewsTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseEWSTime parses a date/time value from an EWS response. Invalid or
// absent values come back as the zero time.
func parseEWSTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
