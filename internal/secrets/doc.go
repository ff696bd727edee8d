// Package secrets provides symmetric encryption for calendar credentials at rest.
//
// Credential payloads (Exchange URL, username, password) are encrypted with
// AES-256-GCM under a single process-wide key before they reach the credential
// store, and decrypted once when a calendar service is constructed.
//
// The key is sourced from the CALENDAR_ENCRYPTION_KEY environment variable as
// a base64-encoded 32-byte value. Generate one with:
//
//	openssl rand -base64 32
package secrets
