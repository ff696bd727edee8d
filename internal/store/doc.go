// Package store holds encrypted Exchange credentials in memory.
//
// The store never sees plaintext configurations: callers encrypt before
// saving and decrypt after loading. Entries are keyed by a generated
// identifier and carry an anonymized owner hash for logging; raw mailbox
// addresses are not stored.
package store
