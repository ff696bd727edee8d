// Package exchange bridges a scheduling application's calendar capability to
// an on-premise Microsoft Exchange server.
//
// It contains two pieces:
//
//   - A configuration validator (Validate, Suggestions) that checks a
//     candidate Exchange connection configuration before credentials are
//     persisted and produces human-readable remediation advice.
//
//   - A CalendarService adapter that decrypts stored credentials once at
//     construction, lazily establishes a single cached EWS client handle,
//     and exposes event create/update/delete, calendar listing, and
//     free/busy availability in the host application's data model.
//
// Remote failures during handle acquisition are classified into the typed
// error taxonomy in errors.go; failures inside individual operations are
// logged with context and returned unchanged.
package exchange
