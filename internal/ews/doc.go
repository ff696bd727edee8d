// Package ews provides a client for Exchange Web Services, the SOAP protocol
// used to manipulate mailboxes and calendars on a Microsoft Exchange server.
//
// The client implements the operation set a calendar integration needs:
// appointment CRUD (CreateItem, GetItem, UpdateItem, DeleteItem), folder
// search (FindFolder with a FolderClass restriction), well-known folder
// resolution (GetFolder), and ranged appointment queries (FindItem with a
// CalendarView).
//
// Authentication is HTTP Basic or NTLM. The NTLM path uses a
// challenge-response negotiating transport with certificate verification
// disabled, since on-premise Exchange servers commonly present self-signed
// certificates.
//
// SOAP requests are built with etree; responses are decoded with
// encoding/xml. Item and folder identifiers are opaque strings assigned by
// the server.
package ews
