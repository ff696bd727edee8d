package exchange

import "time"

// Integration is the tag identifying this calendar integration in the host
// application.
const Integration = "exchange_calendar"

// CalendarEvent is the host application's event model. The adapter consumes
// it; it does not own it.
type CalendarEvent struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`

	// Attendees are explicit attendee email addresses.
	Attendees []string `json:"attendees,omitempty"`

	// TeamMembers are additional addresses appended after Attendees when the
	// remote appointment is built. Duplicates are not removed.
	TeamMembers []string `json:"teamMembers,omitempty"`
}

// NewCalendarEvent is the result of creating or updating an event. UID and
// ID both hold the remote item's unique identifier; the remaining fields are
// placeholders that stay blank for this integration.
type NewCalendarEvent struct {
	UID            string `json:"uid"`
	ID             string `json:"id"`
	Password       string `json:"password"`
	Type           string `json:"type"`
	URL            string `json:"url"`
	AdditionalInfo string `json:"additionalInfo"`
}

// IntegrationCalendar is a read-only view of one remote calendar folder,
// recomputed on every listing and never cached.
type IntegrationCalendar struct {
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`

	// Primary is derived from the folder's child count (childFolderCount > 0),
	// not from a true primary-calendar flag on the server. Kept as-is for
	// compatibility with existing consumers.
	Primary     bool   `json:"primary"`
	Integration string `json:"integration"`
}

// EventBusyDate is one busy interval from an availability query.
type EventBusyDate struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
