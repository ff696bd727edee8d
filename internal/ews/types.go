package ews

import "time"

// Appointment is a calendar item on the remote server.
type Appointment struct {
	// ID is the server-assigned opaque item identifier.
	ID string

	// ChangeKey versions the item; UpdateItem requires the current one.
	ChangeKey string

	Subject  string
	Body     string
	Location string
	Start    time.Time
	End      time.Time

	// Attendees holds required-attendee email addresses, in submission order.
	Attendees []string

	// FreeBusyStatus is the LegacyFreeBusyStatus value, e.g. "Free", "Busy",
	// "Tentative", "OOF".
	FreeBusyStatus string
}

// Folder is a mailbox folder as returned by FindFolder or GetFolder.
type Folder struct {
	ID               string
	ParentID         string
	DisplayName      string
	ChildFolderCount int
}

// responseMessage carries the status fields common to every EWS response
// message.
type responseMessage struct {
	ResponseClass string `xml:"ResponseClass,attr"`
	ResponseCode  string `xml:"ResponseCode"`
	MessageText   string `xml:"MessageText"`
}

type itemIDXML struct {
	ID        string `xml:"Id,attr"`
	ChangeKey string `xml:"ChangeKey,attr"`
}

type folderIDXML struct {
	ID        string `xml:"Id,attr"`
	ChangeKey string `xml:"ChangeKey,attr"`
}

type mailboxXML struct {
	Name         string `xml:"Name"`
	EmailAddress string `xml:"EmailAddress"`
}

type attendeeXML struct {
	Mailbox mailboxXML `xml:"Mailbox"`
}

type calendarItemXML struct {
	ItemID               itemIDXML `xml:"ItemId"`
	Subject              string    `xml:"Subject"`
	Location             string    `xml:"Location"`
	Start                string    `xml:"Start"`
	End                  string    `xml:"End"`
	LegacyFreeBusyStatus string    `xml:"LegacyFreeBusyStatus"`
	Body                 string    `xml:"Body"`
	RequiredAttendees    struct {
		Attendees []attendeeXML `xml:"Attendee"`
	} `xml:"RequiredAttendees"`
}

func (x calendarItemXML) toAppointment() Appointment {
	appt := Appointment{
		ID:             x.ItemID.ID,
		ChangeKey:      x.ItemID.ChangeKey,
		Subject:        x.Subject,
		Body:           x.Body,
		Location:       x.Location,
		Start:          parseEWSTime(x.Start),
		End:            parseEWSTime(x.End),
		FreeBusyStatus: x.LegacyFreeBusyStatus,
	}
	for _, a := range x.RequiredAttendees.Attendees {
		if a.Mailbox.EmailAddress != "" {
			appt.Attendees = append(appt.Attendees, a.Mailbox.EmailAddress)
		}
	}
	return appt
}

type folderXML struct {
	FolderID         folderIDXML `xml:"FolderId"`
	ParentFolderID   folderIDXML `xml:"ParentFolderId"`
	DisplayName      string      `xml:"DisplayName"`
	ChildFolderCount int         `xml:"ChildFolderCount"`
}

func (x folderXML) toFolder() Folder {
	return Folder{
		ID:               x.FolderID.ID,
		ParentID:         x.ParentFolderID.ID,
		DisplayName:      x.DisplayName,
		ChildFolderCount: x.ChildFolderCount,
	}
}

// Per-operation response envelopes. encoding/xml matches by local element
// name, so the SOAP namespace prefixes in the wire form are irrelevant here.

type createItemEnvelope struct {
	Body struct {
		Response struct {
			Messages struct {
				Items []createItemMessage `xml:"CreateItemResponseMessage"`
			} `xml:"ResponseMessages"`
		} `xml:"CreateItemResponse"`
	} `xml:"Body"`
}

type createItemMessage struct {
	responseMessage
	Items struct {
		CalendarItems []calendarItemXML `xml:"CalendarItem"`
	} `xml:"Items"`
}

type getItemEnvelope struct {
	Body struct {
		Response struct {
			Messages struct {
				Items []getItemMessage `xml:"GetItemResponseMessage"`
			} `xml:"ResponseMessages"`
		} `xml:"GetItemResponse"`
	} `xml:"Body"`
}

type getItemMessage struct {
	responseMessage
	Items struct {
		CalendarItems []calendarItemXML `xml:"CalendarItem"`
	} `xml:"Items"`
}

type updateItemEnvelope struct {
	Body struct {
		Response struct {
			Messages struct {
				Items []updateItemMessage `xml:"UpdateItemResponseMessage"`
			} `xml:"ResponseMessages"`
		} `xml:"UpdateItemResponse"`
	} `xml:"Body"`
}

type updateItemMessage struct {
	responseMessage
	Items struct {
		CalendarItems []calendarItemXML `xml:"CalendarItem"`
	} `xml:"Items"`
}

type deleteItemEnvelope struct {
	Body struct {
		Response struct {
			Messages struct {
				Items []deleteItemMessage `xml:"DeleteItemResponseMessage"`
			} `xml:"ResponseMessages"`
		} `xml:"DeleteItemResponse"`
	} `xml:"Body"`
}

type deleteItemMessage struct {
	responseMessage
}

type findFolderEnvelope struct {
	Body struct {
		Response struct {
			Messages struct {
				Items []findFolderMessage `xml:"FindFolderResponseMessage"`
			} `xml:"ResponseMessages"`
		} `xml:"FindFolderResponse"`
	} `xml:"Body"`
}

type findFolderMessage struct {
	responseMessage
	RootFolder struct {
		Folders struct {
			CalendarFolders []folderXML `xml:"CalendarFolder"`
			Folders         []folderXML `xml:"Folder"`
		} `xml:"Folders"`
	} `xml:"RootFolder"`
}

type getFolderEnvelope struct {
	Body struct {
		Response struct {
			Messages struct {
				Items []getFolderMessage `xml:"GetFolderResponseMessage"`
			} `xml:"ResponseMessages"`
		} `xml:"GetFolderResponse"`
	} `xml:"Body"`
}

type getFolderMessage struct {
	responseMessage
	Folders struct {
		Folders []folderXML `xml:"Folder"`
	} `xml:"Folders"`
}

type findItemEnvelope struct {
	Body struct {
		Response struct {
			Messages struct {
				Items []findItemMessage `xml:"FindItemResponseMessage"`
			} `xml:"ResponseMessages"`
		} `xml:"FindItemResponse"`
	} `xml:"Body"`
}

type findItemMessage struct {
	responseMessage
	RootFolder struct {
		Items struct {
			CalendarItems []calendarItemXML `xml:"CalendarItem"`
		} `xml:"Items"`
	} `xml:"RootFolder"`
}
