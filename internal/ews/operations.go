package ews

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
)

// Save/update/delete dispositions used by the calendar integration.
const (
	sendToAllAndSaveCopy     = "SendToAllAndSaveCopy"
	sendToChangedAndSaveCopy = "SendToChangedAndSaveCopy"
	sendToNone               = "SendToNone"
	alwaysOverwrite          = "AlwaysOverwrite"
	moveToDeletedItems       = "MoveToDeletedItems"
)

// calendarFolderClass is the FolderClass tag identifying calendar folders.
const calendarFolderClass = "IPF.Appointment"

// findFolderPageSize bounds one FindFolder page.
const findFolderPageSize = 1000

// CreateAppointment creates a calendar item and sends invitations to all
// attendees, keeping a copy in the organizer's folder. Returns the new item's
// identifier.
func (c *Client) CreateAppointment(ctx context.Context, appt Appointment) (string, error) {
	body := etree.NewElement("m:CreateItem")
	body.CreateAttr("SendMeetingInvitations", sendToAllAndSaveCopy)

	item := body.CreateElement("m:Items").CreateElement("t:CalendarItem")
	item.CreateElement("t:Subject").SetText(appt.Subject)
	eventBody := item.CreateElement("t:Body")
	eventBody.CreateAttr("BodyType", "Text")
	eventBody.SetText(appt.Body)
	item.CreateElement("t:Start").SetText(ewsTime(appt.Start))
	item.CreateElement("t:End").SetText(ewsTime(appt.End))
	item.CreateElement("t:Location").SetText(appt.Location)
	if len(appt.Attendees) > 0 {
		item.AddChild(requiredAttendees(appt.Attendees))
	}

	var env createItemEnvelope
	if err := c.call(ctx, "CreateItem", body, &env); err != nil {
		return "", err
	}

	for _, msg := range env.Body.Response.Messages.Items {
		if err := checkResponse("CreateItem", msg.responseMessage); err != nil {
			return "", err
		}
		if len(msg.Items.CalendarItems) > 0 {
			return msg.Items.CalendarItems[0].ItemID.ID, nil
		}
	}
	return "", errors.New("ews CreateItem: response contained no item identifier")
}

// GetAppointment resolves an existing calendar item by its identifier,
// returning its current state including the change key required for updates.
// Returns ErrItemNotFound when the server reports no such item.
func (c *Client) GetAppointment(ctx context.Context, itemID string) (*Appointment, error) {
	body := etree.NewElement("m:GetItem")
	shape := body.CreateElement("m:ItemShape")
	shape.CreateElement("t:BaseShape").SetText("IdOnly")
	props := shape.CreateElement("t:AdditionalProperties")
	for _, uri := range []string{
		"item:Subject",
		"calendar:Start",
		"calendar:End",
		"calendar:Location",
		"calendar:LegacyFreeBusyStatus",
	} {
		fieldURI(props, uri)
	}
	body.CreateElement("m:ItemIds").CreateElement("t:ItemId").CreateAttr("Id", itemID)

	var env getItemEnvelope
	if err := c.call(ctx, "GetItem", body, &env); err != nil {
		return nil, err
	}

	for _, msg := range env.Body.Response.Messages.Items {
		if err := checkResponse("GetItem", msg.responseMessage); err != nil {
			return nil, err
		}
		if len(msg.Items.CalendarItems) > 0 {
			appt := msg.Items.CalendarItems[0].toAppointment()
			return &appt, nil
		}
	}
	return nil, fmt.Errorf("ews GetItem: %w", ErrItemNotFound)
}

// UpdateAppointment overwrites the fields of an existing calendar item,
// notifying changed recipients and keeping a copy. appt.ID and appt.ChangeKey
// must reference the current version of the item. Returns the item's
// identifier after the update.
func (c *Client) UpdateAppointment(ctx context.Context, appt Appointment) (string, error) {
	if appt.ID == "" {
		return "", errors.New("ews UpdateItem: item identifier is required")
	}

	body := etree.NewElement("m:UpdateItem")
	body.CreateAttr("ConflictResolution", alwaysOverwrite)
	body.CreateAttr("SendMeetingInvitationsOrCancellations", sendToChangedAndSaveCopy)

	change := body.CreateElement("m:ItemChanges").CreateElement("t:ItemChange")
	itemID := change.CreateElement("t:ItemId")
	itemID.CreateAttr("Id", appt.ID)
	if appt.ChangeKey != "" {
		itemID.CreateAttr("ChangeKey", appt.ChangeKey)
	}

	updates := change.CreateElement("t:Updates")
	setField(updates, "item:Subject", func(item *etree.Element) {
		item.CreateElement("t:Subject").SetText(appt.Subject)
	})
	setField(updates, "item:Body", func(item *etree.Element) {
		b := item.CreateElement("t:Body")
		b.CreateAttr("BodyType", "Text")
		b.SetText(appt.Body)
	})
	setField(updates, "calendar:Start", func(item *etree.Element) {
		item.CreateElement("t:Start").SetText(ewsTime(appt.Start))
	})
	setField(updates, "calendar:End", func(item *etree.Element) {
		item.CreateElement("t:End").SetText(ewsTime(appt.End))
	})
	setField(updates, "calendar:Location", func(item *etree.Element) {
		item.CreateElement("t:Location").SetText(appt.Location)
	})
	setField(updates, "calendar:RequiredAttendees", func(item *etree.Element) {
		item.AddChild(requiredAttendees(appt.Attendees))
	})

	var env updateItemEnvelope
	if err := c.call(ctx, "UpdateItem", body, &env); err != nil {
		return "", err
	}

	for _, msg := range env.Body.Response.Messages.Items {
		if err := checkResponse("UpdateItem", msg.responseMessage); err != nil {
			return "", err
		}
		if len(msg.Items.CalendarItems) > 0 {
			return msg.Items.CalendarItems[0].ItemID.ID, nil
		}
	}
	return appt.ID, nil
}

// DeleteAppointment soft-deletes a calendar item: the item moves to the
// Deleted Items folder rather than being purged.
func (c *Client) DeleteAppointment(ctx context.Context, itemID string) error {
	body := etree.NewElement("m:DeleteItem")
	body.CreateAttr("DeleteType", moveToDeletedItems)
	body.CreateAttr("SendMeetingCancellations", sendToNone)
	body.CreateElement("m:ItemIds").CreateElement("t:ItemId").CreateAttr("Id", itemID)

	var env deleteItemEnvelope
	if err := c.call(ctx, "DeleteItem", body, &env); err != nil {
		return err
	}

	for _, msg := range env.Body.Response.Messages.Items {
		if err := checkResponse("DeleteItem", msg.responseMessage); err != nil {
			return err
		}
	}
	return nil
}

// FindCalendarFolders runs a deep folder-tree search rooted at the mailbox's
// message-folder root, restricted to folders whose class equals the calendar
// folder type. Only identifier, parent, display name, and child count are
// requested.
func (c *Client) FindCalendarFolders(ctx context.Context) ([]Folder, error) {
	body := etree.NewElement("m:FindFolder")
	body.CreateAttr("Traversal", "Deep")

	shape := body.CreateElement("m:FolderShape")
	shape.CreateElement("t:BaseShape").SetText("IdOnly")
	props := shape.CreateElement("t:AdditionalProperties")
	for _, uri := range []string{
		"folder:ParentFolderId",
		"folder:DisplayName",
		"folder:ChildFolderCount",
	} {
		fieldURI(props, uri)
	}

	page := body.CreateElement("m:IndexedPageFolderView")
	page.CreateAttr("MaxEntriesReturned", strconv.Itoa(findFolderPageSize))
	page.CreateAttr("Offset", "0")
	page.CreateAttr("BasePoint", "Beginning")

	isEqual := body.CreateElement("m:Restriction").CreateElement("t:IsEqualTo")
	fieldURI(isEqual, "folder:FolderClass")
	isEqual.CreateElement("t:FieldURIOrConstant").
		CreateElement("t:Constant").
		CreateAttr("Value", calendarFolderClass)

	parent := body.CreateElement("m:ParentFolderIds").CreateElement("t:DistinguishedFolderId")
	parent.CreateAttr("Id", "msgfolderroot")

	var env findFolderEnvelope
	if err := c.call(ctx, "FindFolder", body, &env); err != nil {
		return nil, err
	}

	var folders []Folder
	for _, msg := range env.Body.Response.Messages.Items {
		if err := checkResponse("FindFolder", msg.responseMessage); err != nil {
			return nil, err
		}
		for _, f := range msg.RootFolder.Folders.CalendarFolders {
			folders = append(folders, f.toFolder())
		}
		for _, f := range msg.RootFolder.Folders.Folders {
			folders = append(folders, f.toFolder())
		}
	}
	return folders, nil
}

// WellKnownFolderID resolves a server-defined distinguished folder (e.g.
// "deleteditems", "calendar") to its opaque folder identifier.
func (c *Client) WellKnownFolderID(ctx context.Context, name string) (string, error) {
	body := etree.NewElement("m:GetFolder")
	body.CreateElement("m:FolderShape").CreateElement("t:BaseShape").SetText("IdOnly")
	body.CreateElement("m:FolderIds").CreateElement("t:DistinguishedFolderId").CreateAttr("Id", name)

	var env getFolderEnvelope
	if err := c.call(ctx, "GetFolder", body, &env); err != nil {
		return "", err
	}

	for _, msg := range env.Body.Response.Messages.Items {
		if err := checkResponse("GetFolder", msg.responseMessage); err != nil {
			return "", err
		}
		if len(msg.Folders.Folders) > 0 {
			return msg.Folders.Folders[0].FolderID.ID, nil
		}
	}
	return "", fmt.Errorf("ews GetFolder: no folder returned for %q", name)
}

// FindAppointments queries one folder for appointments within [from, to],
// requesting start, end, and free/busy status for each.
func (c *Client) FindAppointments(ctx context.Context, folderID string, from, to time.Time) ([]Appointment, error) {
	body := etree.NewElement("m:FindItem")
	body.CreateAttr("Traversal", "Shallow")

	shape := body.CreateElement("m:ItemShape")
	shape.CreateElement("t:BaseShape").SetText("IdOnly")
	props := shape.CreateElement("t:AdditionalProperties")
	for _, uri := range []string{
		"item:Subject",
		"calendar:Start",
		"calendar:End",
		"calendar:LegacyFreeBusyStatus",
	} {
		fieldURI(props, uri)
	}

	view := body.CreateElement("m:CalendarView")
	view.CreateAttr("StartDate", ewsTime(from))
	view.CreateAttr("EndDate", ewsTime(to))

	body.CreateElement("m:ParentFolderIds").CreateElement("t:FolderId").CreateAttr("Id", folderID)

	var env findItemEnvelope
	if err := c.call(ctx, "FindItem", body, &env); err != nil {
		return nil, err
	}

	var appts []Appointment
	for _, msg := range env.Body.Response.Messages.Items {
		if err := checkResponse("FindItem", msg.responseMessage); err != nil {
			return nil, err
		}
		for _, item := range msg.RootFolder.Items.CalendarItems {
			appts = append(appts, item.toAppointment())
		}
	}
	return appts, nil
}

// requiredAttendees builds a t:RequiredAttendees element, one attendee entry
// per address, preserving submission order.
func requiredAttendees(addresses []string) *etree.Element {
	el := etree.NewElement("t:RequiredAttendees")
	for _, addr := range addresses {
		el.CreateElement("t:Attendee").
			CreateElement("t:Mailbox").
			CreateElement("t:EmailAddress").
			SetText(addr)
	}
	return el
}

// fieldURI appends a t:FieldURI reference element.
func fieldURI(parent *etree.Element, uri string) {
	parent.CreateElement("t:FieldURI").CreateAttr("FieldURI", uri)
}

// setField appends one t:SetItemField carrying a FieldURI and the replacement
// t:CalendarItem fragment produced by fill.
func setField(updates *etree.Element, uri string, fill func(item *etree.Element)) {
	field := updates.CreateElement("t:SetItemField")
	fieldURI(field, uri)
	fill(field.CreateElement("t:CalendarItem"))
}
