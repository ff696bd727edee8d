package exchange

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedkit/exchange-bridge/internal/ews"
	"github.com/schedkit/exchange-bridge/internal/secrets"
)

type fakeEWS struct {
	appointments map[string]ews.Appointment
	folders      []ews.Folder
	wellKnown    map[string]string
	byFolder     map[string][]ews.Appointment
	findErr      map[string]error
	closeErr     error

	created []ews.Appointment
	updated []ews.Appointment
	deleted []string
	closed  int
	nextID  string
}

func (f *fakeEWS) CreateAppointment(_ context.Context, appt ews.Appointment) (string, error) {
	f.created = append(f.created, appt)
	return f.nextID, nil
}

func (f *fakeEWS) GetAppointment(_ context.Context, itemID string) (*ews.Appointment, error) {
	appt, ok := f.appointments[itemID]
	if !ok {
		return nil, ews.ErrItemNotFound
	}
	return &appt, nil
}

func (f *fakeEWS) UpdateAppointment(_ context.Context, appt ews.Appointment) (string, error) {
	f.updated = append(f.updated, appt)
	return appt.ID, nil
}

func (f *fakeEWS) DeleteAppointment(_ context.Context, itemID string) error {
	f.deleted = append(f.deleted, itemID)
	return nil
}

func (f *fakeEWS) FindCalendarFolders(_ context.Context) ([]ews.Folder, error) {
	return f.folders, nil
}

func (f *fakeEWS) WellKnownFolderID(_ context.Context, name string) (string, error) {
	return f.wellKnown[name], nil
}

func (f *fakeEWS) FindAppointments(_ context.Context, folderID string, _, _ time.Time) ([]ews.Appointment, error) {
	if err := f.findErr[folderID]; err != nil {
		return nil, err
	}
	return f.byFolder[folderID], nil
}

func (f *fakeEWS) Close() error {
	f.closed++
	return f.closeErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService builds an adapter around fake with a dialer that counts
// constructions.
func newTestService(fake *fakeEWS) (*CalendarService, *int) {
	dials := 0
	svc := NewCalendarServiceFromConfig(testConfig(),
		WithLogger(quietLogger()),
		withDialer(func(Config) (ewsClient, error) {
			dials++
			return fake, nil
		}),
	)
	return svc, &dials
}

func TestNewCalendarService_BadCredentials(t *testing.T) {
	key, err := secrets.GenerateKey()
	require.NoError(t, err)

	svc, err := NewCalendarService("garbage", key, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Equal(t, KindCredential, KindOf(err))
}

func TestNewCalendarService_RoundTrip(t *testing.T) {
	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	encoded, err := EncodeConfig(testConfig(), key)
	require.NoError(t, err)

	svc, err := NewCalendarService(encoded, key, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, testConfig(), svc.cfg)
}

func TestCalendarService_MissingConfig(t *testing.T) {
	dials := 0
	svc := NewCalendarServiceFromConfig(Config{URL: "https://mail.example.com/EWS/Exchange.asmx"},
		WithLogger(quietLogger()),
		withDialer(func(Config) (ewsClient, error) {
			dials++
			return &fakeEWS{}, nil
		}),
	)

	_, err := svc.CreateEvent(context.Background(), CalendarEvent{})
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
	assert.Equal(t, "Missing required configuration parameters", err.Error())
	assert.Zero(t, dials, "incomplete configuration must fail before any connection attempt")
}

func TestCalendarService_DialsOnce(t *testing.T) {
	fake := &fakeEWS{nextID: "item-1"}
	svc, dials := newTestService(fake)

	_, err := svc.CreateEvent(context.Background(), CalendarEvent{Title: "a"})
	require.NoError(t, err)
	_, err = svc.CreateEvent(context.Background(), CalendarEvent{Title: "b"})
	require.NoError(t, err)

	assert.Equal(t, 1, *dials)
}

func TestCalendarService_DialFailureClassified(t *testing.T) {
	svc := NewCalendarServiceFromConfig(testConfig(),
		WithLogger(quietLogger()),
		withDialer(func(Config) (ewsClient, error) {
			return nil, errors.New("dial tcp 10.0.0.1:443: connection refused")
		}),
	)

	_, err := svc.CreateEvent(context.Background(), CalendarEvent{})
	require.Error(t, err)
	assert.Equal(t, KindConnectivity, KindOf(err))
}

func TestCreateEvent(t *testing.T) {
	fake := &fakeEWS{nextID: "item-42"}
	svc, _ := newTestService(fake)

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	created, err := svc.CreateEvent(context.Background(), CalendarEvent{
		Title:       "Planning",
		Description: "Q2 planning",
		Location:    "Room 4",
		Start:       start,
		End:         start.Add(time.Hour),
		Attendees:   []string{"a@example.com", "b@example.com"},
		TeamMembers: []string{"c@example.com", "a@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, "item-42", created.UID)
	assert.Equal(t, "item-42", created.ID)

	require.Len(t, fake.created, 1)
	appt := fake.created[0]
	assert.Equal(t, "Planning", appt.Subject)
	assert.Equal(t, "Q2 planning", appt.Body)
	assert.Equal(t, "Room 4", appt.Location)
	// Attendees first, team members after, duplicates preserved.
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com", "a@example.com"}, appt.Attendees)
}

func TestUpdateEvent(t *testing.T) {
	fake := &fakeEWS{
		appointments: map[string]ews.Appointment{
			"item-1": {ID: "item-1", ChangeKey: "ck-7", Subject: "Old"},
		},
	}
	svc, _ := newTestService(fake)

	updated, err := svc.UpdateEvent(context.Background(), "item-1", CalendarEvent{Title: "New"})
	require.NoError(t, err)

	assert.Equal(t, "item-1", updated.UID)
	require.Len(t, fake.updated, 1)
	assert.Equal(t, "item-1", fake.updated[0].ID)
	assert.Equal(t, "ck-7", fake.updated[0].ChangeKey, "update must carry the server's current change key")
	assert.Equal(t, "New", fake.updated[0].Subject)
}

func TestUpdateEvent_NotFound(t *testing.T) {
	svc, _ := newTestService(&fakeEWS{appointments: map[string]ews.Appointment{}})

	_, err := svc.UpdateEvent(context.Background(), "missing", CalendarEvent{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "missing")
}

func TestDeleteEvent(t *testing.T) {
	fake := &fakeEWS{
		appointments: map[string]ews.Appointment{
			"item-1": {ID: "item-1", ChangeKey: "ck-1"},
		},
	}
	svc, _ := newTestService(fake)

	require.NoError(t, svc.DeleteEvent(context.Background(), "item-1"))
	assert.Equal(t, []string{"item-1"}, fake.deleted)
}

func TestDeleteEvent_NotFound(t *testing.T) {
	svc, _ := newTestService(&fakeEWS{appointments: map[string]ews.Appointment{}})

	err := svc.DeleteEvent(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestListCalendars(t *testing.T) {
	fake := &fakeEWS{
		wellKnown: map[string]string{"deleteditems": "deleted-folder"},
		folders: []ews.Folder{
			{ID: "cal-1", ParentID: "root", DisplayName: "Calendar", ChildFolderCount: 2},
			{ID: "cal-2", ParentID: "root", DisplayName: "Team", ChildFolderCount: 0},
			{ID: "cal-3", ParentID: "deleted-folder", DisplayName: "Old", ChildFolderCount: 1},
		},
	}
	svc, _ := newTestService(fake)

	calendars, err := svc.ListCalendars(context.Background())
	require.NoError(t, err)
	require.Len(t, calendars, 2, "folders under deleted items must be excluded")

	assert.Equal(t, "cal-1", calendars[0].ExternalID)
	assert.Equal(t, "Calendar", calendars[0].Name)
	assert.True(t, calendars[0].Primary)
	assert.Equal(t, Integration, calendars[0].Integration)

	assert.Equal(t, "cal-2", calendars[1].ExternalID)
	assert.False(t, calendars[1].Primary)
}

func TestGetAvailability(t *testing.T) {
	window := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	fake := &fakeEWS{
		wellKnown: map[string]string{"deleteditems": "deleted-folder"},
		folders: []ews.Folder{
			{ID: "cal-1", ParentID: "root", DisplayName: "Calendar"},
			{ID: "cal-2", ParentID: "root", DisplayName: "Team"},
		},
		byFolder: map[string][]ews.Appointment{
			"cal-1": {
				{Start: window.Add(9 * time.Hour), End: window.Add(10 * time.Hour), FreeBusyStatus: "Busy"},
				{Start: window.Add(11 * time.Hour), End: window.Add(12 * time.Hour), FreeBusyStatus: "FREE"},
			},
			"cal-2": {
				{Start: window.Add(14 * time.Hour), End: window.Add(15 * time.Hour), FreeBusyStatus: "Tentative"},
			},
		},
	}
	svc, _ := newTestService(fake)

	busy, err := svc.GetAvailability(context.Background(), window, window.Add(24*time.Hour), []string{"cal-1", "cal-2"})
	require.NoError(t, err)

	// The free appointment is filtered regardless of status casing.
	require.Len(t, busy, 2)
	assert.Contains(t, busy, EventBusyDate{Start: window.Add(9 * time.Hour), End: window.Add(10 * time.Hour)})
	assert.Contains(t, busy, EventBusyDate{Start: window.Add(14 * time.Hour), End: window.Add(15 * time.Hour)})
}

func TestGetAvailability_EmptySelection(t *testing.T) {
	fake := &fakeEWS{
		wellKnown: map[string]string{"deleteditems": "deleted-folder"},
		folders:   []ews.Folder{{ID: "cal-1", ParentID: "root"}},
	}
	svc, _ := newTestService(fake)

	busy, err := svc.GetAvailability(context.Background(), time.Now(), time.Now().Add(time.Hour), nil)
	require.NoError(t, err)
	assert.NotNil(t, busy)
	assert.Empty(t, busy)
}

func TestGetAvailability_UnknownSelection(t *testing.T) {
	fake := &fakeEWS{
		wellKnown: map[string]string{"deleteditems": "deleted-folder"},
		folders:   []ews.Folder{{ID: "cal-1", ParentID: "root"}},
	}
	svc, _ := newTestService(fake)

	busy, err := svc.GetAvailability(context.Background(), time.Now(), time.Now().Add(time.Hour), []string{"nope"})
	require.NoError(t, err)
	assert.Empty(t, busy)
}

func TestGetAvailability_QueryFailureFailsBatch(t *testing.T) {
	fake := &fakeEWS{
		wellKnown: map[string]string{"deleteditems": "deleted-folder"},
		folders: []ews.Folder{
			{ID: "cal-1", ParentID: "root"},
			{ID: "cal-2", ParentID: "root"},
		},
		byFolder: map[string][]ews.Appointment{
			"cal-1": {{FreeBusyStatus: "Busy"}},
		},
		findErr: map[string]error{"cal-2": errors.New("boom")},
	}
	svc, _ := newTestService(fake)

	_, err := svc.GetAvailability(context.Background(), time.Now(), time.Now().Add(time.Hour), []string{"cal-1", "cal-2"})
	require.Error(t, err)
}

func TestCleanup(t *testing.T) {
	fake := &fakeEWS{nextID: "item-1"}
	svc, dials := newTestService(fake)

	// No handle yet: cleanup is a no-op.
	svc.Cleanup()
	assert.Zero(t, fake.closed)

	_, err := svc.CreateEvent(context.Background(), CalendarEvent{})
	require.NoError(t, err)

	svc.Cleanup()
	assert.Equal(t, 1, fake.closed)

	// The next operation establishes a fresh handle.
	_, err = svc.CreateEvent(context.Background(), CalendarEvent{})
	require.NoError(t, err)
	assert.Equal(t, 2, *dials)
}

func TestCleanup_SwallowsCloseError(t *testing.T) {
	fake := &fakeEWS{nextID: "item-1", closeErr: errors.New("already closed")}
	svc, _ := newTestService(fake)

	_, err := svc.CreateEvent(context.Background(), CalendarEvent{})
	require.NoError(t, err)

	// Must not panic or surface the close error.
	svc.Cleanup()
	assert.Equal(t, 1, fake.closed)
}
