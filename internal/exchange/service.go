package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/schedkit/exchange-bridge/internal/ews"
	"github.com/schedkit/exchange-bridge/internal/instrumentation"
	"github.com/schedkit/exchange-bridge/internal/logging"
)

// ntlmTimeout bounds connect and response time for the NTLM transport. The
// calendar operations themselves carry no timeout; callers needing bounded
// latency wrap each call in a context deadline.
const ntlmTimeout = 30 * time.Second

// deletedItemsFolder is the well-known folder whose children are excluded
// from calendar listings.
const deletedItemsFolder = "deleteditems"

// ewsClient is the surface the adapter needs from the EWS client. Narrowed
// to an interface so tests can substitute a fake and count constructions.
type ewsClient interface {
	CreateAppointment(ctx context.Context, appt ews.Appointment) (string, error)
	GetAppointment(ctx context.Context, itemID string) (*ews.Appointment, error)
	UpdateAppointment(ctx context.Context, appt ews.Appointment) (string, error)
	DeleteAppointment(ctx context.Context, itemID string) error
	FindCalendarFolders(ctx context.Context) ([]ews.Folder, error)
	WellKnownFolderID(ctx context.Context, name string) (string, error)
	FindAppointments(ctx context.Context, folderID string, from, to time.Time) ([]ews.Appointment, error)
	Close() error
}

type dialFunc func(cfg Config) (ewsClient, error)

// CalendarService adapts the host application's calendar capability onto an
// Exchange mailbox. It holds a decrypted configuration, set once at
// construction, and at most one lazily created client handle. A service
// instance must not be shared with other adapter instances' handles; the
// handle slot is guarded so concurrent first calls construct it exactly
// once.
type CalendarService struct {
	cfg     Config
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	dial    dialFunc

	mu     sync.Mutex
	handle ewsClient
}

// Option configures a CalendarService.
type Option func(*CalendarService)

// WithLogger sets the structured logger used for operation logging.
func WithLogger(logger *slog.Logger) Option {
	return func(s *CalendarService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches an operation metrics recorder.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *CalendarService) {
		s.metrics = m
	}
}

// withDialer substitutes the EWS client constructor. Tests use it to inject
// fakes and observe handle construction counts.
func withDialer(dial dialFunc) Option {
	return func(s *CalendarService) {
		s.dial = dial
	}
}

// NewCalendarService decrypts and parses the stored credential blob with the
// process-wide key and constructs the adapter. Any decryption or parsing
// failure fails the whole construction with a credential error; the adapter
// never exists in a partially initialized state.
func NewCalendarService(encryptedCredentials string, key []byte, opts ...Option) (*CalendarService, error) {
	cfg, err := DecodeConfig(encryptedCredentials, key)
	if err != nil {
		return nil, err
	}
	return NewCalendarServiceFromConfig(*cfg, opts...), nil
}

// NewCalendarServiceFromConfig constructs the adapter from an already
// decrypted configuration. Used by the setup flow to probe connectivity
// before credentials are persisted.
func NewCalendarServiceFromConfig(cfg Config, opts ...Option) *CalendarService {
	s := &CalendarService{
		cfg:    cfg,
		logger: slog.Default(),
		dial:   dialEWS,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithIntegration(s.logger, Integration)
	return s
}

// dialEWS builds a real EWS client for the configuration. NTLM gets the
// fixed transport timeout and self-signed certificate tolerance; a failure
// to build the NTLM transport is classified before it reaches the generic
// predicates.
func dialEWS(cfg Config) (ewsClient, error) {
	opts := ews.Options{
		URL:      cfg.URL,
		Version:  cfg.ExchangeVersion.Token(),
		Username: cfg.Username,
		Password: cfg.Password,
	}

	if cfg.AuthenticationMethod == AuthNTLM {
		opts.NTLM = true
		opts.Timeout = ntlmTimeout
		opts.InsecureTLS = true

		client, err := ews.NewClient(opts)
		if err != nil {
			return nil, classifyNTLMSetup(err)
		}
		return client, nil
	}

	return ews.NewClient(opts)
}

// clientHandle returns the cached client handle, constructing it on first
// use. The lock is held across validate, dial, and cache so a race between
// first callers cannot construct two handles.
func (s *CalendarService) clientHandle() (ewsClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return s.handle, nil
	}

	if s.cfg.URL == "" || s.cfg.Username == "" || s.cfg.Password == "" {
		return nil, newError(KindConfig, "Missing required configuration parameters", nil)
	}

	handle, err := s.dial(s.cfg)
	if err != nil {
		return nil, Classify(err)
	}

	s.handle = handle
	return handle, nil
}

// CreateEvent builds a remote appointment from the host event and saves it,
// sending invitations to all attendees and keeping a copy. Returns the
// remote item's identifier in both UID and ID.
func (s *CalendarService) CreateEvent(ctx context.Context, event CalendarEvent) (created *NewCalendarEvent, err error) {
	logger := logging.WithOperation(s.logger, "calendar.create_event")
	ctx, span := instrumentation.StartCalendarSpan(ctx, "create_event")
	defer func() { instrumentation.FinishSpan(span, err) }()

	handle, err := s.clientHandle()
	if err != nil {
		logger.Error("client handle unavailable", logging.Err(err))
		return nil, err
	}

	start := time.Now()
	id, err := handle.CreateAppointment(ctx, buildAppointment(event))
	s.metrics.RecordEWSOperation(ctx, "create_event", time.Since(start), err)
	if err != nil {
		logger.Error("creating event failed", logging.Err(err), logging.Endpoint(s.cfg.URL))
		return nil, err
	}

	return &NewCalendarEvent{UID: id, ID: id}, nil
}

// UpdateEvent resolves an existing remote item by uid and overwrites its
// fields with the host event, notifying changed recipients. A uid the server
// does not know fails with a not-found error.
func (s *CalendarService) UpdateEvent(ctx context.Context, uid string, event CalendarEvent) (updated *NewCalendarEvent, err error) {
	logger := logging.WithOperation(s.logger, "calendar.update_event")
	ctx, span := instrumentation.StartCalendarSpan(ctx, "update_event",
		attribute.String(instrumentation.SpanAttrItem, uid))
	defer func() { instrumentation.FinishSpan(span, err) }()

	handle, err := s.clientHandle()
	if err != nil {
		logger.Error("client handle unavailable", logging.Err(err))
		return nil, err
	}

	start := time.Now()
	existing, err := handle.GetAppointment(ctx, uid)
	if err != nil {
		s.metrics.RecordEWSOperation(ctx, "update_event", time.Since(start), err)
		if errors.Is(err, ews.ErrItemNotFound) {
			logger.Warn("event to update does not exist", logging.Err(err))
			return nil, newError(KindNotFound, fmt.Sprintf("No event with identifier %q exists on the server", uid), err)
		}
		logger.Error("resolving event failed", logging.Err(err), logging.Endpoint(s.cfg.URL))
		return nil, err
	}

	appt := buildAppointment(event)
	appt.ID = existing.ID
	appt.ChangeKey = existing.ChangeKey

	id, err := handle.UpdateAppointment(ctx, appt)
	s.metrics.RecordEWSOperation(ctx, "update_event", time.Since(start), err)
	if err != nil {
		logger.Error("updating event failed", logging.Err(err), logging.Endpoint(s.cfg.URL))
		return nil, err
	}

	return &NewCalendarEvent{UID: id, ID: id}, nil
}

// DeleteEvent resolves an existing remote item by uid and soft-deletes it
// (moved to Deleted Items, not purged).
func (s *CalendarService) DeleteEvent(ctx context.Context, uid string) (err error) {
	logger := logging.WithOperation(s.logger, "calendar.delete_event")
	ctx, span := instrumentation.StartCalendarSpan(ctx, "delete_event",
		attribute.String(instrumentation.SpanAttrItem, uid))
	defer func() { instrumentation.FinishSpan(span, err) }()

	handle, err := s.clientHandle()
	if err != nil {
		logger.Error("client handle unavailable", logging.Err(err))
		return err
	}

	start := time.Now()
	existing, err := handle.GetAppointment(ctx, uid)
	if err != nil {
		s.metrics.RecordEWSOperation(ctx, "delete_event", time.Since(start), err)
		if errors.Is(err, ews.ErrItemNotFound) {
			logger.Warn("event to delete does not exist", logging.Err(err))
			return newError(KindNotFound, fmt.Sprintf("No event with identifier %q exists on the server", uid), err)
		}
		logger.Error("resolving event failed", logging.Err(err), logging.Endpoint(s.cfg.URL))
		return err
	}

	err = handle.DeleteAppointment(ctx, existing.ID)
	s.metrics.RecordEWSOperation(ctx, "delete_event", time.Since(start), err)
	if err != nil {
		logger.Error("deleting event failed", logging.Err(err), logging.Endpoint(s.cfg.URL))
		return err
	}
	return nil
}

// ListCalendars returns the mailbox's calendar folders as integration
// calendars. Folders parented under Deleted Items are excluded. The view is
// recomputed on every call and never cached.
func (s *CalendarService) ListCalendars(ctx context.Context) (calendars []IntegrationCalendar, err error) {
	logger := logging.WithOperation(s.logger, "calendar.list_calendars")
	ctx, span := instrumentation.StartCalendarSpan(ctx, "list_calendars")
	defer func() { instrumentation.FinishSpan(span, err) }()

	handle, err := s.clientHandle()
	if err != nil {
		logger.Error("client handle unavailable", logging.Err(err))
		return nil, err
	}

	start := time.Now()
	deletedID, err := handle.WellKnownFolderID(ctx, deletedItemsFolder)
	if err != nil {
		s.metrics.RecordEWSOperation(ctx, "list_calendars", time.Since(start), err)
		logger.Error("resolving deleted items folder failed", logging.Err(err), logging.Endpoint(s.cfg.URL))
		return nil, err
	}

	folders, err := handle.FindCalendarFolders(ctx)
	s.metrics.RecordEWSOperation(ctx, "list_calendars", time.Since(start), err)
	if err != nil {
		logger.Error("listing calendar folders failed", logging.Err(err), logging.Endpoint(s.cfg.URL))
		return nil, err
	}

	calendars = make([]IntegrationCalendar, 0, len(folders))
	for _, folder := range folders {
		if folder.ParentID == deletedID {
			continue
		}
		calendars = append(calendars, IntegrationCalendar{
			ExternalID:  folder.ID,
			Name:        folder.DisplayName,
			Primary:     folder.ChildFolderCount > 0,
			Integration: Integration,
		})
	}
	return calendars, nil
}

// GetAvailability computes busy intervals across the selected calendars
// within [dateFrom, dateTo]. One appointment query runs per selected
// calendar, concurrently. The first failure fails the whole batch;
// in-flight sibling queries run to completion with their results discarded.
// Appointments whose free/busy status is "Free" do not count as busy.
func (s *CalendarService) GetAvailability(ctx context.Context, dateFrom, dateTo time.Time, selectedCalendars []string) (busy []EventBusyDate, err error) {
	logger := logging.WithOperation(s.logger, "calendar.get_availability")
	ctx, span := instrumentation.StartCalendarSpan(ctx, "get_availability")
	defer func() { instrumentation.FinishSpan(span, err) }()

	calendars, err := s.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}

	selected := make(map[string]bool, len(selectedCalendars))
	for _, id := range selectedCalendars {
		selected[id] = true
	}

	var targets []string
	for _, cal := range calendars {
		if selected[cal.ExternalID] {
			targets = append(targets, cal.ExternalID)
		}
	}
	if len(targets) == 0 {
		return []EventBusyDate{}, nil
	}

	handle, err := s.clientHandle()
	if err != nil {
		logger.Error("client handle unavailable", logging.Err(err))
		return nil, err
	}

	start := time.Now()
	results := make([][]ews.Appointment, len(targets))
	var group errgroup.Group
	for i, folderID := range targets {
		group.Go(func() error {
			appts, err := handle.FindAppointments(ctx, folderID, dateFrom, dateTo)
			if err != nil {
				return err
			}
			results[i] = appts
			return nil
		})
	}

	err = group.Wait()
	s.metrics.RecordEWSOperation(ctx, "get_availability", time.Since(start), err)
	if err != nil {
		logger.Error("availability query failed", logging.Err(err), logging.Endpoint(s.cfg.URL))
		return nil, err
	}

	busy = make([]EventBusyDate, 0)
	for _, appts := range results {
		for _, appt := range appts {
			if strings.EqualFold(appt.FreeBusyStatus, "Free") {
				continue
			}
			busy = append(busy, EventBusyDate{Start: appt.Start, End: appt.End})
		}
	}
	return busy, nil
}

// Cleanup drops the cached client handle so the next operation establishes
// a fresh connection. Teardown errors are logged and swallowed; cleanup must
// never block shutdown.
func (s *CalendarService) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return
	}
	if err := s.handle.Close(); err != nil {
		s.logger.Warn("error closing client handle during cleanup", logging.Err(err))
	}
	s.handle = nil
}

// buildAppointment translates the host event into the remote appointment
// shape. Required attendees are the explicit attendees followed by team
// members, one entry each, without deduplication.
func buildAppointment(event CalendarEvent) ews.Appointment {
	attendees := make([]string, 0, len(event.Attendees)+len(event.TeamMembers))
	attendees = append(attendees, event.Attendees...)
	attendees = append(attendees, event.TeamMembers...)

	return ews.Appointment{
		Subject:   event.Title,
		Body:      event.Description,
		Location:  event.Location,
		Start:     event.Start,
		End:       event.End,
		Attendees: attendees,
	}
}
