package repo

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Appointment
// ---------------------------------------------------------------------------

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// Active reports whether an appointment in this status occupies its interval.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// ActiveStatuses are the statuses that participate in conflict detection.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusConfirmed}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type RecurrenceFrequency string

const (
	FrequencyDaily   RecurrenceFrequency = "daily"
	FrequencyWeekly  RecurrenceFrequency = "weekly"
	FrequencyMonthly RecurrenceFrequency = "monthly"
)

func (f RecurrenceFrequency) Valid() bool {
	return f == FrequencyDaily || f == FrequencyWeekly || f == FrequencyMonthly
}

type RecurringPattern struct {
	Frequency RecurrenceFrequency `json:"frequency"`
	EndDate   *time.Time          `json:"end_date,omitempty"`
	ParentID  *uuid.UUID          `json:"parent_id,omitempty"`
}

type Appointment struct {
	ID             uuid.UUID  `json:"id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	ClientID       *uuid.UUID `json:"client_id,omitempty"`
	ClientName     string     `json:"client_name"`
	ClientEmail    string     `json:"client_email"`
	ClientPhone    string     `json:"client_phone,omitempty"`
	ServiceType    string     `json:"service_type"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	// Duration in minutes; always EndTime - StartTime.
	Duration         int               `json:"duration"`
	Status           AppointmentStatus `json:"status"`
	Notes            string            `json:"notes,omitempty"`
	ConfirmationCode string            `json:"confirmation_code"`

	ExternalEventID   *string    `json:"external_event_id,omitempty"`
	ExternalSynced    bool       `json:"external_synced"`
	SyncAttempts      int        `json:"sync_attempts"`
	LastSyncAttemptAt *time.Time `json:"last_sync_attempt_at,omitempty"`

	RecurringPattern *RecurringPattern `json:"recurring_pattern,omitempty"`
	PaymentStatus    PaymentStatus     `json:"payment_status"`

	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	ReminderSentAt     *time.Time `json:"reminder_sent_at,omitempty"`
	DeletedAt          *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAppointment builds a pending appointment. The interval invariant is
// checked here so an invalid appointment can never reach a store.
func NewAppointment(practitionerID uuid.UUID, serviceType string, start time.Time, durationMinutes int) (*Appointment, error) {
	if durationMinutes <= 0 {
		return nil, ErrInvalidInterval
	}
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	if _, err := NewInterval(start, end); err != nil {
		return nil, err
	}
	return &Appointment{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		ServiceType:    serviceType,
		StartTime:      start.UTC(),
		EndTime:        end.UTC(),
		Duration:       durationMinutes,
		Status:         StatusPending,
		PaymentStatus:  PaymentUnpaid,
	}, nil
}

func (a *Appointment) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime}
}

func (a *Appointment) HasExternalEvent() bool {
	return a.ExternalEventID != nil && *a.ExternalEventID != ""
}

// ---------------------------------------------------------------------------
// Blocked time
// ---------------------------------------------------------------------------

type BlockReason string

const (
	ReasonVacation BlockReason = "vacation"
	ReasonSick     BlockReason = "sick"
	ReasonPersonal BlockReason = "personal"
	ReasonTraining BlockReason = "training"
	ReasonHoliday  BlockReason = "holiday"
	ReasonExternal BlockReason = "external_calendar"
	ReasonOther    BlockReason = "other"
)

func (r BlockReason) Valid() bool {
	switch r {
	case ReasonVacation, ReasonSick, ReasonPersonal, ReasonTraining, ReasonHoliday, ReasonExternal, ReasonOther:
		return true
	}
	return false
}

type BlockSource string

const (
	SourceManual   BlockSource = "manual"
	SourceExternal BlockSource = "external"
)

type BlockedTime struct {
	ID               uuid.UUID         `json:"id"`
	PractitionerID   uuid.UUID         `json:"practitioner_id"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          time.Time         `json:"end_time"`
	Reason           BlockReason       `json:"reason"`
	Notes            string            `json:"notes,omitempty"`
	IsRecurring      bool              `json:"is_recurring"`
	RecurringPattern *RecurringPattern `json:"recurring_pattern,omitempty"`
	Source           BlockSource       `json:"source"`
	ExternalEventID  *string           `json:"external_event_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func (b *BlockedTime) Imported() bool {
	return b.Source == SourceExternal
}

// ---------------------------------------------------------------------------
// Weekly availability
// ---------------------------------------------------------------------------

// TimeRange is a wall-clock range in the practitioner's timezone ("HH:MM").
type TimeRange struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type DaySchedule struct {
	DayOfWeek   int         `json:"day_of_week"` // 0 = Sunday
	IsAvailable bool        `json:"is_available"`
	TimeSlots   []TimeRange `json:"time_slots"`
}

type WeeklyAvailability struct {
	PractitionerID       uuid.UUID     `json:"practitioner_id"`
	Days                 []DaySchedule `json:"days"`
	BufferTime           int           `json:"buffer_time"`
	MaxDailyAppointments int           `json:"max_daily_appointments"`
	AdvanceBookingDays   int           `json:"advance_booking_days"`
	MinNoticeHours       int           `json:"min_notice_hours"`
	Timezone             string        `json:"timezone"`
	AutoConfirm          bool          `json:"auto_confirm"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// DefaultAvailability is used for practitioners that never saved a template:
// weekdays 09:00-17:00.
func DefaultAvailability(practitionerID uuid.UUID) *WeeklyAvailability {
	days := make([]DaySchedule, 7)
	for d := 0; d < 7; d++ {
		days[d] = DaySchedule{DayOfWeek: d, TimeSlots: []TimeRange{}}
		if d >= int(time.Monday) && d <= int(time.Friday) {
			days[d].IsAvailable = true
			days[d].TimeSlots = []TimeRange{{StartTime: "09:00", EndTime: "17:00"}}
		}
	}
	return &WeeklyAvailability{
		PractitionerID:       practitionerID,
		Days:                 days,
		BufferTime:           0,
		MaxDailyAppointments: 0,
		AdvanceBookingDays:   60,
		MinNoticeHours:       24,
		Timezone:             "UTC",
	}
}

// ---------------------------------------------------------------------------
// Calendar sync state
// ---------------------------------------------------------------------------

type SyncDirection string

const (
	DirectionTwoWay       SyncDirection = "two-way"
	DirectionToExternal   SyncDirection = "to-external"
	DirectionFromExternal SyncDirection = "from-external"
)

func (d SyncDirection) Valid() bool {
	return d == DirectionTwoWay || d == DirectionToExternal || d == DirectionFromExternal
}

func (d SyncDirection) AllowsPush() bool {
	return d == DirectionTwoWay || d == DirectionToExternal
}

func (d SyncDirection) AllowsPull() bool {
	return d == DirectionTwoWay || d == DirectionFromExternal
}

type PrivacyLevel string

const (
	PrivacyBusyOnly PrivacyLevel = "busy-only"
	PrivacyGeneric  PrivacyLevel = "generic"
	PrivacyDetailed PrivacyLevel = "detailed"
)

func (p PrivacyLevel) Valid() bool {
	return p == PrivacyBusyOnly || p == PrivacyGeneric || p == PrivacyDetailed
}

type WebhookChannel struct {
	ChannelID  string     `json:"channel_id"`
	ResourceID string     `json:"resource_id"`
	Token      string     `json:"-"`
	Expiration *time.Time `json:"expiration,omitempty"`
}

func (w WebhookChannel) Active() bool {
	return w.ChannelID != ""
}

type SyncError struct {
	ID            uuid.UUID  `json:"id"`
	OccurredAt    time.Time  `json:"occurred_at"`
	Operation     string     `json:"operation"`
	Message       string     `json:"message"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Resolved      bool       `json:"resolved"`
}

// CalendarSync is the per-practitioner external calendar connection. The
// credential fields hold ciphertext only.
type CalendarSync struct {
	PractitionerID        uuid.UUID      `json:"practitioner_id"`
	EncryptedAccessToken  string         `json:"-"`
	EncryptedRefreshToken string         `json:"-"`
	TokenExpiry           time.Time      `json:"-"`
	ExternalCalendarID    string         `json:"external_calendar_id"`
	ConnectedEmail        string         `json:"connected_email,omitempty"`
	SyncEnabled           bool           `json:"sync_enabled"`
	SyncDirection         SyncDirection  `json:"sync_direction"`
	PrivacyLevel          PrivacyLevel   `json:"privacy_level"`
	NeedsReauth           bool           `json:"needs_reauth"`
	LastSyncedAt          *time.Time     `json:"last_synced_at,omitempty"`
	Webhook               WebhookChannel `json:"webhook"`
	SyncErrors            []SyncError    `json:"sync_errors"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

func (s *CalendarSync) HasCredentials() bool {
	return s.EncryptedAccessToken != "" && s.EncryptedRefreshToken != ""
}

// Validate enforces that an enabled connection always has both credentials.
func (s *CalendarSync) Validate() error {
	if s.SyncEnabled && !s.HasCredentials() {
		return ErrCredentialsMissing
	}
	if !s.SyncDirection.Valid() {
		return ErrInvalidSetting
	}
	if !s.PrivacyLevel.Valid() {
		return ErrInvalidSetting
	}
	return nil
}

func (s *CalendarSync) UnresolvedErrors() int {
	n := 0
	for _, e := range s.SyncErrors {
		if !e.Resolved {
			n++
		}
	}
	return n
}

type SettingsPatch struct {
	SyncEnabled   *bool
	SyncDirection *SyncDirection
	PrivacyLevel  *PrivacyLevel
}
