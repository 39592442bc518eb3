package constants

const (
	AppName      = "simorq-calendar"
	ConfigName   = "config"
	ConfigFormat = "yaml"
	EnvPrefix    = "SIMORQ"
)

// NATS subjects. The trailing token is the practitioner id.
const (
	SubjectAppointmentCreated   = "simorq.appointment.created"
	SubjectAppointmentUpdated   = "simorq.appointment.updated"
	SubjectAppointmentCancelled = "simorq.appointment.cancelled"
	SubjectAppointmentAll       = "simorq.appointment.>"

	QueueCalendarPush  = "calendar-push"
	QueueNotifications = "notifications"
)

// Redis key prefixes.
const (
	RedisKeyBookingLock = "lock:booking:"
	RedisKeyPushLock    = "lock:push:"
	RedisKeyPullLock    = "lock:pull:"
	RedisKeyBusyCache   = "cache:busy:"
	RedisKeyOAuthState  = "oauth:state:"
	RedisKeySession     = "session:"
	RedisKeyRateLimit   = "ratelimit:"
)

// ExtendedPropertyAppointmentID marks external events created by this service.
const ExtendedPropertyAppointmentID = "simorqAppointmentId"
