package repo

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestUpgradeAppointmentRow_V1(t *testing.T) {
	start := time.Date(2025, 11, 3, 14, 0, 0, 0, time.UTC)
	row := appointmentRow{
		ID:              uuid.New(),
		SchemaVersion:   schemaV1,
		PractitionerID:  uuid.New(),
		SessionType:     ptr("individual"),
		StartTime:       start,
		DurationMinutes: ptr(int32(50)),
		Status:          "no-show",
	}

	a, err := upgradeAppointmentRow(row)
	require.NoError(t, err)
	assert.Equal(t, "individual", a.ServiceType)
	assert.Equal(t, start.Add(50*time.Minute), a.EndTime)
	assert.Equal(t, 50, a.Duration)
	assert.Equal(t, StatusNoShow, a.Status)
	assert.Equal(t, PaymentUnpaid, a.PaymentStatus)
}

func TestUpgradeAppointmentRow_V2(t *testing.T) {
	start := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	row := appointmentRow{
		ID:               uuid.New(),
		SchemaVersion:    schemaV2,
		ServiceType:      ptr("consultation"),
		StartTime:        start,
		EndTime:          ptr(start.Add(45 * time.Minute)),
		Status:           "confirmed",
		PaymentStatus:    "paid",
		RecurringPattern: []byte(`{"frequency":"weekly"}`),
	}

	a, err := upgradeAppointmentRow(row)
	require.NoError(t, err)
	assert.Equal(t, 45, a.Duration)
	require.NotNil(t, a.RecurringPattern)
	assert.Equal(t, FrequencyWeekly, a.RecurringPattern.Frequency)
}

func TestUpgradeAppointmentRow_Rejects(t *testing.T) {
	_, err := upgradeAppointmentRow(appointmentRow{SchemaVersion: schemaV1, StartTime: time.Now()})
	assert.Error(t, err, "legacy row without duration")

	_, err = upgradeAppointmentRow(appointmentRow{SchemaVersion: schemaV2, StartTime: time.Now()})
	assert.Error(t, err, "missing end_time")

	_, err = upgradeAppointmentRow(appointmentRow{SchemaVersion: 9})
	assert.Error(t, err)
}
