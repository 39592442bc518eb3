package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBookingEmail(t *testing.T) {
	data := BookingEmailData{
		ClientName:       "Sara <b>",
		Email:            "sara@example.com",
		ServiceType:      "consultation",
		When:             "Mon 4 May 2026 10:00",
		PreviousWhen:     "Fri 1 May 2026 09:00",
		ConfirmationCode: "ABCD2345",
		Reason:           "sick",
	}

	for _, tmpl := range []string{
		TemplateBookingCreated,
		TemplateBookingConfirmed,
		TemplateBookingCancelled,
		TemplateBookingRescheduled,
	} {
		t.Run(tmpl, func(t *testing.T) {
			msg, err := BuildBookingEmail(tmpl, data)
			require.NoError(t, err)
			assert.Equal(t, []string{"sara@example.com"}, msg.To)
			assert.Contains(t, msg.Subject, "Simorq")
			assert.Contains(t, msg.TextBody, "ABCD2345")
			assert.Contains(t, msg.TextBody, "Mon 4 May 2026 10:00")
			assert.NotContains(t, msg.HTMLBody, "<b>")
		})
	}

	msg, err := BuildBookingEmail(TemplateBookingCancelled, data)
	require.NoError(t, err)
	assert.True(t, strings.Contains(msg.TextBody, "Reason: sick"))
}

func TestBuildBookingEmail_Errors(t *testing.T) {
	_, err := BuildBookingEmail("unknown", BookingEmailData{Email: "a@b.c"})
	assert.ErrorAs(t, err, &ErrInvalidMessage{})

	_, err = BuildBookingEmail(TemplateBookingCreated, BookingEmailData{})
	assert.ErrorAs(t, err, &ErrInvalidMessage{})
}

func TestBuildMessage_Validation(t *testing.T) {
	_, err := buildMessage("", Message{Subject: "s", TextBody: "b"})
	assert.Error(t, err)

	_, err = buildMessage("noreply@example.com", Message{To: []string{"a@b.c"}, Subject: "s"})
	assert.Error(t, err)

	m, err := buildMessage("noreply@example.com", Message{To: []string{" a@b.c ", ""}, Subject: "s", TextBody: "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@b.c"}, m.GetHeader("To"))
}
