package email

import (
	"fmt"
	"html"
	"strings"
)

// Booking notification template ids. The same ids select the SMS template.
const (
	TemplateBookingCreated     = "booking_created"
	TemplateBookingConfirmed   = "booking_confirmed"
	TemplateBookingCancelled   = "booking_cancelled"
	TemplateBookingRescheduled = "booking_rescheduled"
)

// BookingEmailData contains the data needed for booking email templates.
type BookingEmailData struct {
	ClientName       string
	Email            string
	ServiceType      string
	When             string // formatted in the practitioner's timezone
	PreviousWhen     string // reschedule only
	ConfirmationCode string
	Reason           string // cancellation only
	ManageURL        string
	AppName          string
}

type bookingCopy struct {
	subject string
	heading string
	lines   []string
}

func bookingText(template string, d BookingEmailData) (bookingCopy, error) {
	switch template {
	case TemplateBookingCreated:
		return bookingCopy{
			subject: fmt.Sprintf("Your %s booking request", d.AppName),
			heading: "We received your booking",
			lines: []string{
				fmt.Sprintf("Your %s appointment is requested for %s.", d.ServiceType, d.When),
				"You will get another email once it is confirmed.",
			},
		}, nil
	case TemplateBookingConfirmed:
		return bookingCopy{
			subject: fmt.Sprintf("Your %s appointment is confirmed", d.AppName),
			heading: "Your appointment is confirmed",
			lines: []string{
				fmt.Sprintf("Your %s appointment is confirmed for %s.", d.ServiceType, d.When),
			},
		}, nil
	case TemplateBookingCancelled:
		lines := []string{fmt.Sprintf("Your %s appointment on %s was cancelled.", d.ServiceType, d.When)}
		if d.Reason != "" {
			lines = append(lines, "Reason: "+d.Reason)
		}
		return bookingCopy{
			subject: fmt.Sprintf("Your %s appointment was cancelled", d.AppName),
			heading: "Your appointment was cancelled",
			lines:   lines,
		}, nil
	case TemplateBookingRescheduled:
		return bookingCopy{
			subject: fmt.Sprintf("Your %s appointment was moved", d.AppName),
			heading: "Your appointment was moved",
			lines: []string{
				fmt.Sprintf("Your %s appointment moved from %s to %s.", d.ServiceType, d.PreviousWhen, d.When),
			},
		}, nil
	}
	return bookingCopy{}, ErrInvalidMessage{Reason: "unknown template " + template}
}

// BuildBookingEmail renders one of the booking templates for a client.
func BuildBookingEmail(template string, data BookingEmailData) (Message, error) {
	if strings.TrimSpace(data.Email) == "" {
		return Message{}, ErrInvalidMessage{Reason: "recipient is required"}
	}
	if data.AppName == "" {
		data.AppName = "Simorq"
	}
	name := data.ClientName
	if name == "" {
		name = "there"
	}

	c, err := bookingText(template, data)
	if err != nil {
		return Message{}, err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\n", name)
	for _, l := range c.lines {
		text.WriteString(l + "\n")
	}
	if data.ConfirmationCode != "" {
		fmt.Fprintf(&text, "\nConfirmation code: %s\n", data.ConfirmationCode)
	}
	if data.ManageURL != "" {
		fmt.Fprintf(&text, "Manage your booking: %s\n", data.ManageURL)
	}
	fmt.Fprintf(&text, "\nThanks,\nThe %s Team", data.AppName)

	var body strings.Builder
	for _, l := range c.lines {
		fmt.Fprintf(&body, "    <p>%s</p>\n", html.EscapeString(l))
	}
	if data.ConfirmationCode != "" {
		fmt.Fprintf(&body, `    <p>Confirmation code:</p>
    <p style="background-color: #f3f4f6; padding: 10px 15px; border-radius: 4px; font-family: monospace; font-size: 16px;">%s</p>
`, html.EscapeString(data.ConfirmationCode))
	}
	if data.ManageURL != "" {
		fmt.Fprintf(&body, `    <p style="text-align: center; margin: 30px 0;">
        <a href="%s" style="background-color: #2563eb; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; display: inline-block;">Manage booking</a>
    </p>
`, html.EscapeString(data.ManageURL))
	}

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2 style="color: #2563eb;">%s</h2>
    <p>Hi %s,</p>
%s    <p style="color: #6b7280; font-size: 14px; margin-top: 30px;">Thanks,<br>The %s Team</p>
</body>
</html>`,
		html.EscapeString(c.heading), html.EscapeString(name), body.String(), html.EscapeString(data.AppName))

	return Message{
		To:       []string{data.Email},
		Subject:  c.subject,
		TextBody: text.String(),
		HTMLBody: htmlBody,
	}, nil
}
