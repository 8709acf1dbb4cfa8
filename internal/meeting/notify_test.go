package meeting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLeadText(t *testing.T) {
	cases := map[time.Duration]string{
		time.Hour:        "1 oră",
		2 * time.Hour:    "2 ore",
		time.Minute:      "1 minut",
		15 * time.Minute: "15 minute",
		30 * time.Minute: "30 de minute",
	}
	for d, want := range cases {
		assert.Equal(t, want, leadText(d), d.String())
	}
}

func TestReminderJobID(t *testing.T) {
	assert.Equal(t, "reminder_abc_owner", ReminderJobID("abc", RoleOwner))
	assert.Equal(t, "reminder_abc_attendee", ReminderJobID("abc", RoleAttendee))
}
