package booking

import "github.com/Alijeyrad/simorq_calendar/internal/repo"

// allowedFrom lists the statuses each target status may be reached from.
// Confirming a confirmed appointment again is allowed and clears reminders.
var allowedFrom = map[repo.AppointmentStatus][]repo.AppointmentStatus{
	repo.StatusConfirmed: {repo.StatusPending, repo.StatusConfirmed},
	repo.StatusCompleted: {repo.StatusConfirmed},
	repo.StatusNoShow:    {repo.StatusConfirmed},
	repo.StatusCancelled: {repo.StatusPending, repo.StatusConfirmed},
}

// CanTransition reports whether an appointment in from may move to to.
func CanTransition(from, to repo.AppointmentStatus) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}
