package events

import (
	"time"

	"github.com/google/uuid"
)

// TimesheetSubmitted is published when a user submits a weekly timesheet.
// WeekStartDate keeps the producer's YYYY-MM-DD string as-is.
type TimesheetSubmitted struct {
	Envelope
	UserID        uuid.UUID
	WeekStartDate string
	TotalHours    float64
	BillableHours float64
}

func (e *TimesheetSubmitted) Type() Type { return TypeTimesheetSubmitted }

func (e *TimesheetSubmitted) Fields() Fields {
	w := newFieldWriter(TypeTimesheetSubmitted, e.Envelope)
	w.uuid("user_id", e.UserID)
	w.str("week_start_date", e.WeekStartDate)
	w.float("total_hours", e.TotalHours)
	w.float("billable_hours", e.BillableHours)
	return w.fields()
}

func (e *TimesheetSubmitted) Validate() error {
	v := validator{t: TypeTimesheetSubmitted}
	v.uuid("user_id", e.UserID)
	v.str("week_start_date", e.WeekStartDate)
	if _, err := time.Parse(time.DateOnly, e.WeekStartDate); e.WeekStartDate != "" && err != nil {
		v.fail("week_start_date", "must be a YYYY-MM-DD date")
	}
	v.nonNegative("total_hours", e.TotalHours)
	v.nonNegative("billable_hours", e.BillableHours)
	if e.BillableHours > e.TotalHours {
		v.fail("billable_hours", "must not exceed total_hours")
	}
	return v.err
}

func decodeTimesheetSubmitted(r *fieldReader) Event {
	return &TimesheetSubmitted{
		Envelope:      r.envelope(),
		UserID:        r.uuid("user_id"),
		WeekStartDate: r.str("week_start_date"),
		TotalHours:    r.float("total_hours"),
		BillableHours: r.float("billable_hours"),
	}
}
