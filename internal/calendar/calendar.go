package calendar

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

const prodID = "-//hackgods//clinic-appointment-scheduling//EN"

// Options controls how appointments are rendered. Location is the clinic
// time zone the stored dates and clocks are expressed in.
type Options struct {
	Location *time.Location
	Stamp    time.Time
	Name     string
	// People maps a person id to a display name. Unknown ids fall back to
	// the id itself.
	People map[uuid.UUID]string
}

// Encode writes appts as a VCALENDAR with one VEVENT per appointment.
// Event times are written in UTC.
func Encode(w io.Writer, appts []appointment.Appointment, opts Options) error {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	if opts.Name != "" {
		cal.Props.SetText("X-WR-CALNAME", opts.Name)
	}

	for _, a := range appts {
		start, end, err := bounds(a, loc)
		if err != nil {
			return fmt.Errorf("appointment %s: %w", a.ID, err)
		}

		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, a.ID.String()+"@clinic")
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
		ev.Props.SetText(ical.PropSummary, "Appointment with "+displayName(opts.People, a.DoctorID))
		ev.Props.SetText(ical.PropDescription, description(a, opts.People))

		cal.Children = append(cal.Children, ev.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

func bounds(a appointment.Appointment, loc *time.Location) (time.Time, time.Time, error) {
	const layout = appointment.DateLayout + " " + appointment.ClockLayout

	start, err := time.ParseInLocation(layout, a.Date+" "+a.StartTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.ParseInLocation(layout, a.Date+" "+a.EndTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func description(a appointment.Appointment, people map[uuid.UUID]string) string {
	var b strings.Builder
	b.WriteString("Patient: ")
	b.WriteString(displayName(people, a.PatientID))
	b.WriteString("\nDoctor: ")
	b.WriteString(displayName(people, a.DoctorID))
	if a.Comment != "" {
		b.WriteString("\n")
		b.WriteString(a.Comment)
	}
	return b.String()
}

func displayName(people map[uuid.UUID]string, id uuid.UUID) string {
	if name, ok := people[id]; ok && name != "" {
		return name
	}
	return id.String()
}
