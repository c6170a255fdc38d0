package activity

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// MaxOccurrencesPerEvent bounds how many instances one master event expands to.
const MaxOccurrencesPerEvent = 1000

const (
	instanceLayout = "20060102T150405Z"
	icalDateLayout = "20060102"
	icalTimeLayout = "20060102T150405"
)

// ExpandRecurring replaces every master event carrying an RRULE with its
// instances starting in [from, to]. Non-recurring events pass through
// untouched. A master whose rule cannot be parsed is kept as a single event.
func (n *Normalizer) ExpandRecurring(events []RawEvent, from, to time.Time) []RawEvent {
	out := make([]RawEvent, 0, len(events))
	for _, evt := range events {
		if len(evt.Recurrence) == 0 {
			out = append(out, evt)
			continue
		}
		instances, err := n.expandOne(evt, from, to)
		if err != nil {
			n.logger.Warn().Err(err).Str("event_id", evt.ID).Msg("recurrence not expanded, keeping master as a single event")
			if n.onSkip != nil {
				n.onSkip(SkipRecurrence)
			}
			evt.Recurrence = nil
			out = append(out, evt)
			continue
		}
		out = append(out, instances...)
	}
	return out
}

func (n *Normalizer) expandOne(master RawEvent, from, to time.Time) ([]RawEvent, error) {
	base, err := n.Normalize(master, "")
	if err != nil {
		// Left for the normalizer to report when the batch is normalized.
		return []RawEvent{master}, nil
	}
	// Rules follow the wall clock of the zone they were written in.
	ruleLoc := n.loc
	if !base.AllDay && master.Start.TimeZone != "" {
		if named, err := time.LoadLocation(master.Start.TimeZone); err == nil {
			ruleLoc = named
		}
	}
	if base.AllDay {
		// Normalize made the end inclusive; instances need the raw span.
		base.End = base.End.AddDate(0, 0, 1)
	}

	var (
		set     rrule.Set
		hasRule bool
	)
	for _, line := range master.Recurrence {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("recurrence line %q: %w", line, ErrMalformedEvent)
		}
		prop, params, _ := strings.Cut(name, ";")
		switch strings.ToUpper(prop) {
		case "RRULE":
			r, err := rrule.StrToRRule(value)
			if err != nil {
				return nil, fmt.Errorf("rrule %q: %v: %w", value, err, ErrMalformedEvent)
			}
			r.DTStart(base.Start.In(ruleLoc))
			set.RRule(r)
			hasRule = true
		case "EXDATE", "RDATE":
			times, err := n.parseICalTimes(value, params, ruleLoc)
			if err != nil {
				return nil, err
			}
			for _, t := range times {
				if strings.EqualFold(prop, "EXDATE") {
					set.ExDate(t)
				} else {
					set.RDate(t)
				}
			}
		}
	}
	if !hasRule {
		return []RawEvent{master}, nil
	}

	span := base.End.Sub(base.Start)
	starts := set.Between(from.In(n.loc), to.In(n.loc), true)
	if len(starts) > MaxOccurrencesPerEvent {
		starts = starts[:MaxOccurrencesPerEvent]
	}

	out := make([]RawEvent, 0, len(starts))
	for _, start := range starts {
		start = start.In(n.loc)
		inst := master
		inst.Recurrence = nil
		if base.AllDay {
			inst.ID = master.ID + "_" + start.Format(icalDateLayout)
			inst.Start = &EventDateTime{Date: start.Format(dateLayout)}
			inst.End = &EventDateTime{Date: start.Add(span).Format(dateLayout)}
		} else {
			inst.ID = master.ID + "_" + start.UTC().Format(instanceLayout)
			inst.Start = &EventDateTime{DateTime: start.Format(time.RFC3339)}
			inst.End = &EventDateTime{DateTime: start.Add(span).Format(time.RFC3339)}
		}
		out = append(out, inst)
	}
	return out, nil
}

// parseICalTimes reads a comma-separated EXDATE/RDATE value list.
func (n *Normalizer) parseICalTimes(value, params string, loc *time.Location) ([]time.Time, error) {
	for _, param := range strings.Split(params, ";") {
		key, v, _ := strings.Cut(param, "=")
		if strings.EqualFold(key, "TZID") {
			if named, err := time.LoadLocation(v); err == nil {
				loc = named
			}
		}
	}

	var out []time.Time
	for _, raw := range strings.Split(value, ",") {
		raw = strings.TrimSpace(raw)
		var (
			t   time.Time
			err error
		)
		switch {
		case strings.HasSuffix(raw, "Z"):
			t, err = time.Parse(instanceLayout, raw)
		case len(raw) == len(icalDateLayout):
			t, err = time.ParseInLocation(icalDateLayout, raw, n.loc)
		default:
			t, err = time.ParseInLocation(icalTimeLayout, raw, loc)
		}
		if err != nil {
			return nil, fmt.Errorf("recurrence date %q: %v: %w", raw, err, ErrMalformedEvent)
		}
		out = append(out, t.In(n.loc))
	}
	return out, nil
}
