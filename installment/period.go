package installment

import "time"

// =============================================================================
// VALIDITY WINDOW - The period a payment reference is collectable
// =============================================================================

// ValidityWindow bounds the dates on which a payment reference may be
// collected against: [Start, End], both inclusive.
type ValidityWindow struct {
	Start time.Time
	End   time.Time
}

// WindowFor returns the window spanning the given due dates (first to last).
// An empty slice yields the zero window.
func WindowFor(dueDates []time.Time) ValidityWindow {
	if len(dueDates) == 0 {
		return ValidityWindow{}
	}
	return ValidityWindow{Start: dueDates[0], End: dueDates[len(dueDates)-1]}
}

// Contains returns true if t is within the window [Start, End].
func (w ValidityWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// IsZero reports whether the window was never set.
func (w ValidityWindow) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// String returns a string representation of the window.
func (w ValidityWindow) String() string {
	return "[" + w.Start.Format("2006-01-02") + ", " + w.End.Format("2006-01-02") + "]"
}
