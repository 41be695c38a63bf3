package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RelativeUnit is the time unit of a relative expression.
type RelativeUnit string

const (
	UnitMinutes RelativeUnit = "minutes"
	UnitHours   RelativeUnit = "hours"
	UnitDays    RelativeUnit = "days"
	UnitWeeks   RelativeUnit = "weeks"
)

// RelativeTense marks whether the offset points into the past or the future.
type RelativeTense string

const (
	TenseAgo     RelativeTense = "ago"
	TenseFromNow RelativeTense = "from_now"
)

// RelativeExpr is a symbolic time offset used as a rule value, e.g.
// "30 days ago". It is resolved against the evaluation timestamp on every
// evaluation and never cached, since its concrete value moves with the clock.
type RelativeExpr struct {
	Amount int
	Unit   RelativeUnit
	Tense  RelativeTense
}

var relativePattern = regexp.MustCompile(`^(\d+)\s+(minute|hour|day|week)s?\s+(ago|from now)$`)

// ParseRelativeExpr parses the canonical textual form: "<n> <unit> ago" or
// "<n> <unit> from now".
func ParseRelativeExpr(s string) (RelativeExpr, error) {
	match := relativePattern.FindStringSubmatch(s)
	if match == nil {
		return RelativeExpr{}, fmt.Errorf("%w: %q", ErrInvalidRelativeExpr, s)
	}

	amount, err := strconv.Atoi(match[1])
	if err != nil {
		return RelativeExpr{}, fmt.Errorf("%w: %q", ErrInvalidRelativeExpr, s)
	}

	tense := TenseAgo
	if match[3] == "from now" {
		tense = TenseFromNow
	}

	return RelativeExpr{
		Amount: amount,
		Unit:   RelativeUnit(match[2] + "s"),
		Tense:  tense,
	}, nil
}

// String renders the canonical textual form understood by ParseRelativeExpr.
// The unit is singular when the amount is one.
func (r RelativeExpr) String() string {
	tense := "ago"
	if r.Tense == TenseFromNow {
		tense = "from now"
	}

	unit := string(r.Unit)
	if r.Amount == 1 {
		unit = strings.TrimSuffix(unit, "s")
	}

	return fmt.Sprintf("%d %s %s", r.Amount, unit, tense)
}

// At resolves the expression against the given reference time.
func (r RelativeExpr) At(now time.Time) time.Time {
	var d time.Duration

	switch r.Unit {
	case UnitMinutes:
		d = time.Duration(r.Amount) * time.Minute
	case UnitHours:
		d = time.Duration(r.Amount) * time.Hour
	case UnitDays:
		d = time.Duration(r.Amount) * 24 * time.Hour
	case UnitWeeks:
		d = time.Duration(r.Amount) * 7 * 24 * time.Hour
	}

	if r.Tense == TenseFromNow {
		return now.Add(d)
	}

	return now.Add(-d)
}
