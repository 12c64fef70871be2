package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

// dateLayouts are tried in order when parsing date strings.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"15:04:05",
	"15:04",
	"02/01/2006",
}

// DateConditionHandler compares a date value against another date or the
// current time, at a chosen granularity, and routes through ConditionResult.
type DateConditionHandler struct {
	now func() time.Time
}

// NewDateConditionHandler creates a date condition handler using the wall clock.
func NewDateConditionHandler() *DateConditionHandler {
	return &DateConditionHandler{now: time.Now}
}

func (h *DateConditionHandler) Handle(_ context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	raw, ok := vars["extractedValue"]
	if !ok || raw == nil {
		raw = vars["dateValue"]
	}
	if v := stringParam(config, "dateVariable", ""); v != "" {
		raw = vars[v]
	}
	comparison := stringParam(config, "comparisonType", "equals")
	unit := stringParam(config, "dateUnit", "exact")
	expected := config["expectedValue"]

	input, ok := parseDate(raw)
	if !ok {
		return schema.Fail(fmt.Sprintf("Invalid input date: %v", raw)), nil
	}

	now := h.now()
	var result bool
	switch comparison {
	case "isToday":
		result = sameDay(input, now)
	case "isWeekend":
		wd := input.Weekday()
		result = wd == time.Saturday || wd == time.Sunday
	case "isWeekday":
		wd := input.Weekday()
		result = wd != time.Saturday && wd != time.Sunday
	case "between":
		start, sok := parseDate(expected)
		end, eok := parseDate(config["endValue"])
		if !sok || !eok {
			return schema.Fail("Date comparison failed: between requires valid expectedValue and endValue"), nil
		}
		v := dateUnitValue(input, unit)
		result = compareUnit(v, dateUnitValue(start, unit)) >= 0 && compareUnit(v, dateUnitValue(end, unit)) <= 0
	default:
		target := now
		if !boolParam(config, "useCurrentDate", false) {
			t, ok := parseDate(expected)
			if !ok {
				return schema.Fail(fmt.Sprintf("Date comparison failed: Invalid expected date: %v", expected)), nil
			}
			target = t
		}
		c := compareUnit(dateUnitValue(input, unit), dateUnitValue(target, unit))
		switch comparison {
		case "equals":
			result = c == 0
		case "notEquals":
			result = c != 0
		case "greaterThan":
			result = c > 0
		case "greaterThanOrEqual":
			result = c >= 0
		case "lessThan":
			result = c < 0
		case "lessThanOrEqual":
			result = c <= 0
		}
	}

	res := schema.Ok(map[string]any{
		"result":         result,
		"inputDate":      input.UTC().Format(time.RFC3339),
		"comparisonType": comparison,
		"dateUnit":       unit,
		"expectedValue":  expected,
		"extractedValue": raw,
	})
	res.Message = fmt.Sprintf("Date %s %s: %t", input.Format(time.RFC3339), comparison, result)
	res.ConditionResult = schema.BoolPtr(result)
	return res, nil
}

func parseDate(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC(), true
		}
	case float64:
		return time.Unix(int64(val), 0).UTC(), true
	case int:
		return time.Unix(int64(val), 0).UTC(), true
	case int64:
		return time.Unix(val, 0).UTC(), true
	}
	return time.Time{}, false
}

// dateUnitValue projects t onto the comparison granularity. Integer units
// compare numerically, "date" and "time" compare as sortable strings.
func dateUnitValue(t time.Time, unit string) any {
	switch unit {
	case "date":
		return t.Format("2006-01-02")
	case "time":
		return t.Format("15:04:05")
	case "year":
		return int64(t.Year())
	case "month":
		return int64(t.Month())
	case "week":
		_, w := t.ISOWeek()
		return int64(w)
	case "day":
		return int64(t.Day())
	case "hour":
		return int64(t.Hour())
	case "minute":
		return int64(t.Minute())
	default:
		return t.Unix()
	}
}

func compareUnit(a, b any) int {
	switch av := a.(type) {
	case int64:
		bv := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	}
	return 0
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}
