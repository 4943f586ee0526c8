// ABOUTME: Display fields derived from stored records for the admin listing
// ABOUTME: Reads step/mode out of opaque session data and computes completion state

package records

import (
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/2389/botkeep/internal/store"
)

// Placeholder is shown for a display field that has no usable value.
const Placeholder = "-"

// stepOf returns data.step, or Placeholder.
func stepOf(data string) string {
	if !gjson.Valid(data) {
		return Placeholder
	}
	return displayValue(field(gjson.Parse(data), "step"))
}

// modeOf returns data.mode, falling back to data.test.mode, or Placeholder.
func modeOf(data string) string {
	if !gjson.Valid(data) {
		return Placeholder
	}
	root := gjson.Parse(data)
	if v := displayValue(field(root, "mode")); v != Placeholder {
		return v
	}
	return displayValue(field(field(root, "test"), "mode"))
}

// field returns the member key of obj. When a key repeats, the last
// occurrence wins, as in most JSON decoders.
func field(obj gjson.Result, key string) gjson.Result {
	var found gjson.Result
	if !obj.IsObject() {
		return found
	}
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.Str == key {
			found = v
		}
		return true
	})
	return found
}

// displayValue renders a JSON value, treating missing and falsy values
// (null, false, 0, "") as absent. Numbers render in shortest decimal form,
// other non-string values as raw JSON.
func displayValue(r gjson.Result) string {
	if !r.Exists() {
		return Placeholder
	}
	switch r.Type {
	case gjson.Null, gjson.False:
		return Placeholder
	case gjson.String:
		if r.Str == "" {
			return Placeholder
		}
		return r.Str
	case gjson.Number:
		if r.Num == 0 {
			return Placeholder
		}
		return strconv.FormatFloat(r.Num, 'f', -1, 64)
	default:
		return r.Raw
	}
}

// completed reports whether a completion marker is present and unexpired.
func completed(c *store.Completion, now time.Time) bool {
	return c != nil && c.Active(now)
}

// listTimestamp renders updated_at as decimal epoch millis, or "" when unset.
func listTimestamp(t time.Time) string {
	if t.IsZero() || t.UnixMilli() == 0 {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}
