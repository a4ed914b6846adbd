// Package loop detects tool call loops in the continuation cycle: a
// model that keeps issuing the same call with the same arguments, or
// ping-pongs between two calls, is burning rounds without progress.
package loop

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"time"

	"claude-gateway/types"
)

const (
	maxHistory           = 20
	historyWindow        = 5 * time.Minute
	consecutiveThreshold = 3
	alternatingThreshold = 4
)

type callRecord struct {
	toolName   string
	paramsHash string
	calledAt   time.Time
}

func (r callRecord) same(other callRecord) bool {
	return r.toolName == other.toolName && r.paramsHash == other.paramsHash
}

// Detection describes a detected repetition pattern.
type Detection struct {
	ToolName string
	Pattern  string
	Count    int
}

func (d *Detection) String() string {
	return fmt.Sprintf("%s repetition of %s (%d calls)", d.Pattern, d.ToolName, d.Count)
}

// Detector tracks recent tool calls for one continuation loop. Not safe
// for concurrent use; each loop owns its own detector.
type Detector struct {
	history []callRecord
	now     func() time.Time
}

// NewDetector creates an empty detector.
func NewDetector() *Detector {
	return &Detector{now: time.Now}
}

// Observe records a round's tool calls and reports a repetition pattern
// if one has formed, or nil.
func (d *Detector) Observe(calls []types.ToolUseBlock) *Detection {
	for _, call := range calls {
		d.history = append(d.history, callRecord{
			toolName:   call.Name,
			paramsHash: hashInput(call.Input),
			calledAt:   d.now(),
		})
	}
	d.prune()
	return d.check()
}

// prune drops stale records and caps the history length
func (d *Detector) prune() {
	cutoff := d.now().Add(-historyWindow)
	kept := d.history[:0]
	for _, record := range d.history {
		if record.calledAt.After(cutoff) {
			kept = append(kept, record)
		}
	}
	d.history = kept

	if len(d.history) > maxHistory {
		d.history = d.history[len(d.history)-maxHistory:]
	}
}

func (d *Detector) check() *Detection {
	if det := d.checkConsecutive(); det != nil {
		return det
	}
	return d.checkAlternating()
}

// checkConsecutive looks for a trailing run of identical calls
func (d *Detector) checkConsecutive() *Detection {
	n := len(d.history)
	if n < consecutiveThreshold {
		return nil
	}

	last := d.history[n-1]
	count := 1
	for i := n - 2; i >= 0 && d.history[i].same(last); i-- {
		count++
	}

	if count >= consecutiveThreshold {
		return &Detection{ToolName: last.toolName, Pattern: "consecutive", Count: count}
	}
	return nil
}

// checkAlternating looks for a trailing A-B-A-B pattern
func (d *Detector) checkAlternating() *Detection {
	n := len(d.history)
	if n < alternatingThreshold {
		return nil
	}

	a, b := d.history[n-1], d.history[n-2]
	if a.same(b) {
		return nil
	}
	if a.same(d.history[n-3]) && b.same(d.history[n-4]) {
		return &Detection{ToolName: a.toolName, Pattern: "alternating", Count: alternatingThreshold}
	}
	return nil
}

// hashInput fingerprints tool arguments. The JSON is normalized first
// so formatting differences cannot hide a repeat.
func hashInput(input json.RawMessage) string {
	var value interface{}
	if err := json.Unmarshal(input, &value); err == nil {
		if normalized, err := json.Marshal(value); err == nil {
			return fmt.Sprintf("%x", md5.Sum(normalized))
		}
	}
	return fmt.Sprintf("%x", md5.Sum(input))
}
