package mapping

import (
	"strings"
)

// Verb is the direction prefix of an abstract command key
type Verb string

const (
	VerbGet Verb = "GET"
	VerbSet Verb = "SET"
)

const (
	hourSuffix   = "_HOUR"
	minuteSuffix = "_MINUTE"
)

// Command is an abstract command key classified against a device type.
// It is either a PlainCommand or a TimeCommand.
type Command interface {
	Key() string
	Verb() Verb
	Base() string
	isCommand()
}

// PlainCommand maps to exactly one transaction
type PlainCommand struct {
	key  string
	verb Verb
	base string
}

// Key returns the full command key, e.g. GET_CUR_TEMP
func (c PlainCommand) Key() string { return c.key }

// Verb returns GET or SET
func (c PlainCommand) Verb() Verb { return c.verb }

// Base returns the key without its verb prefix
func (c PlainCommand) Base() string { return c.base }

func (PlainCommand) isCommand() {}

// TimeCommand is a time-of-day value split over an HOUR and a MINUTE
// register; both sub-commands must succeed for the command to succeed
type TimeCommand struct {
	key  string
	verb Verb
	base string
}

// Key returns the full command key, e.g. SET_START_TIME_1
func (c TimeCommand) Key() string { return c.key }

// Verb returns GET or SET
func (c TimeCommand) Verb() Verb { return c.verb }

// Base returns the key without its verb prefix
func (c TimeCommand) Base() string { return c.base }

// HourKey returns the HOUR sub-command key
func (c TimeCommand) HourKey() string { return c.key + hourSuffix }

// MinuteKey returns the MINUTE sub-command key
func (c TimeCommand) MinuteKey() string { return c.key + minuteSuffix }

// SubKeys returns the sub-command keys in execution order
func (c TimeCommand) SubKeys() []string { return []string{c.HourKey(), c.MinuteKey()} }

func (TimeCommand) isCommand() {}

// SplitKey separates the verb prefix from a command key
func SplitKey(key string) (Verb, string, bool) {
	switch {
	case strings.HasPrefix(key, "GET_") && len(key) > 4:
		return VerbGet, key[4:], true
	case strings.HasPrefix(key, "SET_") && len(key) > 4:
		return VerbSet, key[4:], true
	}
	return "", "", false
}

// TimeHalf identifies which half of a time field a sub-command touches
type TimeHalf int

const (
	HalfNone TimeHalf = iota
	HalfHour
	HalfMinute
)

// String returns the field-name suffix of the half
func (h TimeHalf) String() string {
	switch h {
	case HalfHour:
		return "hour"
	case HalfMinute:
		return "minute"
	default:
		return ""
	}
}

// Sibling returns the other half
func (h TimeHalf) Sibling() TimeHalf {
	switch h {
	case HalfHour:
		return HalfMinute
	case HalfMinute:
		return HalfHour
	default:
		return HalfNone
	}
}

// splitHalf strips an _HOUR or _MINUTE suffix from a base
func splitHalf(base string) (string, TimeHalf) {
	switch {
	case strings.HasSuffix(base, hourSuffix):
		return strings.TrimSuffix(base, hourSuffix), HalfHour
	case strings.HasSuffix(base, minuteSuffix):
		return strings.TrimSuffix(base, minuteSuffix), HalfMinute
	}
	return base, HalfNone
}
