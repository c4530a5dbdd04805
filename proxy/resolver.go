package proxy

import (
	"strings"

	"telegram-plural-proxy-bot/storage"
)

// Resolution is the outcome of matching a raw message against a system's triggers.
// When no trigger matched, Member is the current fronting member and may be nil.
type Resolution struct {
	Member      *storage.Member
	CleanedText string
	Matched     bool
	SwitchFront bool
}

// Resolve maps a raw message to the member it should be attributed to.
// Prefix triggers match the start of the text, suffix triggers the end.
// The longest matching trigger text wins; equal lengths tie-break by the
// lowest trigger id. Triggers of disabled members never match. Resolve is
// pure: it reads the given snapshot and mutates nothing.
func Resolve(system *storage.System, triggers []storage.Trigger, front *storage.Member, text string) Resolution {
	var best *storage.Trigger
	for i := range triggers {
		t := &triggers[i]
		if !t.Member.Enabled {
			continue
		}

		switch t.Kind {
		case storage.TriggerPrefix:
			if !strings.HasPrefix(text, t.Text) {
				continue
			}
		case storage.TriggerSuffix:
			if !strings.HasSuffix(text, t.Text) {
				continue
			}
		default:
			continue
		}

		if best == nil ||
			len(t.Text) > len(best.Text) ||
			(len(t.Text) == len(best.Text) && t.ID < best.ID) {
			best = t
		}
	}

	if best == nil {
		return Resolution{Member: front, CleanedText: text}
	}

	// A prefix strip also eats the whitespace separating the trigger from
	// the content ("s: hello" with prefix "s:" cleans to "hello"). A suffix
	// strip removes the trigger text alone.
	cleaned := text
	if best.Kind == storage.TriggerPrefix {
		cleaned = strings.TrimLeft(strings.TrimPrefix(text, best.Text), " ")
	} else {
		cleaned = strings.TrimSuffix(text, best.Text)
	}

	return Resolution{
		Member:      &best.Member,
		CleanedText: cleaned,
		Matched:     true,
		SwitchFront: system.SwitchOnTrigger,
	}
}
