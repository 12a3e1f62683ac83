package notifications

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/pocketd/internal/models"
)

// flagOngoing is Notification.FLAG_ONGOING_EVENT.
const flagOngoing = 0x02

var (
	recordSplitRe = regexp.MustCompile(`\s{4}NotificationRecord\(`)
	keyRe         = regexp.MustCompile(`key=(\S+)`)
	pkgRe         = regexp.MustCompile(`pkg=(\S+)`)
	titleRe       = regexp.MustCompile(`android\.title=([^\n]*)`)
	textRe        = regexp.MustCompile(`android\.text=([^\n]*)`)
	subTextRe     = regexp.MustCompile(`android\.subText=([^\n]*)`)
	whenRe        = regexp.MustCompile(`when=(\d+)`)
	flagsRe       = regexp.MustCompile(`flags=0x([0-9a-f]+)`)
	actionTitleRe = regexp.MustCompile(`title="([^"]+)"`)
	actionIndexRe = regexp.MustCompile(`\[\d+\]\s+"([^"]+)"`)
)

// ParseDump extracts displayed notifications from the output of
// `dumpsys notification --noredact`. Sections it cannot make sense of yield
// a record with empty fields rather than an error.
func ParseDump(dump string) []models.NotificationEvent {
	sections := recordSplitRe.Split(dump, -1)
	if len(sections) < 2 {
		return nil
	}

	events := make([]models.NotificationEvent, 0, len(sections)-1)
	for _, section := range sections[1:] {
		events = append(events, parseRecord(section))
	}
	return events
}

func parseRecord(section string) models.NotificationEvent {
	ev := models.NotificationEvent{
		PackageName: submatch(pkgRe, section),
		Title:       strings.TrimSpace(submatch(titleRe, section)),
		Text:        strings.TrimSpace(submatch(textRe, section)),
		SubText:     strings.TrimSpace(submatch(subTextRe, section)),
		Actions:     []string{},
	}

	var when string
	if when = submatch(whenRe, section); when != "" {
		if ms, err := strconv.ParseInt(when, 10, 64); err == nil && ms > 0 {
			ev.PostedAt = time.UnixMilli(ms)
		}
	}

	ev.Key = strings.TrimSuffix(submatch(keyRe, section), ":")
	if ev.Key == "" {
		// Stable across polls so an unkeyed record is not re-announced.
		ev.Key = "unknown-" + ev.PackageName + "-" + when
	}

	var flags int64
	if hex := submatch(flagsRe, section); hex != "" {
		flags, _ = strconv.ParseInt(hex, 16, 64)
	}
	ev.IsOngoing = flags&flagOngoing != 0
	ev.IsClearable = !ev.IsOngoing

	if raw := actionsBlock(section); raw != "" {
		matches := actionTitleRe.FindAllStringSubmatch(raw, -1)
		if len(matches) == 0 {
			matches = actionIndexRe.FindAllStringSubmatch(raw, -1)
		}
		for _, m := range matches {
			ev.Actions = append(ev.Actions, m[1])
		}
	}
	return ev
}

// actionsBlock returns the body of the balanced actions={...} block.
func actionsBlock(section string) string {
	start := strings.Index(section, "actions={")
	if start < 0 {
		return ""
	}
	start += len("actions={")

	depth := 1
	for i := start; i < len(section); i++ {
		switch section[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return section[start:i]
			}
		}
	}
	return section[start:]
}

func submatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}
