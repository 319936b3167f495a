package presence

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/borderwatch/borderwatch/borderd/notifications"
	"github.com/borderwatch/borderwatch/borderd/residency"
	"github.com/borderwatch/borderwatch/borderd/world"
)

const (
	NoticeTitle = "Player entered territory"
	NoticeColor = 0x3b82f6

	// TimeSpentField is the index of the field rewritten on finalize.
	TimeSpentField = 4

	TimeSpentPlaceholder = "This will be edited when they exit"

	// SummaryAttachment is the file name of the rendered journey.
	SummaryAttachment = "journey.png"
)

// noticeMessage builds the initial notification for an occupant entering
// territory t.
func (e *Engine) noticeMessage(t world.Territory, o world.Occupant, res residency.Residency, resident bool) notifications.Message {
	likely := "Unknown"
	if resident {
		affiliation := res.Affiliation
		if affiliation == "" {
			affiliation = "None"
		}
		likely = fmt.Sprintf("%s (%s)", res.Territory, affiliation)
	}

	msg := notifications.Message{
		Title: NoticeTitle,
		Color: NoticeColor,
		Fields: []notifications.Field{
			{Name: "Player name", Value: notifications.EscapeMarkdown(o.Name), Inline: true},
			{Name: "Coordinates", Value: e.coordinates(o), Inline: true},
			{Name: "Town", Value: t.Name, Inline: true},
			{Name: "Likely residency", Value: likely, Inline: true},
			{Name: "Time spent", Value: TimeSpentPlaceholder, Inline: true},
		},
	}
	if e.opts.FaceURL != "" {
		msg.ThumbnailURL = strings.TrimSuffix(e.opts.FaceURL, "/") + "/" + url.PathEscape(o.Name)
	}
	return msg
}

// coordinates renders the block position, linked to the web map when one
// is configured.
func (e *Engine) coordinates(o world.Occupant) string {
	x, y, z := int(o.Position.X), int(o.Position.Y), int(o.Position.Z)
	text := fmt.Sprintf("[%d, %d, %d]", x, y, z)
	if e.opts.MapURL == "" {
		return text
	}
	q := url.Values{}
	q.Set("x", fmt.Sprint(x))
	q.Set("z", fmt.Sprint(z))
	q.Set("zoom", fmt.Sprint(e.opts.MapZoom))
	return fmt.Sprintf("%s(%s?%s)", text, e.opts.MapURL, q.Encode())
}

// TimeSpent is the finalized value of the time spent field.
func TimeSpent(d time.Duration) string {
	return "In territory for " + FormatDuration(d)
}

// FormatDuration spells out d in days, hours, minutes and seconds, omitting
// zero units.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}
	units := []struct {
		name string
		size time.Duration
	}{
		{"day", 24 * time.Hour},
		{"hour", time.Hour},
		{"minute", time.Minute},
		{"second", time.Second},
	}
	parts := make([]string, 0, len(units))
	for _, u := range units {
		n := int64(d / u.size)
		if n == 0 {
			continue
		}
		d -= time.Duration(n) * u.size
		name := u.name
		if n != 1 {
			name += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, name))
	}
	return strings.Join(parts, " ")
}
