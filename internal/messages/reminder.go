// Package messages renders reminder payloads and chat replies.
package messages

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"reminder-service/internal/models"
	"reminder-service/internal/reminder"
)

const descriptionLimit = 100

var weekdays = [...]string{"日", "月", "火", "水", "木", "金", "土"}

// Renderer builds Telegram HTML messages for reminders.
type Renderer struct {
	loc *time.Location
}

func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{loc: loc}
}

// Headline returns the lead sentence for a reminder kind.
func Headline(kind models.ReminderKind) string {
	switch kind {
	case reminder.Kind1Day:
		return "明日開催予定のイベントです"
	case reminder.Kind3Hours:
		return "3時間後に開催予定のイベントです"
	case reminder.Kind1Hour:
		return "1時間後に開催予定のイベントです"
	case reminder.Kind30Minutes:
		return "30分後に開催予定のイベントです"
	default:
		return "イベントのお知らせ"
	}
}

func (r *Renderer) Reminder(event models.Event, kind models.ReminderKind) models.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 <b>%s</b>\n\n", html.EscapeString(Headline(kind)))
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(event.Title))
	if event.Catch != "" {
		fmt.Fprintf(&b, "%s\n", html.EscapeString(event.Catch))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "📅 %s\n", r.FormatDate(event.StartTime))
	fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(location(event)))
	fmt.Fprintf(&b, "👥 %s\n", participants(event))
	if event.OwnerNickname != "" {
		fmt.Fprintf(&b, "👤 %s\n", html.EscapeString(event.OwnerNickname))
	}
	if desc := Truncate(plain(event.Description), descriptionLimit); desc != "" {
		fmt.Fprintf(&b, "\n%s\n", html.EscapeString(desc))
	}

	msg := models.Message{Text: strings.TrimRight(b.String(), "\n"), ParseMode: "HTML"}
	if event.URL != "" {
		msg.Buttons = append(msg.Buttons, models.LinkButton{Label: "イベントページを開く", URL: event.URL})
	}
	msg.Buttons = append(msg.Buttons, models.LinkButton{Label: "カレンダーに追加", URL: CalendarURL(event)})
	return msg
}

// FormatDate renders t like "2024年6月1日(土) 19:00" in the renderer's zone.
func (r *Renderer) FormatDate(t time.Time) string {
	t = t.In(r.loc)
	return fmt.Sprintf("%d年%d月%d日(%s) %02d:%02d",
		t.Year(), int(t.Month()), t.Day(), weekdays[t.Weekday()], t.Hour(), t.Minute())
}

// CalendarURL returns a Google Calendar template link for the event.
func CalendarURL(event models.Event) string {
	end := event.EndTime
	if end.IsZero() || end.Before(event.StartTime) {
		end = event.StartTime.Add(time.Hour)
	}
	const layout = "20060102T150405Z"
	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", event.Title)
	q.Set("dates", event.StartTime.UTC().Format(layout)+"/"+end.UTC().Format(layout))
	q.Set("details", strings.TrimSpace(Truncate(plain(event.Description), descriptionLimit)+"\n"+event.URL))
	q.Set("location", location(event))
	return "https://calendar.google.com/calendar/render?" + q.Encode()
}

// Truncate shortens s to at most limit runes, marking the cut with "...".
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

func location(event models.Event) string {
	if event.Location == "" {
		return "オンライン"
	}
	if event.Address != "" {
		return event.Location + " (" + event.Address + ")"
	}
	return event.Location
}

func participants(event models.Event) string {
	limit := "∞"
	if event.Limit > 0 {
		limit = fmt.Sprintf("%d", event.Limit)
	}
	s := fmt.Sprintf("%d/%s人", event.Accepted, limit)
	if event.Waiting > 0 {
		s += fmt.Sprintf(" (補欠 %d人)", event.Waiting)
	}
	return s
}

// plain strips HTML tags from connpass descriptions.
func plain(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(html.UnescapeString(b.String())), " ")
}
