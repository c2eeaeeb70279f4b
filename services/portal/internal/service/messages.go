package service

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yassinboulabiar13-svg/smart-event-app/libs/notify"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/storage"
)

const (
	notifyVerificationCode = "verification_code"
	notifyInvitation       = "invitation"
	notifyRSVPConfirmation = "rsvp_confirmation"
)

var (
	codeHTML = template.Must(template.New("code").Parse(
		`<p>Your verification code is <strong>{{.Code}}</strong>.</p>` +
			`<p>It expires in {{.Minutes}} minutes. If you did not try to sign in, you can ignore this email.</p>`))
	invitationHTML = template.Must(template.New("invitation").Parse(
		`<p>You are invited to <strong>{{.Title}}</strong> on {{.When}}{{if .Location}} at {{.Location}}{{end}}.</p>` +
			`<p><a href="{{.Link}}">Reply to the invitation</a></p>`))
	confirmationHTML = template.Must(template.New("confirmation").Parse(
		`<p>Your reply to <strong>{{.Title}}</strong> on {{.When}} was recorded: {{.Status}}.</p>`))
)

func renderHTML(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}

func formatWhen(t time.Time) string {
	return t.UTC().Format("Mon 2 Jan 2006 15:04 MST")
}

func verificationCodeMessage(to, code string, ttl time.Duration) notify.Message {
	minutes := int(ttl.Minutes())
	return notify.Message{
		To:      to,
		Subject: "Your verification code",
		Text:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes),
		HTML:    renderHTML(codeHTML, map[string]any{"Code": code, "Minutes": minutes}),
	}
}

func invitationMessage(to string, ev *storage.Event, link string) notify.Message {
	when := formatWhen(ev.StartsAt)
	var text strings.Builder
	fmt.Fprintf(&text, "You are invited to %s on %s", ev.Title, when)
	if ev.Location != "" {
		fmt.Fprintf(&text, " at %s", ev.Location)
	}
	fmt.Fprintf(&text, ".\nReply here: %s\n", link)
	return notify.Message{
		To:      to,
		Subject: "Invitation: " + oneLine(ev.Title),
		Text:    text.String(),
		HTML: renderHTML(invitationHTML, map[string]any{
			"Title": ev.Title, "When": when, "Location": ev.Location, "Link": link,
		}),
	}
}

func confirmationMessage(to string, ev *storage.Event, status storage.InvitationStatus) notify.Message {
	when := formatWhen(ev.StartsAt)
	return notify.Message{
		To:      to,
		Subject: "Reply recorded: " + oneLine(ev.Title),
		Text:    fmt.Sprintf("Your reply to %s on %s was recorded: %s.", ev.Title, when, status),
		HTML:    renderHTML(confirmationHTML, map[string]any{"Title": ev.Title, "When": when, "Status": string(status)}),
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
