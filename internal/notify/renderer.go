package notify

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/spec-kit/helpdesk-service/internal/events"
)

// Data is the template context of one email.
type Data struct {
	RecipientName string
	ActorName     string
	Number        string
	Title         string
	Priority      string
	Reason        string
	Resolution    string
	Link          string
}

// Email is a rendered message ready for a Mailer.
type Email struct {
	To       string
	ToName   string
	Subject  string
	Text     string
	HTML     string
	Trigger  events.EventType
	TicketID string
}

type template struct {
	subject *pongo2.Template
	body    *pongo2.Template
}

var defaultTemplates = map[events.EventType][2]string{
	events.EventTicketCreated: {
		"New ticket {{ number }}: {{ title }}",
		"Hello {{ recipient }},\n\nA new ticket was submitted by **{{ actor }}** and is waiting for triage.\n\n" +
			"- Ticket: **{{ number }}**\n- Title: {{ title }}\n- Priority: {{ priority }}\n\n[Open the ticket]({{ link }})\n",
	},
	events.EventTicketAssigned: {
		"Ticket {{ number }} assigned",
		"Hello {{ recipient }},\n\nTicket **{{ number }}** ({{ title }}) was assigned by {{ actor }}.\n\n" +
			"- Priority: {{ priority }}\n\n[Open the ticket]({{ link }})\n",
	},
	events.EventTicketDelegated: {
		"Ticket {{ number }} delegated to you",
		"Hello {{ recipient }},\n\n{{ actor }} delegated ticket **{{ number }}** ({{ title }}) to you. " +
			"Please pick a technician for it.\n\n[Open the ticket]({{ link }})\n",
	},
	events.EventTicketResolved: {
		"Ticket {{ number }} resolved",
		"Hello {{ recipient }},\n\nYour ticket **{{ number }}** ({{ title }}) was resolved by {{ actor }}.\n\n" +
			"> {{ resolution }}\n\nPlease validate the resolution or reject it with a reason.\n\n[Open the ticket]({{ link }})\n",
	},
	events.EventTicketReopened: {
		"Ticket {{ number }} reopened",
		"Hello {{ recipient }},\n\nTicket **{{ number }}** ({{ title }}) was reopened by {{ actor }}.\n\n" +
			"{% if reason %}Reason: {{ reason }}\n\n{% endif %}[Open the ticket]({{ link }})\n",
	},
}

// Renderer turns ticket events into emails. Bodies are markdown; the HTML
// alternative is produced by goldmark and sanitised by bluemonday since it
// embeds text typed by users.
type Renderer struct {
	templates map[events.EventType]template
	markdown  goldmark.Markdown
	policy    *bluemonday.Policy
	baseURL   string
}

// NewRenderer compiles the built-in templates.
func NewRenderer(portalBaseURL string) (*Renderer, error) {
	r := &Renderer{
		templates: make(map[events.EventType]template, len(defaultTemplates)),
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:    bluemonday.UGCPolicy(),
		baseURL:   strings.TrimRight(portalBaseURL, "/"),
	}
	for trigger, src := range defaultTemplates {
		if err := r.Register(trigger, src[0], src[1]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register replaces the subject and body templates of a trigger.
func (r *Renderer) Register(trigger events.EventType, subject, body string) error {
	subjectTpl, err := pongo2.FromString(unescaped(subject))
	if err != nil {
		return fmt.Errorf("compile %s subject: %w", trigger, err)
	}
	bodyTpl, err := pongo2.FromString(unescaped(body))
	if err != nil {
		return fmt.Errorf("compile %s body: %w", trigger, err)
	}
	r.templates[trigger] = template{subject: subjectTpl, body: bodyTpl}
	return nil
}

// Supports reports whether the trigger sends email.
func (r *Renderer) Supports(trigger events.EventType) bool {
	_, ok := r.templates[trigger]
	return ok
}

// TicketLink builds the portal URL of a ticket.
func (r *Renderer) TicketLink(ticketID string) string {
	return r.baseURL + "/tickets/" + ticketID
}

// Render executes the trigger templates. It returns nil when the trigger has
// no template.
func (r *Renderer) Render(trigger events.EventType, data Data) (*Email, error) {
	tpl, ok := r.templates[trigger]
	if !ok {
		return nil, nil
	}
	ctx := pongo2.Context{
		"recipient":  data.RecipientName,
		"actor":      data.ActorName,
		"number":     data.Number,
		"title":      data.Title,
		"priority":   data.Priority,
		"reason":     data.Reason,
		"resolution": data.Resolution,
		"link":       data.Link,
	}
	subject, err := tpl.subject.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("render %s subject: %w", trigger, err)
	}
	text, err := tpl.body.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("render %s body: %w", trigger, err)
	}
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(text), &buf); err != nil {
		return nil, fmt.Errorf("convert %s body: %w", trigger, err)
	}
	return &Email{
		Subject: strings.Join(strings.Fields(subject), " "),
		Text:    text,
		HTML:    r.policy.Sanitize(buf.String()),
		Trigger: trigger,
	}, nil
}

// Markdown is escaped after conversion, not before.
func unescaped(src string) string {
	return "{% autoescape off %}" + src + "{% endautoescape %}"
}
