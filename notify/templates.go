package notify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"forumlinkbot/pkg/forumlink"
)

const (
	previewLength = 200 // runes
	ellipsis      = "…"
	noText        = "*no text*"

	colorNewThread = 0x00FF99
	colorReply     = 0x00BFFF
)

// RenderNewThread builds the "thread opened" notice.
func RenderNewThread(ev *forumlink.ThreadCreated) *forumlink.Notification {
	n := &forumlink.Notification{
		Title:       "New forum thread",
		Description: fmt.Sprintf("**%s**\n[Open thread](%s)", ev.Title, ev.Permalink),
		URL:         ev.Permalink,
		Color:       colorNewThread,
	}
	if ev.AuthorDisplayName != "" {
		n.Footer = "Started by " + ev.AuthorDisplayName
	}
	return n
}

// RenderReply builds the notice for a reply in a followed thread. mentions
// are pinged in the message content, outside the embed.
func RenderReply(ev *forumlink.MessagePosted, mentions []forumlink.ID) *forumlink.Notification {
	name := ev.ThreadName
	if name == "" {
		name = "thread"
	}
	return &forumlink.Notification{
		Content:      MentionRoles(mentions),
		Title:        "New reply in followed thread",
		Description:  fmt.Sprintf("[%s](%s)", name, ev.Permalink),
		URL:          ev.Permalink,
		Color:        colorReply,
		MentionRoles: append([]forumlink.ID(nil), mentions...),
		Fields: []forumlink.Field{
			{Name: "Author", Value: fmt.Sprintf("<@%s>", ev.AuthorID), Inline: true},
			{Name: "Preview", Value: Preview(ev.Content)},
		},
	}
}

// MentionRoles formats role ids as space separated role mentions.
func MentionRoles(roles []forumlink.ID) string {
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		parts = append(parts, fmt.Sprintf("<@&%s>", r))
	}
	return strings.Join(parts, " ")
}

// Preview shortens message content for display.
func Preview(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return noText
	}
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return strings.TrimRightFunc(string(runes[:previewLength]), isSpace) + ellipsis
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
