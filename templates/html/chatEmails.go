package templates

import (
	"fmt"
	"strings"

	"github.com/aett-tours/tours-api/models"
)

// RenderNewChatSessionEmail builds the operator alert sent when a guest opens
// a chat. It returns the subject, the HTML body and the plain text body.
func RenderNewChatSessionEmail(session models.ChatSession, dashboardURL string) (string, string, string) {
	guest := session.GuestName
	if guest == "" {
		guest = "A website guest"
	}
	subject := fmt.Sprintf("New chat from %s", guest)

	var b strings.Builder
	fmt.Fprintf(&b, "%s started a conversation on the website.\n\n", guest)
	fmt.Fprintf(&b, "Session: %s\n", session.ID)
	if session.GuestEmail != "" {
		fmt.Fprintf(&b, "Contact: %s\n", session.GuestEmail)
	}
	fmt.Fprintf(&b, "Started: %s UTC\n", session.CreatedAt.UTC().Format("2006-01-02 15:04"))
	if dashboardURL != "" {
		fmt.Fprintf(&b, "\nReply from the dashboard: %s/admin\n", strings.TrimRight(dashboardURL, "/"))
	}
	plainText := b.String()

	return subject, RenderGenericEmail(subject, plainText), plainText
}
