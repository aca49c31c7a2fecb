package notify

import (
	"fmt"
	"strings"
	"time"
)

const genericGreeting = "Hi,"

// Compose renders the notification for one resolved run. Pure: identical
// metadata yields byte-identical subject and body on every call, which is
// what lets the dispatcher key its dedup guard on the run id alone.
func Compose(md *RunMetadata) ComposedMessage {
	subject := fmt.Sprintf("Sequencing run %s finished: data ready for download", md.RunID)

	var b strings.Builder
	b.WriteString(genericGreeting)
	b.WriteString("\n\n")
	b.WriteString(factsSection(md))

	recipients := make([]Recipient, len(md.Recipients))
	copy(recipients, md.Recipients)

	return ComposedMessage{
		RunID:      md.RunID,
		Subject:    subject,
		Body:       b.String(),
		Recipients: recipients,
	}
}

// PersonalBody returns the body with a salutation for one recipient.
// Deterministic; recipients without a display name get the generic
// greeting. The facts below the greeting are identical for everyone.
func (m ComposedMessage) PersonalBody(r Recipient) string {
	if r.DisplayName == "" {
		return m.Body
	}
	rest := strings.TrimPrefix(m.Body, genericGreeting)
	return "Hi " + r.DisplayName + "," + rest
}

// factsSection renders everything below the greeting: what finished, where
// to download it, checksums, and how long the links stay valid.
func factsSection(md *RunMetadata) string {
	var b strings.Builder

	if md.Group != "" {
		fmt.Fprintf(&b, "a new sequencing run has been completed for group %s at the Genomics Core Facility.\n\n", md.Group)
	} else {
		b.WriteString("a new sequencing run has been completed at the Genomics Core Facility.\n\n")
	}
	fmt.Fprintf(&b, "Run:       %s\n", md.RunID)
	fmt.Fprintf(&b, "Completed: %s\n\n", md.CompletedAt.UTC().Format(time.RFC3339))

	b.WriteString("You can download the data here:\n\n")
	for _, f := range md.Files {
		fmt.Fprintf(&b, "  %s: %s\n", f.LogicalName, f.Location)
		if f.Checksum != "" {
			fmt.Fprintf(&b, "    md5sum=%s\n", f.Checksum)
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "The download links will expire in %d days.\n\n", md.ExpiryDays)
	b.WriteString("Best of luck!\n")

	return b.String()
}
