package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/oddsfeed-client/internal/recovery"
)

// FormatStatusTitle creates the notification title for a status change.
func FormatStatusTitle(e recovery.StatusChanged) string {
	switch e.New {
	case recovery.FatalError:
		return fmt.Sprintf("Producer %s cannot recover", e.ProducerName)
	case recovery.Completed:
		return fmt.Sprintf("Producer %s recovered", e.ProducerName)
	default:
		return fmt.Sprintf("Producer %s is down", e.ProducerName)
	}
}

// FormatStatusMessage creates a status change notification body.
func FormatStatusMessage(e recovery.StatusChanged) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Producer: %d (%s)\n", e.ProducerID, e.ProducerName))
	sb.WriteString(fmt.Sprintf("Status: %s -> %s\n", e.Old, e.New))
	if e.RequestID != nil {
		sb.WriteString(fmt.Sprintf("Request: %d\n", *e.RequestID))
	}
	sb.WriteString(fmt.Sprintf("At: %s", e.At.UTC().Format(time.RFC3339)))

	if e.New == recovery.FatalError {
		sb.WriteString("\n\nRecovery window exceeded. Restart the client after fixing the cause.")
	}

	return sb.String()
}
