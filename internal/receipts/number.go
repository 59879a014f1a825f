package receipts

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewNumber returns a receipt number of the form RCP-<UTC yyyymmddhhmmss>-<6 hex>.
func NewNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return "RCP-" + now.UTC().Format("20060102150405") + "-" + suffix
}
