package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), shortID())
}

// TransactionNumber builds a human-readable invoice number such as
// TXN-20261019-4F2A9C1B. The suffix comes from a random UUID, so numbers
// generated in the same second do not collide.
func TransactionNumber(at time.Time) string {
	return fmt.Sprintf("TXN-%s-%s", at.UTC().Format("20060102"), strings.ToUpper(shortID()))
}

func shortID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}
