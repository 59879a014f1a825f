package payments

import (
	"strings"

	"github.com/google/uuid"
)

const (
	TxRefPrefix = "QBX-"
	TxRefLength = len(TxRefPrefix) + 10

	maxTxRefAttempts = 5
)

// NewTxRef returns a fresh merchant reference: QBX- followed by 10 uppercase hex chars.
func NewTxRef() string {
	return TxRefPrefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
}
