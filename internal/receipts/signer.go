package receipts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/farellandr/quariarbox/internal/helpers"
)

var ErrInvalidToken = errors.New("invalid receipt token")

// Signer produces the tamper evident token encoded in a receipt's QR code.
type Signer struct {
	secret string
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: secret}
}

func (s *Signer) Token(number, txRef string) string {
	data := fmt.Sprintf("receipt:%s;tx_ref:%s", number, txRef)
	return data + ";signature:" + helpers.GenerateSignature(s.secret, data)
}

// Parse checks the token signature and returns the receipt number and tx_ref it carries.
func (s *Signer) Parse(token string) (number, txRef string, err error) {
	parts := strings.Split(token, ";")
	if len(parts) != 3 ||
		!strings.HasPrefix(parts[0], "receipt:") ||
		!strings.HasPrefix(parts[1], "tx_ref:") ||
		!strings.HasPrefix(parts[2], "signature:") {
		return "", "", ErrInvalidToken
	}

	data := parts[0] + ";" + parts[1]
	if !helpers.ValidateSignature(s.secret, data, strings.TrimPrefix(parts[2], "signature:")) {
		return "", "", ErrInvalidToken
	}
	return strings.TrimPrefix(parts[0], "receipt:"), strings.TrimPrefix(parts[1], "tx_ref:"), nil
}
