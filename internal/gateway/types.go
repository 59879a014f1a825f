package gateway

import (
	"encoding/json"
)

type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Customisations struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Logo        string `json:"logo"`
}

// PaymentRequest is the body of a hosted checkout initialisation.
type PaymentRequest struct {
	TxRef          string         `json:"tx_ref"`
	Amount         string         `json:"amount"`
	Currency       string         `json:"currency"`
	RedirectURL    string         `json:"redirect_url"`
	PaymentOptions string         `json:"payment_options"`
	Customer       Customer       `json:"customer"`
	Customisations Customisations `json:"customisations"`
}

type InitiateResult struct {
	Link string
}

type VerifyResult struct {
	// Status is the top level API status, "success" when the lookup worked.
	Status  string
	Message string
	// TxRef is the reference echoed back for the transaction.
	TxRef         string
	TransactionID string
	Amount        json.Number
	Currency      string
	// DataStatus is the transaction's own status, e.g. "successful".
	DataStatus string
	// Data is the raw transaction object.
	Data json.RawMessage
	// Raw is the full response body.
	Raw json.RawMessage
}

// Verified reports whether the gateway confirmed the transaction for txRef.
func (r *VerifyResult) Verified(txRef string) bool {
	return r != nil && r.Status == "success" && txRef != "" && r.TxRef == txRef
}

type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initiateData struct {
	Link string `json:"link"`
}

type transactionData struct {
	ID       json.Number `json:"id"`
	TxRef    string      `json:"tx_ref"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	Status   string      `json:"status"`
}
