package payments

import (
	"fmt"

	"github.com/farellandr/quariarbox/internal/gateway"
	"github.com/farellandr/quariarbox/internal/models"
)

const paymentOptions = "card,banktransfer"

// BuildGatewayPayload builds the checkout request for payment. User and
// Shipment must be loaded.
func (s *Service) BuildGatewayPayload(payment *models.Payment) gateway.PaymentRequest {
	return gateway.PaymentRequest{
		TxRef:          payment.TxRef,
		Amount:         payment.Amount.StringFixed(2),
		Currency:       s.cfg.Currency,
		RedirectURL:    s.cfg.SiteURL + "/v1/payments/verify",
		PaymentOptions: paymentOptions,
		Customer: gateway.Customer{
			Email: payment.User.Email,
			Name:  payment.User.DisplayName(),
		},
		Customisations: gateway.Customisations{
			Title:       s.cfg.Title,
			Description: fmt.Sprintf("Payment for shipment %s", payment.Shipment.TrackingNumber),
			Logo:        s.cfg.Logo,
		},
	}
}
