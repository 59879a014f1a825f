package payments

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"gorm.io/gorm"

	"github.com/farellandr/quariarbox/internal/models"
	"github.com/farellandr/quariarbox/internal/notify"
	"github.com/farellandr/quariarbox/internal/outbox"
)

var emailText = texttemplate.Must(texttemplate.New("payment_success.txt").Parse(`Hello {{.Name}},

We have received your payment of {{.Currency}} {{.Amount}} for shipment {{.Tracking}}.

Reference: {{.TxRef}}
{{- if .ReceiptNumber}}
Receipt: {{.ReceiptNumber}}
{{- end}}
From: {{.Origin}}
To: {{.Destination}}

Your shipment is now awaiting courier assignment. Track it here:
{{.ShipmentURL}}

Thank you for shipping with {{.Company}}.
`))

var emailHTML = htmltemplate.Must(htmltemplate.New("payment_success.html").Parse(`<!DOCTYPE html>
<html><body style="font-family:Helvetica,Arial,sans-serif;color:#222">
<h2 style="color:#0b5ed7">Payment received</h2>
<p>Hello {{.Name}},</p>
<p>We have received your payment of <strong>{{.Currency}} {{.Amount}}</strong> for shipment <strong>{{.Tracking}}</strong>.</p>
<table cellpadding="4">
<tr><td>Reference</td><td>{{.TxRef}}</td></tr>
{{if .ReceiptNumber}}<tr><td>Receipt</td><td><a href="{{.ReceiptURL}}">{{.ReceiptNumber}}</a></td></tr>{{end}}
<tr><td>From</td><td>{{.Origin}}</td></tr>
<tr><td>To</td><td>{{.Destination}}</td></tr>
</table>
<p><a href="{{.ShipmentURL}}">View your shipment</a></p>
<p>Thank you for shipping with {{.Company}}.</p>
</body></html>
`))

type emailData struct {
	Name          string
	Company       string
	Currency      string
	Amount        string
	Tracking      string
	TxRef         string
	ReceiptNumber string
	ReceiptURL    string
	Origin        string
	Destination   string
	ShipmentURL   string
}

func (s *Service) shipmentURL(payment *models.Payment) string {
	return s.cfg.SiteURL + "/v1/shipments/" + payment.ShipmentID.String()
}

func (s *Service) receiptURL(payment *models.Payment) string {
	return s.cfg.SiteURL + "/v1/payments/receipts/" + payment.ShipmentID.String() + "/download"
}

// enqueuePaid queues the side effects of the first transition into PAID.
func (s *Service) enqueuePaid(tx *gorm.DB, payment *models.Payment, receipt *models.Receipt) error {
	tracking := payment.Shipment.TrackingNumber

	payerLink := s.shipmentURL(payment)
	if receipt != nil {
		payerLink = s.receiptURL(payment)
	}
	err := outbox.Enqueue(tx, payment.ID, models.OutboxNotification, payment.UserID.String(), notify.NotificationPayload{
		RecipientID: payment.UserID,
		Message:     "Payment was successful click to view receipt",
		Link:        payerLink,
	})
	if err != nil {
		return err
	}

	var admins []models.User
	err = tx.Joins("JOIN roles ON roles.id = users.role_id").
		Where("roles.name = ?", models.RoleAdmin).
		Find(&admins).Error
	if err != nil {
		return fmt.Errorf("load admins: %w", err)
	}
	for _, admin := range admins {
		err := outbox.Enqueue(tx, payment.ID, models.OutboxNotification, admin.ID.String(), notify.NotificationPayload{
			RecipientID: admin.ID,
			Message:     fmt.Sprintf("customer has paid for shipment %s and is ready for courier assignment", tracking),
			Link:        s.shipmentURL(payment),
		})
		if err != nil {
			return err
		}
	}

	email, err := s.confirmationEmail(payment, receipt)
	if err != nil {
		return err
	}
	if err := outbox.Enqueue(tx, payment.ID, models.OutboxEmail, payment.User.Email, email); err != nil {
		return err
	}

	return s.enqueueStatus(tx, payment, receipt)
}

// enqueueReceiptIssued tells the payer about a receipt issued after the
// payment had already settled.
func (s *Service) enqueueReceiptIssued(tx *gorm.DB, payment *models.Payment, receipt *models.Receipt) error {
	err := outbox.Enqueue(tx, payment.ID, models.OutboxNotification, payment.UserID.String(), notify.NotificationPayload{
		RecipientID: payment.UserID,
		Message:     fmt.Sprintf("Receipt %s is ready click to view receipt", receipt.ReceiptNumber),
		Link:        s.receiptURL(payment),
	})
	if err != nil {
		return err
	}

	email, err := s.confirmationEmail(payment, receipt)
	if err != nil {
		return err
	}
	email.Subject = fmt.Sprintf("Receipt %s - Shipment %s", receipt.ReceiptNumber, payment.Shipment.TrackingNumber)
	return outbox.Enqueue(tx, payment.ID, models.OutboxEmail, payment.User.Email, email)
}

// enqueueFailed queues the side effects of a transition into FAILED. Failures
// send no email.
func (s *Service) enqueueFailed(tx *gorm.DB, payment *models.Payment) error {
	err := outbox.Enqueue(tx, payment.ID, models.OutboxNotification, payment.UserID.String(), notify.NotificationPayload{
		RecipientID: payment.UserID,
		Message:     fmt.Sprintf("Payment for shipment %s Failed!!", payment.Shipment.TrackingNumber),
		Link:        s.shipmentURL(payment),
	})
	if err != nil {
		return err
	}
	return s.enqueueStatus(tx, payment, nil)
}

func (s *Service) enqueueStatus(tx *gorm.DB, payment *models.Payment, receipt *models.Receipt) error {
	event := notify.PaymentStatusEvent{
		PaymentID:  payment.ID,
		ShipmentID: payment.ShipmentID,
		UserID:     payment.UserID,
		TxRef:      payment.TxRef,
		Amount:     payment.Amount.StringFixed(2),
		Status:     string(payment.Status),
		Timestamp:  payment.UpdatedAt.UTC(),
	}
	if payment.TransactionID != nil {
		event.TransactionID = *payment.TransactionID
	}
	if receipt != nil {
		event.ReceiptNumber = receipt.ReceiptNumber
	}
	return outbox.Enqueue(tx, payment.ID, models.OutboxPaymentStatus, string(payment.Status), event)
}

func (s *Service) confirmationEmail(payment *models.Payment, receipt *models.Receipt) (notify.EmailPayload, error) {
	data := emailData{
		Name:        payment.User.DisplayName(),
		Company:     s.cfg.Title,
		Currency:    s.cfg.Currency,
		Amount:      payment.Amount.StringFixed(2),
		Tracking:    payment.Shipment.TrackingNumber,
		TxRef:       payment.TxRef,
		Origin:      payment.Shipment.OriginAddress,
		Destination: payment.Shipment.DestinationAddress,
		ShipmentURL: s.shipmentURL(payment),
	}
	if receipt != nil {
		data.ReceiptNumber = receipt.ReceiptNumber
		data.ReceiptURL = s.receiptURL(payment)
	}

	var text, html bytes.Buffer
	if err := emailText.Execute(&text, data); err != nil {
		return notify.EmailPayload{}, fmt.Errorf("render confirmation email: %w", err)
	}
	if err := emailHTML.Execute(&html, data); err != nil {
		return notify.EmailPayload{}, fmt.Errorf("render confirmation email: %w", err)
	}

	return notify.EmailPayload{
		To:      []string{payment.User.Email},
		Subject: fmt.Sprintf("Payment Confirmation - Shipment %s", payment.Shipment.TrackingNumber),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
