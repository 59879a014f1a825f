package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/farellandr/quariarbox/internal/models"
	"github.com/farellandr/quariarbox/internal/notify"
	"github.com/farellandr/quariarbox/internal/receipts"
	"github.com/farellandr/quariarbox/internal/testutil"
)

type countingTrigger struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTrigger) Trigger() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	logs     *observer.ObservedLogs
	trigger  *countingTrigger
	owner    *models.User
	shipment *models.Shipment
	payment  *models.Payment
}

func newFixture(t *testing.T, weight string) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	gen := receipts.NewGenerator(db, receipts.Config{Dir: t.TempDir()}, receipts.NewSigner("secret"), logger)
	trigger := &countingTrigger{}
	svc := NewService(db, Config{SiteURL: "https://quariarbox.test"}, gen, trigger, logger)

	owner := testutil.CreateUser(t, db, "ada", models.RoleCustomer)
	shipment := testutil.CreateShipment(t, db, owner, weight)

	var payment *models.Payment
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = svc.CreateForShipment(tx, shipment)
		return err
	})
	if err != nil {
		t.Fatalf("CreateForShipment() error = %v", err)
	}

	return &fixture{db: db, svc: svc, logs: logs, trigger: trigger, owner: owner, shipment: shipment, payment: payment}
}

func (f *fixture) reload(t *testing.T) *models.Payment {
	t.Helper()
	var p models.Payment
	if err := f.db.Where("id = ?", f.payment.ID).Take(&p).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	return &p
}

func (f *fixture) outboxCount(t *testing.T, kind models.OutboxKind) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&models.OutboxMessage{}).Where("kind = ?", kind).Count(&n).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return n
}

func (f *fixture) receiptCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	f.db.Model(&models.Receipt{}).Where("payment_id = ?", f.payment.ID).Count(&n)
	return n
}

func TestAmountForWeight(t *testing.T) {
	tests := []struct {
		weight string
		want   string
	}{
		{"100", "1.00"},
		{"250", "2.50"},
		{"123.45", "1.23"},
		{"0.5", "0.01"},
		{"0", "0.00"},
		{"9999.99", "100.00"},
	}
	for _, tt := range tests {
		t.Run(tt.weight, func(t *testing.T) {
			got := AmountForWeight(decimal.RequireFromString(tt.weight)).StringFixed(2)
			if got != tt.want {
				t.Errorf("AmountForWeight(%s) = %s, want %s", tt.weight, got, tt.want)
			}
		})
	}
}

func TestNewTxRef(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		ref := NewTxRef()
		if !strings.HasPrefix(ref, TxRefPrefix) || len(ref) != TxRefLength || len(ref) != 14 {
			t.Fatalf("NewTxRef() = %q", ref)
		}
		if strings.ToUpper(ref) != ref {
			t.Fatalf("NewTxRef() = %q is not uppercase", ref)
		}
		if seen[ref] {
			t.Fatalf("NewTxRef() repeated %q", ref)
		}
		seen[ref] = true
	}
}

func TestCreateForShipment(t *testing.T) {
	f := newFixture(t, "100")

	p := f.reload(t)
	if p.Status != models.PaymentPending {
		t.Errorf("status = %s, want PENDING", p.Status)
	}
	if p.Amount.StringFixed(2) != "1.00" {
		t.Errorf("amount = %s, want 1.00", p.Amount.StringFixed(2))
	}
	if !strings.HasPrefix(p.TxRef, "QBX-") || len(p.TxRef) != 14 {
		t.Errorf("tx_ref = %q", p.TxRef)
	}
	if p.Method != models.MethodCard || p.UserID != f.owner.ID {
		t.Errorf("method=%s user=%s", p.Method, p.UserID)
	}

	var shipment models.Shipment
	f.db.Where("id = ?", f.shipment.ID).Take(&shipment)
	if shipment.Cost.StringFixed(2) != "1.00" {
		t.Errorf("shipment cost = %s", shipment.Cost.StringFixed(2))
	}

	var again *models.Payment
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		again, err = f.svc.CreateForShipment(tx, f.shipment)
		return err
	})
	if err != nil {
		t.Fatalf("second CreateForShipment() error = %v", err)
	}
	if again.ID != f.payment.ID {
		t.Error("second CreateForShipment() created another payment")
	}
	var count int64
	f.db.Model(&models.Payment{}).Where("shipment_id = ?", f.shipment.ID).Count(&count)
	if count != 1 {
		t.Errorf("payments for shipment = %d, want 1", count)
	}
}

func TestSyncAmount(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	f.shipment.Weight = decimal.RequireFromString("250")
	if err := f.db.Transaction(func(tx *gorm.DB) error { return f.svc.SyncAmount(tx, f.shipment) }); err != nil {
		t.Fatalf("SyncAmount() error = %v", err)
	}
	if got := f.reload(t).Amount.StringFixed(2); got != "2.50" {
		t.Errorf("amount after edit = %s, want 2.50", got)
	}

	if _, err := f.svc.MarkPaid(ctx, f.payment.ID, PaidInput{TransactionID: "1"}); err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	f.shipment.Weight = decimal.RequireFromString("900")
	if err := f.db.Transaction(func(tx *gorm.DB) error { return f.svc.SyncAmount(tx, f.shipment) }); err != nil {
		t.Fatalf("SyncAmount() error = %v", err)
	}
	if got := f.reload(t).Amount.StringFixed(2); got != "2.50" {
		t.Errorf("paid amount changed to %s", got)
	}
}

func TestMarkPaid_FirstTransition(t *testing.T) {
	f := newFixture(t, "100")
	admin1 := testutil.CreateUser(t, f.db, "root", models.RoleAdmin)
	testutil.CreateUser(t, f.db, "ops", models.RoleAdmin)
	testutil.CreateUser(t, f.db, "courier", models.RoleCourier)

	res, err := f.svc.MarkPaid(context.Background(), f.payment.ID, PaidInput{
		TransactionID: "4242",
		Meta:          json.RawMessage(`{"status":"successful"}`),
	})
	if err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	if !res.Changed || res.Previous != models.PaymentPending {
		t.Errorf("Changed=%v Previous=%s", res.Changed, res.Previous)
	}
	if res.Payment.Status != models.PaymentPaid || res.Payment.TransactionID == nil || *res.Payment.TransactionID != "4242" {
		t.Errorf("payment = %+v", res.Payment)
	}
	if res.Receipt == nil || !strings.HasPrefix(res.Receipt.ReceiptNumber, "RCP-") {
		t.Fatalf("receipt = %+v", res.Receipt)
	}

	// payer + two admins
	if n := f.outboxCount(t, models.OutboxNotification); n != 3 {
		t.Errorf("notifications queued = %d, want 3", n)
	}
	if n := f.outboxCount(t, models.OutboxEmail); n != 1 {
		t.Errorf("emails queued = %d, want 1", n)
	}
	if n := f.outboxCount(t, models.OutboxPaymentStatus); n != 1 {
		t.Errorf("status events queued = %d, want 1", n)
	}
	if n := f.outboxCount(t, models.OutboxReceiptRender); n != 1 {
		t.Errorf("render tasks queued = %d, want 1", n)
	}
	if f.trigger.calls != 1 {
		t.Errorf("trigger calls = %d, want 1", f.trigger.calls)
	}

	var adminMsg models.OutboxMessage
	if err := f.db.Where("kind = ? AND msg_key = ?", models.OutboxNotification, admin1.ID.String()).Take(&adminMsg).Error; err != nil {
		t.Fatalf("admin notification not queued: %v", err)
	}
	var adminPayload notify.NotificationPayload
	json.Unmarshal(adminMsg.Payload, &adminPayload)
	want := "customer has paid for shipment " + f.shipment.TrackingNumber + " and is ready for courier assignment"
	if adminPayload.Message != want {
		t.Errorf("admin message = %q", adminPayload.Message)
	}

	var emailMsg models.OutboxMessage
	f.db.Where("kind = ?", models.OutboxEmail).Take(&emailMsg)
	var email notify.EmailPayload
	json.Unmarshal(emailMsg.Payload, &email)
	if email.Subject != "Payment Confirmation - Shipment "+f.shipment.TrackingNumber {
		t.Errorf("subject = %q", email.Subject)
	}
	if email.To[0] != f.owner.Email || !strings.Contains(email.Text, res.Receipt.ReceiptNumber) {
		t.Errorf("email = %+v", email)
	}
}

func TestMarkPaid_RepeatedCallsIssueOneReceipt(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	first, err := f.svc.MarkPaid(ctx, f.payment.ID, PaidInput{TransactionID: "1"})
	if err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	queued := func() int64 {
		var n int64
		f.db.Model(&models.OutboxMessage{}).Count(&n)
		return n
	}
	before := queued()

	for i := 0; i < 4; i++ {
		res, err := f.svc.MarkPaid(ctx, f.payment.ID, PaidInput{})
		if err != nil {
			t.Fatalf("MarkPaid() #%d error = %v", i+2, err)
		}
		if res.Changed {
			t.Errorf("MarkPaid() #%d reported a change", i+2)
		}
		if res.Receipt.ReceiptNumber != first.Receipt.ReceiptNumber {
			t.Errorf("receipt %s, want %s", res.Receipt.ReceiptNumber, first.Receipt.ReceiptNumber)
		}
	}

	if n := f.receiptCount(t); n != 1 {
		t.Errorf("receipts = %d, want 1", n)
	}
	if after := queued(); after != before {
		t.Errorf("outbox grew from %d to %d on repeated MarkPaid", before, after)
	}
}

// The SQLite test database has a single connection, so these callers are
// serialised by the pool and the row lock is never contended here. The
// conditional update and the unique receipt index are what this exercises.
func TestMarkPaid_ConcurrentCallers(t *testing.T) {
	f := newFixture(t, "100")

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan *Transition, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.MarkPaid(context.Background(), f.payment.ID, PaidInput{})
			if err != nil {
				t.Errorf("MarkPaid() error = %v", err)
				return
			}
			results <- res
		}(i)
	}
	wg.Wait()
	close(results)

	changed := 0
	numbers := map[string]bool{}
	for res := range results {
		if res.Changed {
			changed++
		}
		numbers[res.Receipt.ReceiptNumber] = true
	}
	if changed != 1 {
		t.Errorf("%d callers observed the transition, want 1", changed)
	}
	if len(numbers) != 1 || f.receiptCount(t) != 1 {
		t.Errorf("receipt numbers seen = %v, stored = %d", numbers, f.receiptCount(t))
	}
	if n := f.outboxCount(t, models.OutboxEmail); n != 1 {
		t.Errorf("emails queued = %d, want 1", n)
	}
}

func TestMarkPaid_OverwriteIsAudited(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	if _, err := f.svc.MarkPaid(ctx, f.payment.ID, PaidInput{TransactionID: "first"}); err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	res, err := f.svc.MarkPaid(ctx, f.payment.ID, PaidInput{TransactionID: "second", Meta: json.RawMessage(`{"source":"webhook"}`)})
	if err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	if *res.Payment.TransactionID != "second" {
		t.Errorf("transaction_id = %s, want last writer to win", *res.Payment.TransactionID)
	}

	warnings := f.logs.FilterMessage("overwriting gateway data of settled payment").All()
	if len(warnings) != 1 {
		t.Fatalf("got %d overwrite warnings, want 1", len(warnings))
	}
	fields := warnings[0].ContextMap()
	if fields["old_transaction_id"] != "first" || fields["new_transaction_id"] != "second" {
		t.Errorf("warning fields = %v", fields)
	}
	if warnings[0].Level != zapcore.WarnLevel {
		t.Errorf("level = %s", warnings[0].Level)
	}
}

func TestMarkPaid_SkipReceipt(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	res, err := f.svc.MarkPaid(ctx, f.payment.ID, PaidInput{SkipReceipt: true})
	if err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	if res.Receipt != nil || f.receiptCount(t) != 0 {
		t.Fatal("receipt issued despite SkipReceipt")
	}

	notesBefore := f.outboxCount(t, models.OutboxNotification)
	emailsBefore := f.outboxCount(t, models.OutboxEmail)

	res, err = f.svc.MarkPaid(ctx, f.payment.ID, PaidInput{})
	if err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	if res.Changed {
		t.Error("later MarkPaid reported a transition")
	}
	if res.Receipt == nil || f.receiptCount(t) != 1 {
		t.Fatal("receipt not issued on later MarkPaid")
	}
	number := res.Receipt.ReceiptNumber

	if got := f.outboxCount(t, models.OutboxNotification) - notesBefore; got != 1 {
		t.Errorf("receipt notifications queued = %d, want 1", got)
	}
	if got := f.outboxCount(t, models.OutboxEmail) - emailsBefore; got != 1 {
		t.Errorf("receipt emails queued = %d, want 1", got)
	}

	var noteMsg, emailMsg models.OutboxMessage
	f.db.Where("kind = ?", models.OutboxNotification).Order("created_at DESC").Take(&noteMsg)
	f.db.Where("kind = ?", models.OutboxEmail).Order("created_at DESC").Take(&emailMsg)
	var note notify.NotificationPayload
	var email notify.EmailPayload
	if err := json.Unmarshal(noteMsg.Payload, &note); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if err := json.Unmarshal(emailMsg.Payload, &email); err != nil {
		t.Fatalf("decode email: %v", err)
	}
	if note.RecipientID != f.payment.UserID || !strings.Contains(note.Message, number) || !strings.HasSuffix(note.Link, "/download") {
		t.Errorf("receipt notification = %+v", note)
	}
	if !strings.Contains(email.Subject, number) || !strings.Contains(email.Text, "Receipt: "+number) {
		t.Errorf("receipt email subject = %q text = %q", email.Subject, email.Text)
	}

	if _, err := f.svc.MarkPaid(ctx, f.payment.ID, PaidInput{}); err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	if got := f.outboxCount(t, models.OutboxEmail) - emailsBefore; got != 1 {
		t.Errorf("emails after repeat = %d, want 1", got)
	}
}

func TestMarkFailed(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	res, err := f.svc.MarkFailed(ctx, f.payment.ID, FailedInput{TransactionID: "77", Meta: EncodeMeta(map[string]string{"reason": "cancelled"})})
	if err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if !res.Changed || res.Payment.Status != models.PaymentFailed {
		t.Fatalf("Changed=%v status=%s", res.Changed, res.Payment.Status)
	}
	if string(res.Payment.Meta) != `{"reason":"cancelled"}` {
		t.Errorf("meta = %s", res.Payment.Meta)
	}

	var msg models.OutboxMessage
	if err := f.db.Where("kind = ?", models.OutboxNotification).Take(&msg).Error; err != nil {
		t.Fatalf("failure notification not queued: %v", err)
	}
	var payload notify.NotificationPayload
	json.Unmarshal(msg.Payload, &payload)
	if payload.Message != "Payment for shipment "+f.shipment.TrackingNumber+" Failed!!" {
		t.Errorf("message = %q", payload.Message)
	}
	if n := f.outboxCount(t, models.OutboxEmail); n != 0 {
		t.Errorf("emails queued on failure = %d", n)
	}

	again, err := f.svc.MarkFailed(ctx, f.payment.ID, FailedInput{})
	if err != nil {
		t.Fatalf("second MarkFailed() error = %v", err)
	}
	if again.Changed {
		t.Error("second MarkFailed() reported a change")
	}
	if n := f.outboxCount(t, models.OutboxNotification); n != 1 {
		t.Errorf("notifications = %d after repeat, want 1", n)
	}
}

func TestMarkFailed_PaidIsSticky(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	if _, err := f.svc.MarkPaid(ctx, f.payment.ID, PaidInput{TransactionID: "1"}); err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	if _, err := f.svc.MarkFailed(ctx, f.payment.ID, FailedInput{TransactionID: "2"}); !errors.Is(err, ErrPaymentSettled) {
		t.Fatalf("MarkFailed() on PAID error = %v, want ErrPaymentSettled", err)
	}
	p := f.reload(t)
	if p.Status != models.PaymentPaid || *p.TransactionID != "1" {
		t.Errorf("PAID payment modified: status=%s transaction_id=%s", p.Status, *p.TransactionID)
	}
}

func TestRefreshForRetry(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	oldRef := f.payment.TxRef

	unchanged, err := f.svc.RefreshForRetry(ctx, f.payment.ID)
	if err != nil {
		t.Fatalf("RefreshForRetry() on PENDING error = %v", err)
	}
	if unchanged.TxRef != oldRef {
		t.Error("PENDING payment got a new tx_ref")
	}

	if _, err := f.svc.MarkFailed(ctx, f.payment.ID, FailedInput{TransactionID: "9", Meta: json.RawMessage(`{"x":1}`)}); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	refreshed, err := f.svc.RefreshForRetry(ctx, f.payment.ID)
	if err != nil {
		t.Fatalf("RefreshForRetry() error = %v", err)
	}
	if refreshed.TxRef == oldRef || !strings.HasPrefix(refreshed.TxRef, "QBX-") || len(refreshed.TxRef) != 14 {
		t.Errorf("tx_ref %q after refresh of %q", refreshed.TxRef, oldRef)
	}
	if refreshed.Status != models.PaymentPending || refreshed.TransactionID != nil || refreshed.Meta != nil {
		t.Errorf("refreshed payment = status %s transaction_id %v meta %s", refreshed.Status, refreshed.TransactionID, refreshed.Meta)
	}

	if _, err := f.svc.GetByTxRef(ctx, oldRef); !errors.Is(err, ErrNotFound) {
		t.Errorf("old tx_ref still resolves: %v", err)
	}

	if _, err := f.svc.MarkPaid(ctx, f.payment.ID, PaidInput{}); err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	if _, err := f.svc.RefreshForRetry(ctx, f.payment.ID); !errors.Is(err, ErrPaymentSettled) {
		t.Errorf("RefreshForRetry() on PAID error = %v, want ErrPaymentSettled", err)
	}
}

func TestBuildGatewayPayload(t *testing.T) {
	f := newFixture(t, "100")
	p, err := f.svc.GetForUser(context.Background(), f.payment.ID, f.owner.ID)
	if err != nil {
		t.Fatalf("GetForUser() error = %v", err)
	}

	payload := f.svc.BuildGatewayPayload(p)
	if payload.TxRef != p.TxRef || payload.Amount != "1.00" || payload.Currency != "NGN" {
		t.Errorf("payload = %+v", payload)
	}
	if payload.RedirectURL != "https://quariarbox.test/v1/payments/verify" || payload.PaymentOptions != "card,banktransfer" {
		t.Errorf("redirect=%q options=%q", payload.RedirectURL, payload.PaymentOptions)
	}
	if payload.Customer.Email != f.owner.Email || payload.Customer.Name != "Test ada" {
		t.Errorf("customer = %+v", payload.Customer)
	}
	if payload.Customisations.Title != "QuariarBox Courier" ||
		payload.Customisations.Description != "Payment for shipment "+f.shipment.TrackingNumber ||
		payload.Customisations.Logo != "https://quariarbox.test/static/img/gallery/logo.png" {
		t.Errorf("customisations = %+v", payload.Customisations)
	}
	if !f.reload(t).UpdatedAt.Equal(p.UpdatedAt) {
		t.Error("BuildGatewayPayload mutated the payment")
	}
}

func TestLookups_Ownership(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	stranger := testutil.CreateUser(t, f.db, "mallory", models.RoleCustomer)

	if _, err := f.svc.GetByTxRefForUser(ctx, f.payment.TxRef, f.owner.ID); err != nil {
		t.Errorf("owner lookup error = %v", err)
	}
	if _, err := f.svc.GetByTxRefForUser(ctx, f.payment.TxRef, stranger.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("stranger lookup error = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.GetForUser(ctx, uuid.New(), f.owner.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.MarkPaid(ctx, uuid.New(), PaidInput{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkPaid(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestListPaidForUser(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	if _, err := f.svc.MarkPaid(ctx, f.payment.ID, PaidInput{}); err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		s := testutil.CreateShipment(t, f.db, f.owner, "50")
		var p *models.Payment
		f.db.Transaction(func(tx *gorm.DB) error {
			var err error
			p, err = f.svc.CreateForShipment(tx, s)
			return err
		})
		if i == 0 {
			if _, err := f.svc.MarkPaid(ctx, p.ID, PaidInput{}); err != nil {
				t.Fatalf("MarkPaid() error = %v", err)
			}
		}
	}

	page, total, err := f.svc.ListPaidForUser(ctx, f.owner.ID, 1, 1)
	if err != nil {
		t.Fatalf("ListPaidForUser() error = %v", err)
	}
	if total != 2 || len(page) != 1 {
		t.Errorf("total=%d page=%d, want 2 and 1", total, len(page))
	}
	if page[0].Receipt == nil {
		t.Error("receipt not preloaded")
	}

	page2, _, _ := f.svc.ListPaidForUser(ctx, f.owner.ID, 2, 1)
	if len(page2) != 1 || page2[0].ID == page[0].ID {
		t.Error("second page repeats the first")
	}
}
