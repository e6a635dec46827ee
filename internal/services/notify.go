package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"net/mail"
	"sync"
	"time"

	"event-payments/internal/status"
	"event-payments/models"
	"event-payments/monitoring"

	"github.com/pocketbase/pocketbase/tools/template"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/time/rate"
)

const customerEmailTemplate = `<h2>Payment received</h2>
<p>Hi {{.Name}},</p>
<p>We received your payment of <strong>GHS {{.Amount}}</strong> for <strong>{{.EventName}}</strong>{{if .Venue}} at {{.Venue}}{{end}}{{if .StartTime}} on {{.StartTime}}{{end}}.</p>
<p>Paid so far: GHS {{.AmountPaid}} of GHS {{.TotalAmount}}{{if .Partial}} (balance GHS {{.Balance}}){{end}}.</p>
<p>Reference: <strong>{{.Reference}}</strong><br>Transaction: {{.TransactionID}}</p>
{{if .QRCode}}<p><img src="{{.QRCode}}" alt="Registration {{.RegistrationID}}" width="200" height="200"></p>{{end}}
<p>Show this email at the entrance.</p>`

const staffEmailTemplate = `<h3>Payment confirmed</h3>
<table>
<tr><td>Event</td><td>{{.EventName}}</td></tr>
<tr><td>Name</td><td>{{.Name}}</td></tr>
<tr><td>Email</td><td>{{.Email}}</td></tr>
<tr><td>Phone</td><td>{{.Phone}}</td></tr>
<tr><td>Participants</td><td>{{.Participants}}</td></tr>
<tr><td>Amount</td><td>GHS {{.Amount}}</td></tr>
<tr><td>Paid / total</td><td>GHS {{.AmountPaid}} / GHS {{.TotalAmount}}</td></tr>
<tr><td>Status</td><td>{{.PaymentStatus}}</td></tr>
<tr><td>Network</td><td>{{.Network}}</td></tr>
<tr><td>Reference</td><td>{{.Reference}}</td></tr>
<tr><td>Transaction</td><td>{{.TransactionID}}</td></tr>
</table>`

var errNoRecipient = errors.New("no email address")

// EventLookup loads the event a registration belongs to.
type EventLookup interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

type DispatcherConfig struct {
	From           string
	FromName       string
	StaffEmail     string
	SendsPerSecond float64
	// SendTimeout bounds one Notify call.
	SendTimeout time.Duration
}

// DispatchReport is the result of one dispatch. It is only logged.
type DispatchReport struct {
	PaymentID string
	Customer  error
	Staff     error
}

func (r DispatchReport) Failed() bool {
	return r.Customer != nil || r.Staff != nil
}

// Dispatcher sends the customer confirmation and the staff alert for a
// confirmed payment. The two sends are independent and errors never leave
// the dispatcher.
type Dispatcher struct {
	mailer    Mailer
	events    EventLookup
	cfg       DispatcherConfig
	limiter   *rate.Limiter
	templates *template.Registry
	logger    *slog.Logger

	wg sync.WaitGroup
}

func NewDispatcher(m Mailer, events EventLookup, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	limit := rate.Inf
	if cfg.SendsPerSecond > 0 {
		limit = rate.Limit(cfg.SendsPerSecond)
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Minute
	}

	return &Dispatcher{
		mailer:    m,
		events:    events,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		templates: template.NewRegistry(),
		logger:    logger,
	}
}

// Notify dispatches in the background.
func (d *Dispatcher) Notify(c Confirmation) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		defer cancel()

		report := d.Dispatch(ctx, c)
		if report.Failed() {
			d.logger.Warn("Payment notification incomplete",
				"payment_id", report.PaymentID,
				"customer_error", errString(report.Customer),
				"staff_error", errString(report.Staff),
			)
			return
		}
		d.logger.Info("Payment notification sent", "payment_id", report.PaymentID)
	}()
}

// Wait blocks until every background dispatch has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch sends both emails and reports what happened. Each send is
// attempted on its own; a failure or panic in one does not stop the other.
func (d *Dispatcher) Dispatch(ctx context.Context, c Confirmation) (report DispatchReport) {
	report.PaymentID = c.Payment.ID

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("dispatch panic: %v", p)
			if report.Customer == nil {
				report.Customer = err
			}
			if report.Staff == nil {
				report.Staff = err
			}
		}
	}()

	data := d.templateData(ctx, c)

	report.Customer = d.send(ctx, "customer", c.Registration.Email, c.Registration.Name,
		fmt.Sprintf("Payment confirmed: %s", data["EventName"]), customerEmailTemplate, data)
	report.Staff = d.send(ctx, "staff", d.cfg.StaffEmail, "",
		fmt.Sprintf("New payment: %s (%s)", c.Registration.Name, data["EventName"]), staffEmailTemplate, data)

	return report
}

func (d *Dispatcher) send(ctx context.Context, kind, address, name, subject, tmpl string, data map[string]any) (err error) {
	if address == "" {
		monitoring.TrackNotification(kind, "skipped")
		return &status.DispatchError{Recipient: kind, Err: errNoRecipient}
	}

	defer func() {
		if p := recover(); p != nil {
			monitoring.TrackNotification(kind, "failed")
			err = &status.DispatchError{Recipient: address, Err: fmt.Errorf("dispatch panic: %v", p)}
		}
	}()

	if err := d.deliver(ctx, address, name, subject, tmpl, data); err != nil {
		monitoring.TrackNotification(kind, "failed")
		return &status.DispatchError{Recipient: address, Err: err}
	}
	monitoring.TrackNotification(kind, "sent")
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, address, name, subject, tmpl string, data map[string]any) error {
	html, err := d.templates.LoadString(tmpl).Render(data)
	if err != nil {
		return fmt.Errorf("render email: %w", err)
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	return d.mailer.Send(ctx, &Email{
		From:    mail.Address{Name: d.cfg.FromName, Address: d.cfg.From},
		To:      []mail.Address{{Name: name, Address: address}},
		Subject: subject,
		HTML:    html,
	})
}

func (d *Dispatcher) templateData(ctx context.Context, c Confirmation) map[string]any {
	reg, p := c.Registration, c.Payment

	data := map[string]any{
		"RegistrationID": reg.ID,
		"Name":           reg.Name,
		"Email":          reg.Email,
		"Phone":          reg.Phone,
		"Participants":   reg.Participants,
		"Amount":         p.Amount.StringFixed(2),
		"AmountPaid":     reg.AmountPaid.StringFixed(2),
		"TotalAmount":    reg.TotalAmount.StringFixed(2),
		"Balance":        reg.Balance().StringFixed(2),
		"Partial":        reg.PaymentStatus == models.RegistrationPartial,
		"PaymentStatus":  string(reg.PaymentStatus),
		"Network":        p.Network,
		"Reference":      p.Reference,
		"TransactionID":  p.TransactionID,
		"EventName":      "your event",
		"Venue":          "",
		"StartTime":      "",
	}

	if d.events != nil && reg.EventID != "" {
		event, err := d.events.GetEvent(ctx, reg.EventID)
		if err != nil {
			d.logger.Warn("Failed to load event for email", "event_id", reg.EventID, "error", err)
		} else {
			data["EventName"] = event.Name
			data["Venue"] = event.Venue
			if !event.StartTime.IsZero() {
				data["StartTime"] = event.StartTime.Format("Mon 2 Jan 2006, 15:04")
			}
		}
	}

	if png, err := qrcode.Encode(reg.ID, qrcode.Medium, 256); err == nil {
		data["QRCode"] = htmltemplate.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
	} else {
		d.logger.Warn("Failed to render registration QR code", "registration_id", reg.ID, "error", err)
	}

	return data
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
