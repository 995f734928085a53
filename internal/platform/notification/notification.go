// Package notification delivers templated SMS on booking and payment
// lifecycle transitions. Delivery is fire-and-forget through a background
// queue: a downed SMS gateway never blocks or reverts the transition that
// triggered the message.
package notification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind identifies a message template.
type Kind string

const (
	KindBooked         Kind = "booked"
	KindConfirmed      Kind = "confirmed"
	KindCancelled      Kind = "cancelled"
	KindTestBooked     Kind = "test-booked"
	KindTestConfirmed  Kind = "test-confirmed"
	KindReportReady    Kind = "report-ready"
	KindPaymentSuccess Kind = "payment-success"
)

// Args carries the values substituted into a template.
type Args struct {
	Name        string // recipient's name
	Counterpart string // doctor or lab name on the other side of the booking
	Date        string
	Time        string
	Reference   string // booking or payment reference
}

var templates = map[Kind]string{
	KindBooked:         "Dear {{name}}, your appointment with {{counterpart}} on {{date}} at {{time}} has been received. Ref: {{reference}}.",
	KindConfirmed:      "Dear {{name}}, your appointment with {{counterpart}} on {{date}} at {{time}} is confirmed. Ref: {{reference}}.",
	KindCancelled:      "Dear {{name}}, your booking {{reference}} scheduled for {{date}} has been cancelled. Please contact the clinic for assistance.",
	KindTestBooked:     "Dear {{name}}, your lab test booking {{reference}} for {{date}} has been received.",
	KindTestConfirmed:  "Dear {{name}}, your lab test booking {{reference}} is confirmed for {{date}} at {{time}}.",
	KindReportReady:    "Dear {{name}}, your report for booking {{reference}} is ready. Please log in to view it.",
	KindPaymentSuccess: "Dear {{name}}, we received your payment for booking {{reference}}. Thank you.",
}

// Render produces the message body for a kind. Unknown kinds render empty.
func Render(kind Kind, args Args) string {
	body, ok := templates[kind]
	if !ok {
		return ""
	}
	r := strings.NewReplacer(
		"{{name}}", args.Name,
		"{{counterpart}}", args.Counterpart,
		"{{date}}", args.Date,
		"{{time}}", args.Time,
		"{{reference}}", args.Reference,
	)
	return r.Replace(body)
}

// Notifier is the contract the booking, payment and report services consume.
// Implementations must never propagate delivery failures to the caller.
type Notifier interface {
	Notify(kind Kind, phone string, args Args)
}

type message struct {
	kind  Kind
	phone string
	body  string
}

// Dispatcher queues rendered messages and delivers them from a worker
// goroutine. Send errors are logged and swallowed.
type Dispatcher struct {
	sender  Sender
	logger  zerolog.Logger
	queue   chan message
	done    chan struct{}
	closing sync.Once
}

// NewDispatcher starts a Dispatcher with the given queue capacity.
func NewDispatcher(sender Sender, logger zerolog.Logger, queueSize int) *Dispatcher {
	d := &Dispatcher{
		sender: sender,
		logger: logger,
		queue:  make(chan message, queueSize),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify renders the template and enqueues it. When the queue is full the
// message is dropped with a log line rather than blocking the request path.
func (d *Dispatcher) Notify(kind Kind, phone string, args Args) {
	if phone == "" {
		return
	}
	body := Render(kind, args)
	if body == "" {
		d.logger.Warn().Str("kind", string(kind)).Msg("unknown notification kind")
		return
	}

	select {
	case d.queue <- message{kind: kind, phone: phone, body: body}:
	default:
		d.logger.Warn().
			Str("kind", string(kind)).
			Str("phone", phone).
			Msg("notification queue full, message dropped")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := d.sender.SendSMS(ctx, msg.phone, msg.body)
		cancel()

		if err != nil {
			d.logger.Error().
				Err(err).
				Str("kind", string(msg.kind)).
				Str("phone", msg.phone).
				Msg("sms delivery failed")
			continue
		}
		d.logger.Debug().
			Str("kind", string(msg.kind)).
			Str("phone", msg.phone).
			Msg("sms delivered")
	}
}

// Close drains the queue and stops the worker. Intended for shutdown.
func (d *Dispatcher) Close() {
	d.closing.Do(func() {
		close(d.queue)
	})
	<-d.done
}
