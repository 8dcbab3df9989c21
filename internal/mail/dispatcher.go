package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nlr-erp/opsmail/internal/model"
)

// maxDeliveryAttempts bounds the retry loop: one initial attempt plus
// one retry.
const maxDeliveryAttempts = 2

// DeliveryRecorder persists terminal delivery records. The write is
// append-only and happens exactly once per outbound message.
type DeliveryRecorder interface {
	SaveDeliveryRecord(ctx context.Context, rec *model.DeliveryRecord) error
}

// Dispatcher delivers outbound messages. Every attempt is fully
// independent: a brand-new single-use connection built from a fresh
// profile read, with nothing surviving from a failed attempt into the
// next one except the attempt counter.
type Dispatcher struct {
	profiles ProfileProvider
	records  DeliveryRecorder
	factory  *Factory
	locator  *Locator
	timeouts model.TimeoutConfig
	log      logrus.FieldLogger

	// AppendToSent controls the best-effort copy into the sent folder
	// after a successful delivery.
	AppendToSent bool

	// dial and sleep are injectable for tests; the defaults are
	// dialSMTP and time.Sleep.
	dial  smtpDialFunc
	sleep func(time.Duration)
}

// NewDispatcher returns a Dispatcher persisting records through rec.
func NewDispatcher(profiles ProfileProvider, rec DeliveryRecorder, factory *Factory, locator *Locator, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		profiles:     profiles,
		records:      rec,
		factory:      factory,
		locator:      locator,
		timeouts:     factory.Timeouts,
		log:          log.WithField("component", "dispatcher"),
		AppendToSent: true,
		dial:         dialSMTP,
		sleep:        time.Sleep,
	}
}

// Deliver transmits msg, retrying once on a retryable failure with a
// fixed backoff in between. It returns the persisted delivery record
// and, when the outcome is failed, a classified error naming the
// number of attempts made.
func (d *Dispatcher) Deliver(ctx context.Context, msg model.OutboundMessage) (*model.DeliveryRecord, error) {
	rec := &model.DeliveryRecord{
		ID:      uuid.NewString(),
		To:      msg.Recipients(),
		Subject: msg.Subject,
	}

	var lastErr *Error
	for attempt := 1; attempt <= maxDeliveryAttempts; attempt++ {
		started := time.Now()

		raw, profile, err := d.attempt(ctx, msg)
		finished := time.Now()

		if err == nil {
			rec.Attempts = append(rec.Attempts, model.DeliveryAttempt{
				Number:     attempt,
				Outcome:    model.AttemptSuccess,
				StartedAt:  started,
				FinishedAt: finished,
			})
			rec.Outcome = model.DeliverySent
			d.log.WithField("attempt", attempt).Info("message delivered")

			if d.AppendToSent {
				d.appendToSent(profile, raw)
			}
			d.persist(ctx, rec)
			return rec, nil
		}

		cerr, ok := AsError(err)
		if !ok {
			cerr = newError(ClassProtocolError, err, "delivery attempt failed")
		}

		outcome := model.AttemptTerminalFailure
		if cerr.Retryable {
			outcome = model.AttemptRetryableFailure
		}
		rec.Attempts = append(rec.Attempts, model.DeliveryAttempt{
			Number:         attempt,
			Outcome:        outcome,
			Classification: string(cerr.Classification),
			Error:          cerr.Error(),
			StartedAt:      started,
			FinishedAt:     finished,
		})
		lastErr = cerr

		d.log.WithError(cerr).WithFields(logrus.Fields{
			"attempt":   attempt,
			"retryable": cerr.Retryable,
		}).Warn("delivery attempt failed")

		if !cerr.Retryable || attempt == maxDeliveryAttempts {
			break
		}
		d.sleep(d.timeouts.RetryBackoff())
	}

	rec.Outcome = model.DeliveryFailed
	rec.LastError = lastErr.Error()
	d.persist(ctx, rec)

	return rec, &Error{
		Classification: lastErr.Classification,
		Message: fmt.Sprintf("delivery failed after %d attempt(s): %s",
			len(rec.Attempts), lastErr.Message),
		Retryable: lastErr.Retryable,
		Err:       lastErr,
	}
}

// attempt performs one transmission: fresh profile read, fresh
// composition, fresh single-use connection. The dial is bounded by the
// connect budget, the transmission by the delivery budget, and on
// either expiry the connection is torn down immediately instead of
// waiting for the abandoned goroutine to notice.
func (d *Dispatcher) attempt(ctx context.Context, msg model.OutboundMessage) ([]byte, *model.Profile, error) {
	profile, err := d.profiles.Active(ctx)
	if err != nil {
		return nil, nil, newError(ClassProtocolError, err, "reading active profile")
	}
	if profile == nil {
		return nil, nil, newError(ClassNoActiveProfile, nil, "no active mail profile is configured")
	}

	raw, err := composeMessage(profile.FromAddress, msg)
	if err != nil {
		return nil, nil, newError(ClassProtocolError, err, "composing message")
	}

	tx, err := d.dialOutbound(profile.SMTP)
	if err != nil {
		return nil, nil, classifyDeliveryError(profile.SMTP, err)
	}

	sendErr := race(d.timeouts.Delivery(), func() error {
		err := tx.Transmit(profile.FromAddress, msg.Recipients(), raw)
		if err != nil {
			_ = tx.Close()
		}
		return err
	})
	if sendErr != nil {
		if errors.Is(sendErr, errDeadline) {
			// Best-effort teardown of the connection the transmit
			// goroutine is still blocked on.
			_ = tx.Close()
		}
		return nil, nil, classifyDeliveryError(profile.SMTP, sendErr)
	}
	return raw, profile, nil
}

// dialOutbound opens the single-use outbound connection, bounded by
// the connect budget. When the dial outlives its budget the connection
// that eventually comes up is closed by the goroutine that made it.
func (d *Dispatcher) dialOutbound(ep model.Endpoint) (transmitter, error) {
	var mu sync.Mutex
	var tx transmitter
	var abandoned bool

	err := race(d.timeouts.Connect(), func() error {
		t, err := d.dial(ep)
		if err != nil {
			return err
		}
		mu.Lock()
		if abandoned {
			mu.Unlock()
			return t.Close()
		}
		tx = t
		mu.Unlock()
		return nil
	})
	if err != nil {
		mu.Lock()
		abandoned = true
		t := tx
		tx = nil
		mu.Unlock()
		// The dial may have finished in the instant the deadline
		// fired; close whichever side holds the connection.
		if t != nil {
			_ = t.Close()
		}
		return nil, err
	}
	return tx, nil
}

// appendToSent copies the delivered message into the sent folder
// through an isolated inbound session. Failure to append never fails
// the delivery; it is logged and suppressed.
func (d *Dispatcher) appendToSent(profile *model.Profile, raw []byte) {
	sess := d.factory.New(profile.IMAP)
	if err := sess.Connect(); err != nil {
		d.log.WithError(err).Warn("connecting to append sent copy")
		return
	}
	defer func() {
		if err := sess.Logout(); err != nil {
			d.log.WithError(err).Warn("logging out after sent append")
		}
	}()

	folder, err := d.locator.Open(sess, model.RoleSent)
	if err != nil {
		d.log.WithError(err).Warn("locating sent folder")
		return
	}
	if err := sess.CloseFolder(d.timeouts.Greeting()); err != nil {
		d.log.WithError(err).Warn("closing sent folder before append")
	}
	if err := sess.Append(folder.Name, raw, d.timeouts.Fetch()); err != nil {
		d.log.WithError(err).WithField("folder", folder.Name).Warn("appending sent copy")
	}
}

// persist writes the terminal record. A persistence failure does not
// change the delivery outcome; it is logged as its own problem.
func (d *Dispatcher) persist(ctx context.Context, rec *model.DeliveryRecord) {
	rec.CreatedAt = time.Now()
	if err := d.records.SaveDeliveryRecord(ctx, rec); err != nil {
		d.log.WithError(err).WithField("record_id", rec.ID).Error("persisting delivery record")
	}
}
