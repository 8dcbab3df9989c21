package mail

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/emersion/go-smtp"

	"github.com/nlr-erp/opsmail/internal/model"
)

func TestRetryabilityFollowsClassification(t *testing.T) {
	retryable := map[Classification]bool{
		ClassNoActiveProfile:      false,
		ClassAuthenticationFailed: false,
		ClassUnreachable:          true,
		ClassProtocolError:        false,
		ClassMailboxEmpty:         false,
		ClassMessageNotFound:      false,
		ClassSearchTimeout:        true,
		ClassFetchTimeout:         true,
		ClassFolderNotFound:       false,
		ClassDeliveryTimeout:      true,
		ClassDeliveryAuthFailed:   false,
	}
	for class, want := range retryable {
		err := newError(class, nil, "probe")
		if err.Retryable != want {
			t.Errorf("%s: retryable = %v, want %v", class, err.Retryable, want)
		}
	}
}

func TestAsErrorUnwrapsChains(t *testing.T) {
	inner := newError(ClassSearchTimeout, errDeadline, "search stalled")
	wrapped := fmt.Errorf("listing inbox: %w", inner)

	e, ok := AsError(wrapped)
	if !ok {
		t.Fatal("AsError did not find the classified error in the chain")
	}
	if e.Classification != ClassSearchTimeout {
		t.Errorf("classification = %q", e.Classification)
	}
	if !errors.Is(wrapped, errDeadline) {
		t.Error("the sentinel cause is no longer reachable through Unwrap")
	}
	if !IsRetryable(wrapped) {
		t.Error("IsRetryable lost the retryable flag through wrapping")
	}
}

func TestClassificationOfPlainError(t *testing.T) {
	if got := ClassificationOf(errors.New("plain")); got != "" {
		t.Errorf("classification = %q, want empty for an unclassified error", got)
	}
}

func TestClassifyDeliveryError(t *testing.T) {
	ep := model.Endpoint{Host: "smtp.example.com", Port: "465"}

	cases := []struct {
		name      string
		err       error
		class     Classification
		retryable bool
	}{
		{"deadline", errDeadline, ClassDeliveryTimeout, true},
		{"bad credentials", &smtp.SMTPError{Code: 535}, ClassDeliveryAuthFailed, false},
		{"auth mechanism rejected", &smtp.SMTPError{Code: 534}, ClassDeliveryAuthFailed, false},
		{"permanent rejection", &smtp.SMTPError{Code: 550}, ClassProtocolError, false},
		{"temporary rejection", &smtp.SMTPError{Code: 421}, ClassProtocolError, true},
		{"refused socket", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, ClassUnreachable, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyDeliveryError(ep, tc.err)
			if got.Classification != tc.class {
				t.Errorf("classification = %q, want %q", got.Classification, tc.class)
			}
			if got.Retryable != tc.retryable {
				t.Errorf("retryable = %v, want %v", got.Retryable, tc.retryable)
			}
		})
	}
}
