// Package payment opens gateway payments for an appointment's bill and
// reconciles the appointment once the patient comes back.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/domain/appointment"
	"github.com/clinic/booking/internal/platform/backend"
)

// Method is a payment gateway.
type Method string

const (
	MethodMomo   Method = "momo"
	MethodPaypal Method = "paypal"
)

func ParseMethod(s string) (Method, bool) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case MethodMomo:
		return MethodMomo, true
	case MethodPaypal:
		return MethodPaypal, true
	}
	return "", false
}

var (
	ErrNoBill            = errors.New("appointment has no bill yet")
	ErrNothingToPay      = errors.New("nothing to pay for this bill component")
	ErrAlreadySettled    = errors.New("bill component is already paid")
	ErrUnknownBillType   = errors.New("unknown bill component")
	ErrUnsupportedMethod = errors.New("unsupported payment method")
)

// GatewayAPI creates gateway payments.
type GatewayAPI interface {
	CreateMomoPayment(ctx context.Context, req backend.MomoPaymentRequest) (*backend.PaymentLink, error)
	CreatePaypalPayment(ctx context.Context, req backend.PaypalPaymentRequest) (*backend.PaymentLink, error)
}

// HintRecorder is satisfied by *Poller.
type HintRecorder interface {
	SetPaymentMethodHint(method string)
}

type CheckoutOption func(*Checkout)

func WithCheckoutLogger(l zerolog.Logger) CheckoutOption {
	return func(c *Checkout) { c.logger = l }
}

// WithHintRecorder receives the chosen method once a payment link exists.
func WithHintRecorder(r HintRecorder) CheckoutOption {
	return func(c *Checkout) { c.hints = r }
}

// Checkout opens payments for one bill component at a time.
type Checkout struct {
	api         GatewayAPI
	redirectURL string
	logger      zerolog.Logger
	hints       HintRecorder
}

// NewCheckout creates a Checkout. redirectURL is where MoMo sends the patient
// back; the appointment id is appended to it.
func NewCheckout(api GatewayAPI, redirectURL string, opts ...CheckoutOption) *Checkout {
	c := &Checkout{api: api, redirectURL: redirectURL, logger: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

var billLabels = map[appointment.BillType]string{
	appointment.BillConsultation:    "phí khám",
	appointment.BillMedication:      "tiền thuốc",
	appointment.BillHospitalization: "phí nội trú",
}

// Start asks the backend for a gateway page paying bt of appt with method.
// Medication payments carry the first prescription on the appointment.
func (c *Checkout) Start(ctx context.Context, appt *appointment.Appointment, method Method, bt appointment.BillType) (*backend.PaymentLink, error) {
	if appt == nil || appt.Bill == nil {
		return nil, ErrNoBill
	}
	comp, ok := appt.Bill.Component(bt)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBillType, bt)
	}
	if comp.Amount <= 0 {
		return nil, ErrNothingToPay
	}
	if comp.Settled() {
		return nil, ErrAlreadySettled
	}

	var prescriptionID string
	if bt == appointment.BillMedication {
		if rx := appointment.PrescriptionsOf(appt); len(rx) > 0 {
			prescriptionID = rx[0].ID
		}
	}

	var (
		link *backend.PaymentLink
		err  error
	)
	switch method {
	case MethodMomo:
		redirect, rerr := withAppointmentID(c.redirectURL, appt.ID)
		if rerr != nil {
			return nil, rerr
		}
		link, err = c.api.CreateMomoPayment(ctx, backend.MomoPaymentRequest{
			AppointmentID:  appt.ID,
			Amount:         comp.Amount,
			BillType:       bt,
			OrderInfo:      fmt.Sprintf("Thanh toán %s lịch hẹn %s", billLabels[bt], appt.ID),
			RedirectURL:    redirect,
			PrescriptionID: prescriptionID,
		})
	case MethodPaypal:
		link, err = c.api.CreatePaypalPayment(ctx, backend.PaypalPaymentRequest{
			AppointmentID:  appt.ID,
			Amount:         comp.Amount,
			BillType:       bt,
			PrescriptionID: prescriptionID,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s payment: %w", method, err)
	}

	c.logger.Info().
		Str("appointment_id", appt.ID).
		Str("method", string(method)).
		Str("bill_type", string(bt)).
		Int64("amount", comp.Amount).
		Str("order_id", link.OrderID).
		Msg("payment link created")

	if c.hints != nil {
		c.hints.SetPaymentMethodHint(string(method))
	}
	return link, nil
}

func withAppointmentID(raw, id string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse payment redirect url: %w", err)
	}
	q := u.Query()
	q.Set("appointmentId", id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
