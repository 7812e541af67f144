// Package backend is the HTTP client for the clinic appointment API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/domain/appointment"
	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/platform/auth"
)

const maxResponseBytes = 4 << 20

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithSession attaches the patient's bearer token.
func WithSession(s *auth.Session) Option {
	return func(cl *Client) { cl.session = s }
}

// Client calls the clinic REST API. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	session    *auth.Session
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a Client rooted at baseURL (for example
// "https://api.clinic.vn/api").
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http or https, got %q", baseURL)
	}
	c := &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Session returns the attached session, or nil.
func (c *Client) Session() *auth.Session { return c.session }

// ---------------------------------------------------------------------------
// Schedules
// ---------------------------------------------------------------------------

// GetDoctorSchedules returns the doctor's active schedules, unnormalized.
func (c *Client) GetDoctorSchedules(ctx context.Context, doctorID string) ([]scheduling.RawSchedule, error) {
	const op = "get doctor schedules"
	env, err := c.do(ctx, op, http.MethodGet, "/schedules/doctor/"+url.PathEscape(doctorID), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(env.Data)) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return nil, nil
	}

	var list []scheduling.RawSchedule
	if err := json.Unmarshal(env.Data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Schedules []scheduling.RawSchedule `json:"schedules"`
	}
	if err := json.Unmarshal(env.Data, &wrapped); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	return wrapped.Schedules, nil
}

// GetDailyAppointmentCount implements scheduling.DailyCountSource.
func (c *Client) GetDailyAppointmentCount(ctx context.Context, date time.Time) (scheduling.DailyCount, error) {
	const op = "get daily appointment count"
	q := url.Values{"date": {scheduling.FormatDate(date)}}
	env, err := c.do(ctx, op, http.MethodGet, "/appointments/daily-count", q, nil, nil)
	if err != nil {
		return scheduling.DailyCount{}, err
	}
	var dc scheduling.DailyCount
	if err := decodeData(env, &dc); err != nil {
		return scheduling.DailyCount{}, fmt.Errorf("%s: %w", op, err)
	}
	return dc, nil
}

// ---------------------------------------------------------------------------
// Appointments
// ---------------------------------------------------------------------------

// CreateAppointment submits a booking. A {success:false} answer is returned as
// a result, not an error; a non-2xx answer is an *APIError and a network
// failure a *TransportError. Each call carries a fresh Idempotency-Key.
func (c *Client) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*CreateAppointmentResult, error) {
	const op = "create appointment"
	headers := http.Header{"Idempotency-Key": {uuid.New().String()}}
	env, err := c.do(ctx, op, http.MethodPost, "/appointments", nil, req, headers)
	if err != nil {
		return nil, err
	}
	if env.failed() {
		return &CreateAppointmentResult{Success: false, Message: env.message()}, nil
	}
	var a appointment.Appointment
	if err := decodeData(env, &a); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &CreateAppointmentResult{Success: true, Appointment: &a, Message: env.Message}, nil
}

// RescheduleAppointment moves an appointment to another slot.
func (c *Client) RescheduleAppointment(ctx context.Context, id string, req RescheduleRequest) (*appointment.Appointment, error) {
	return c.appointmentCall(ctx, "reschedule appointment", http.MethodPut, "/appointments/"+url.PathEscape(id)+"/reschedule", req)
}

// CancelAppointment cancels an appointment with the patient's reason.
func (c *Client) CancelAppointment(ctx context.Context, id, reason string) (*appointment.Appointment, error) {
	return c.appointmentCall(ctx, "cancel appointment", http.MethodPut, "/appointments/"+url.PathEscape(id)+"/cancel", cancelRequest{Reason: reason})
}

// GetAppointment fetches the authoritative appointment record.
func (c *Client) GetAppointment(ctx context.Context, id string) (*appointment.Appointment, error) {
	return c.appointmentCall(ctx, "get appointment", http.MethodGet, "/appointments/"+url.PathEscape(id), nil)
}

func (c *Client) appointmentCall(ctx context.Context, op, method, path string, body any) (*appointment.Appointment, error) {
	env, err := c.do(ctx, op, method, path, nil, body, nil)
	if err != nil {
		return nil, err
	}
	if env.failed() {
		return nil, &APIError{StatusCode: http.StatusOK, Message: env.message(), Op: op}
	}
	var a appointment.Appointment
	if err := decodeData(env, &a); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &a, nil
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

// CreateMomoPayment asks the backend for a MoMo payment page.
func (c *Client) CreateMomoPayment(ctx context.Context, req MomoPaymentRequest) (*PaymentLink, error) {
	return c.paymentCall(ctx, "create momo payment", "/payments/momo/create", req)
}

// CreatePaypalPayment asks the backend for a PayPal approval page.
func (c *Client) CreatePaypalPayment(ctx context.Context, req PaypalPaymentRequest) (*PaymentLink, error) {
	return c.paymentCall(ctx, "create paypal payment", "/payments/paypal/create", req)
}

func (c *Client) paymentCall(ctx context.Context, op, path string, body any) (*PaymentLink, error) {
	env, err := c.do(ctx, op, http.MethodPost, path, nil, body, nil)
	if err != nil {
		return nil, err
	}
	if env.failed() {
		return nil, &APIError{StatusCode: http.StatusOK, Message: env.message(), Op: op}
	}
	var link PaymentLink
	if err := decodeData(env, &link); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if link.URL() == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyResponse)
	}
	return &link, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, headers http.Header) (envelope, error) {
	if c.session.Expired(c.now()) {
		return envelope{}, ErrSessionExpired
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return envelope{}, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return envelope{}, fmt.Errorf("%s: build request: %w", op, err)
	}

	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h := c.session.Authorization(); h != "" {
		req.Header.Set("Authorization", h)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("op", op).Str("request_id", requestID).
			Dur("duration", time.Since(start)).Msg("backend request failed")
		return envelope{}, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return envelope{}, &TransportError{Op: op, Err: err}
	}

	c.logger.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", u.Path).
		Int("status", resp.StatusCode).
		Str("request_id", requestID).
		Dur("duration", time.Since(start)).
		Msg("backend request")

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Op: op}
		if decodeErr == nil {
			apiErr.Message = env.message()
		}
		return envelope{}, apiErr
	}
	if decodeErr != nil {
		return envelope{}, fmt.Errorf("%s: decode response: %w", op, decodeErr)
	}
	return env, nil
}

func decodeData(env envelope, out any) error {
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
