package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clinic/booking/internal/domain/appointment"
	"github.com/clinic/booking/internal/platform/auth"
)

// ---------- Helper ----------

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api", opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ---------- Schedules ----------

func TestGetDoctorSchedules(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/schedules/doctor/doc-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header")
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": []map[string]any{{
				"_id": "s1", "date": "2025-03-10T00:00:00.000Z",
				"timeSlots": []map[string]any{{"startTime": "09:00", "endTime": "09:30", "maxBookings": 3, "bookedCount": 3}},
			}},
		})
	})

	raw, err := c.GetDoctorSchedules(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) != 1 || raw[0].ID != "s1" || len(raw[0].TimeSlots) != 1 {
		t.Fatalf("unexpected schedules %+v", raw)
	}
	if *raw[0].TimeSlots[0].BookedCount != 3 {
		t.Errorf("expected bookedCount 3, got %d", *raw[0].TimeSlots[0].BookedCount)
	}
}

func TestGetDoctorSchedules_WrappedData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"schedules": []map[string]any{{"_id": "s2", "date": "2025-03-11"}}},
		})
	})
	raw, err := c.GetDoctorSchedules(context.Background(), "doc-1")
	if err != nil || len(raw) != 1 || raw[0].ID != "s2" {
		t.Fatalf("expected wrapped schedules to decode, got %+v, %v", raw, err)
	}
}

func TestGetDailyAppointmentCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("date"); got != "2025-03-10" {
			t.Errorf("expected date query 2025-03-10, got %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"count": 3, "limit": 3}})
	})

	dc, err := c.GetDailyAppointmentCount(context.Background(), time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dc.Count != 3 || dc.Limit != 3 {
		t.Errorf("expected 3/3, got %+v", dc)
	}
}

// ---------- Appointments ----------

func TestCreateAppointment_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") == "" {
			t.Error("expected Idempotency-Key header")
		}
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.PaymentMethod != PaymentMethodCash || req.TimeSlot.Start != "09:00" {
			t.Errorf("unexpected payload %+v", req)
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"data":    map[string]any{"_id": "apt-1", "status": "pending"},
		})
	})

	res, err := c.CreateAppointment(context.Background(), CreateAppointmentRequest{
		DoctorID: "doc-1", ScheduleID: "s1", AppointmentDate: "2025-03-10",
		TimeSlot: appointment.TimeRange{Start: "09:00", End: "09:30"}, PaymentMethod: PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Appointment.ID != "apt-1" || res.Appointment.Status != appointment.StatusPending {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestCreateAppointment_ApplicationFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Khung giờ đã đầy"})
	})

	res, err := c.CreateAppointment(context.Background(), CreateAppointmentRequest{})
	if err != nil {
		t.Fatalf("expected success:false as a result, got error %v", err)
	}
	if res.Success || res.Message != "Khung giờ đã đầy" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestCreateAppointment_StructuredErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "message": "Bạn đã có lịch hẹn vào giờ này"})
	})

	_, err := c.CreateAppointment(context.Background(), CreateAppointmentRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T %v", err, err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "Bạn đã có lịch hẹn vào giờ này" {
		t.Errorf("unexpected api error %+v", apiErr)
	}
	if msg, ok := APIMessage(err); !ok || msg != apiErr.Message {
		t.Errorf("expected APIMessage to expose the server text, got %q", msg)
	}
	if IsConnectivity(err) {
		t.Error("expected an API error not to be classified as connectivity")
	}
}

func TestGetAppointment_UnstructuredErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	})

	_, err := c.GetAppointment(context.Background(), "apt-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "" {
		t.Fatalf("expected APIError without message, got %v", err)
	}
	if _, ok := APIMessage(err); ok {
		t.Error("expected no server message")
	}
}

func TestRescheduleAndCancel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/appointments/apt-1/reschedule":
			var req RescheduleRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if r.Method != http.MethodPut || req.ScheduleID != "s2" || req.AppointmentDate != "2025-03-12" {
				t.Errorf("unexpected reschedule %s %+v", r.Method, req)
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"_id": "apt-1", "rescheduleCount": 1}})
		case "/api/appointments/apt-1/cancel":
			var req cancelRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Reason != "Bận việc" {
				t.Errorf("unexpected reason %q", req.Reason)
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"_id": "apt-1", "status": "cancelled"}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	a, err := c.RescheduleAppointment(context.Background(), "apt-1", RescheduleRequest{
		ScheduleID: "s2", AppointmentDate: "2025-03-12", TimeSlot: appointment.TimeRange{Start: "10:00", End: "10:30"},
	})
	if err != nil || a.RescheduleCount != 1 {
		t.Fatalf("unexpected reschedule result %+v, %v", a, err)
	}
	a, err = c.CancelAppointment(context.Background(), "apt-1", "Bận việc")
	if err != nil || a.Status != appointment.StatusCancelled {
		t.Fatalf("unexpected cancel result %+v, %v", a, err)
	}
}

// ---------- Payments ----------

func TestCreatePayments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/payments/momo/create":
			var req MomoPaymentRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.RedirectURL == "" || req.BillType != appointment.BillConsultation {
				t.Errorf("unexpected momo request %+v", req)
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"payUrl": "https://momo.test/pay", "orderId": "o1"}})
		case "/api/payments/paypal/create":
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"approvalUrl": "https://paypal.test/approve"}})
		}
	})

	link, err := c.CreateMomoPayment(context.Background(), MomoPaymentRequest{
		AppointmentID: "apt-1", Amount: 200000, BillType: appointment.BillConsultation, RedirectURL: "http://localhost/return",
	})
	if err != nil || link.URL() != "https://momo.test/pay" {
		t.Fatalf("unexpected momo link %+v, %v", link, err)
	}
	link, err = c.CreatePaypalPayment(context.Background(), PaypalPaymentRequest{AppointmentID: "apt-1", Amount: 10})
	if err != nil || link.URL() != "https://paypal.test/approve" {
		t.Fatalf("unexpected paypal link %+v, %v", link, err)
	}
}

// ---------- Transport ----------

func TestTransportError_Connectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, err := New(base)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.GetAppointment(context.Background(), "apt-1")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %T %v", err, err)
	}
	if !IsConnectivity(err) {
		t.Errorf("expected refused connection to be connectivity, got %v", err)
	}
}

func TestTransportError_CancelledIsNotConnectivity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetAppointment(ctx, "apt-1")
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if IsConnectivity(err) {
		t.Error("expected cancellation not to be a connectivity failure")
	}
}

func TestSession_HeaderAndExpiry(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"_id": "apt-1"}})
	}, WithSession(&auth.Session{Token: "tok", PatientID: "p1", ExpiresAt: time.Now().Add(time.Hour)}))

	if _, err := c.GetAppointment(context.Background(), "apt-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}

	expired := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("expected no request with an expired session")
	}, WithSession(&auth.Session{Token: "tok", ExpiresAt: time.Now().Add(-time.Minute)}))
	if _, err := expired.GetAppointment(context.Background(), "apt-1"); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	if _, err := New("ftp://example.com"); err == nil {
		t.Error("expected non-http scheme to be rejected")
	}
}
