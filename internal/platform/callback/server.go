// Package callback listens for the browser redirect a payment gateway sends
// the patient back with, and serves health and metrics for the running client.
package callback

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/platform/metrics"
)

// Return is a patient coming back from a gateway.
type Return struct {
	AppointmentID string
	ResultCode    string
	Success       bool
}

const (
	pageReturned = "Đã nhận kết quả thanh toán. Bạn có thể quay lại ứng dụng."
	pageMissing  = "Không tìm thấy lịch hẹn cho giao dịch này."
)

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMetrics serves the collector's registry on /metrics and counts returns.
func WithMetrics(m *metrics.Collector) Option { return func(s *Server) { s.metrics = m } }

// WithReturnHook is called for every redirect that names an appointment. It
// runs on the request goroutine and must not block.
func WithReturnHook(f func(Return)) Option { return func(s *Server) { s.onReturn = f } }

type Server struct {
	addr     string
	e        *echo.Echo
	logger   zerolog.Logger
	metrics  *metrics.Collector
	onReturn func(Return)
}

func New(addr string, opts ...Option) *Server {
	s := &Server{addr: addr, logger: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(Recovery(s.logger))
	e.Use(RequestID())
	e.Use(Logger(s.logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	e.GET("/payment/return", s.handleReturn)

	s.e = e
	return s
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler { return s.e }

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("payment callback listening")
		errc <- s.e.Start(s.addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleReturn(c echo.Context) error {
	ret := ParseReturn(c.QueryParam)
	if ret.AppointmentID == "" {
		s.metrics.ObservePaymentReturn("missing_id")
		s.logger.Warn().Str("query", c.Request().URL.RawQuery).Msg("payment return without appointment id")
		return c.String(http.StatusBadRequest, pageMissing)
	}

	result := "failed"
	if ret.Success {
		result = "success"
	}
	s.metrics.ObservePaymentReturn(result)
	s.logger.Info().
		Str("appointment_id", ret.AppointmentID).
		Str("result_code", ret.ResultCode).
		Bool("success", ret.Success).
		Msg("payment return")

	if s.onReturn != nil {
		s.onReturn(ret)
	}
	return c.String(http.StatusOK, pageReturned)
}

// ParseReturn reads a gateway redirect. MoMo sends resultCode ("0" is
// success) and may carry the appointment in extraData, either as the bare id
// or base64 JSON. PayPal returns go through our own redirect with status.
// The gateway result is informational only; payment state comes from the
// backend.
func ParseReturn(get func(string) string) Return {
	ret := Return{AppointmentID: strings.TrimSpace(get("appointmentId"))}
	if ret.AppointmentID == "" {
		ret.AppointmentID = fromExtraData(get("extraData"))
	}

	if code := get("resultCode"); code != "" {
		ret.ResultCode = code
		ret.Success = code == "0"
		return ret
	}
	status := strings.ToLower(get("status"))
	ret.ResultCode = status
	switch status {
	case "success", "completed", "paid":
		ret.Success = true
	}
	return ret
}

func fromExtraData(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		var v struct {
			AppointmentID string `json:"appointmentId"`
		}
		if json.Unmarshal(decoded, &v) == nil {
			return v.AppointmentID
		}
	}
	if strings.ContainsAny(raw, "{}\" ") {
		return ""
	}
	return raw
}
