package booking

import (
	"errors"
	"fmt"

	"github.com/clinic/booking/internal/platform/backend"
)

// Kind buckets booking failures by how they are shown to the patient.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindLimitReached Kind = "limit_reached"
	KindRejected     Kind = "rejected"
	KindTransport    Kind = "transport"
	KindInFlight     Kind = "in_flight"
)

const (
	MsgConnectivity   = "Không thể kết nối đến máy chủ. Vui lòng kiểm tra kết nối mạng và thử lại."
	MsgFailed         = "Yêu cầu không thành công. Vui lòng thử lại sau."
	MsgInFlight       = "Yêu cầu của bạn đang được xử lý, vui lòng chờ trong giây lát."
	MsgSessionExpired = "Phiên đăng nhập đã hết hạn. Vui lòng đăng nhập lại."
	MsgNotModifiable  = "Không thể thay đổi lịch hẹn ở trạng thái hiện tại."
	MsgCancelReason   = "Vui lòng nhập lý do hủy lịch hẹn."
)

// Error is a booking failure whose Message is safe to show. Err keeps the
// underlying cause for logs.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" when err is not a booking error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// UserMessage returns the text to show for err. Raw error text never
// reaches the patient.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Message
	}
	return classify(err).Message
}

var fieldLabels = map[string]string{
	"hospital":  "cơ sở khám",
	"specialty": "chuyên khoa",
	"doctor":    "bác sĩ",
	"service":   "dịch vụ",
	"date":      "ngày khám",
	"slot":      "khung giờ",
}

func missing(field string) *Error {
	return &Error{
		Kind:    KindValidation,
		Field:   field,
		Message: fmt.Sprintf("Vui lòng chọn %s.", fieldLabels[field]),
	}
}

// classify converts a collaborator error into the rejected or transport
// bucket. A structured server message wins over connectivity.
func classify(err error) *Error {
	if msg, ok := backend.APIMessage(err); ok {
		return &Error{Kind: KindRejected, Message: msg, Err: err}
	}
	if errors.Is(err, backend.ErrSessionExpired) {
		return &Error{Kind: KindRejected, Message: MsgSessionExpired, Err: err}
	}
	var te *backend.TransportError
	if errors.As(err, &te) {
		return &Error{Kind: KindTransport, Message: MsgConnectivity, Err: err}
	}
	return &Error{Kind: KindTransport, Message: MsgFailed, Err: err}
}
