package web

import (
	"github.com/teslashibe/go-shopcam/pkg/capture"
	"github.com/teslashibe/go-shopcam/pkg/catalog"
	"github.com/teslashibe/go-shopcam/pkg/payment"
)

// Event types on /ws/events.
const (
	EventNavigate = "navigate"
	EventAlert    = "alert"
	EventPayment  = "payment"
)

// Screens named in navigate events.
const (
	ScreenEntry        = "entry"
	ScreenCheckout     = "checkout"
	ScreenConfirmation = "confirmation"
)

// Navigation is the payload of a navigate event.
type Navigation struct {
	Screen  string             `json:"screen"`
	Total   *float64           `json:"total,omitempty"`
	Rows    []catalog.PriceRow `json:"rows,omitempty"`
	OrderID string             `json:"order_id,omitempty"`
}

// Alert is the payload of an alert event.
type Alert struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Publish sends an applied cycle to /ws/session and its frame to
// /ws/camera.
func (s *Server) Publish(u capture.Update) {
	if err := s.sessionHub.BroadcastEvent("update", u); err != nil {
		s.logger.Warn("failed to encode update", "seq", u.Seq, "error", err)
	}
	if len(u.Frame) > 0 {
		s.cameraHub.BroadcastBinary(u.Frame)
	}
}

// Alert shows a blocking message.
func (s *Server) Alert(message string, err error) {
	a := Alert{Message: message}
	if err != nil {
		a.Detail = err.Error()
	}
	s.broadcastEvent(EventAlert, a)
}

// Checkout navigates to the checkout screen and starts the payment.
func (s *Server) Checkout(total float64, rows []catalog.PriceRow) {
	s.broadcastEvent(EventNavigate, Navigation{Screen: ScreenCheckout, Total: &total, Rows: rows})

	pay := s.components().Payments
	if pay == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := pay.Enter(s.ctx, &total, rows...); err != nil {
			s.logger.Warn("payment did not reach scan", "error", err)
		}
	}()
}

// Entry navigates back to the landing screen.
func (s *Server) Entry() {
	s.broadcastEvent(EventNavigate, Navigation{Screen: ScreenEntry})
}

// Confirmation navigates to the order confirmation.
func (s *Server) Confirmation(orderID string) {
	s.broadcastEvent(EventNavigate, Navigation{Screen: ScreenConfirmation, OrderID: orderID})
}

// PaymentChanged forwards payment state. Pass it to payment.WithOnChange.
func (s *Server) PaymentChanged(snap payment.Snapshot) {
	s.broadcastEvent(EventPayment, snap)
}

func (s *Server) broadcastEvent(eventType string, data any) {
	if err := s.eventHub.BroadcastEvent(eventType, data); err != nil {
		s.logger.Warn("failed to encode event", "type", eventType, "error", err)
	}
}

var (
	_ capture.View      = (*Server)(nil)
	_ capture.Navigator = (*Server)(nil)
	_ payment.Navigator = (*Server)(nil)
)
