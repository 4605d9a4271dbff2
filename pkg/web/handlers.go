package web

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-shopcam/pkg/capture"
)

var errNotConfigured = fiber.NewError(fiber.StatusServiceUnavailable, "not configured")

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

type paymentRequest struct {
	Amount *float64 `json:"amount"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleDevices(c *fiber.Ctx) error {
	sess := s.components().Session
	if sess == nil {
		return errNotConfigured
	}
	devices, err := sess.Devices(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(devices)
}

func (s *Server) handleCameraStart(c *fiber.Ctx) error {
	sess := s.components().Session
	if sess == nil {
		return errNotConfigured
	}
	var req deviceRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
	}
	if req.DeviceID == "" {
		// Default to the preferred device, back-facing first.
		devices, err := sess.Devices(c.UserContext())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no camera found")
		}
		req.DeviceID = devices[0].ID
	}
	if err := sess.Start(c.UserContext(), req.DeviceID); err != nil {
		return err
	}
	return c.JSON(sess.Snapshot())
}

func (s *Server) handleCameraStop(c *fiber.Ctx) error {
	sess := s.components().Session
	if sess == nil {
		return errNotConfigured
	}
	if err := sess.Stop(); err != nil {
		return err
	}
	return c.JSON(sess.Snapshot())
}

func (s *Server) handleCameraDevice(c *fiber.Ctx) error {
	sess := s.components().Session
	if sess == nil {
		return errNotConfigured
	}
	var req deviceRequest
	if err := c.BodyParser(&req); err != nil || req.DeviceID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "device_id is required")
	}
	if err := sess.SwitchDevice(c.UserContext(), req.DeviceID); err != nil {
		return err
	}
	return c.JSON(sess.Snapshot())
}

func (s *Server) handleSession(c *fiber.Ctx) error {
	sess := s.components().Session
	if sess == nil {
		return errNotConfigured
	}
	return c.JSON(sess.Snapshot())
}

func (s *Server) handleCheckout(c *fiber.Ctx) error {
	sess := s.components().Session
	if sess == nil {
		return errNotConfigured
	}
	total, err := sess.Checkout()
	if errors.Is(err, capture.ErrClosed) {
		return err
	}
	if err != nil {
		s.logger.Warn("camera release on checkout failed", "error", err)
	}
	return c.JSON(fiber.Map{"total": total})
}

func (s *Server) handlePayment(c *fiber.Ctx) error {
	pay := s.components().Payments
	if pay == nil {
		return errNotConfigured
	}
	return c.JSON(pay.Snapshot())
}

// handlePaymentEnter opens the payment screen directly, e.g. after a reload.
func (s *Server) handlePaymentEnter(c *fiber.Ctx) error {
	pay := s.components().Payments
	if pay == nil {
		return errNotConfigured
	}
	var req paymentRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
	}
	if req.Amount == nil {
		if v := c.Query("amount"); v != "" {
			if a, err := strconv.ParseFloat(v, 64); err == nil {
				req.Amount = &a
			}
		}
	}
	if err := pay.Enter(c.UserContext(), req.Amount); err != nil {
		return err
	}
	return c.JSON(pay.Snapshot())
}

func (s *Server) handlePaymentLeave(c *fiber.Ctx) error {
	pay := s.components().Payments
	if pay == nil {
		return errNotConfigured
	}
	pay.Leave()
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handlePaymentScan(c *fiber.Ctx) error {
	pay := s.components().Payments
	if pay == nil {
		return errNotConfigured
	}
	if err := pay.Scan(); err != nil {
		return err
	}
	return c.JSON(pay.Snapshot())
}

func (s *Server) handlePaymentRetry(c *fiber.Ctx) error {
	pay := s.components().Payments
	if pay == nil {
		return errNotConfigured
	}
	if err := pay.RetryCode(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(pay.Snapshot())
}

func (s *Server) handleOrders(c *fiber.Ctx) error {
	store := s.components().Orders
	if store == nil {
		return errNotConfigured
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	list, err := store.List(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (s *Server) handleReceiptStatus(c *fiber.Ctx) error {
	r := s.components().Receipts
	if r == nil {
		return c.JSON(fiber.Map{"connected": false, "configured": false})
	}
	return c.JSON(r.Status(s.newOAuthState()))
}

func (s *Server) handleReceiptAuth(c *fiber.Ctx) error {
	r := s.components().Receipts
	if r == nil {
		return errNotConfigured
	}
	return c.Redirect(r.AuthURL(s.newOAuthState()), fiber.StatusTemporaryRedirect)
}

func (s *Server) handleReceiptCallback(c *fiber.Ctx) error {
	r := s.components().Receipts
	if r == nil {
		return errNotConfigured
	}
	if !s.checkOAuthState(c.Query("state")) {
		return fiber.NewError(fiber.StatusBadRequest, "invalid state")
	}
	code := c.Query("code")
	if code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing code")
	}
	if err := r.HandleCallback(c.UserContext(), code); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.Redirect("/", fiber.StatusSeeOther)
}

func (s *Server) handleReceiptDisconnect(c *fiber.Ctx) error {
	r := s.components().Receipts
	if r == nil {
		return errNotConfigured
	}
	if err := r.Disconnect(); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// OAuth states stay valid for oauthStateTTL; at most maxOAuthStates are
// pending, oldest evicted first.
const (
	oauthStateTTL  = 10 * time.Minute
	maxOAuthStates = 32
)

func (s *Server) newOAuthState() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for st, issued := range s.oauthStates {
		if now.Sub(issued) > oauthStateTTL {
			delete(s.oauthStates, st)
		}
	}
	for len(s.oauthStates) >= maxOAuthStates {
		var oldest string
		var oldestAt time.Time
		for st, issued := range s.oauthStates {
			if oldest == "" || issued.Before(oldestAt) {
				oldest, oldestAt = st, issued
			}
		}
		delete(s.oauthStates, oldest)
	}

	state := uuid.NewString()
	s.oauthStates[state] = now
	return state
}

// checkOAuthState consumes state if it was issued and has not expired.
func (s *Server) checkOAuthState(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	issued, ok := s.oauthStates[state]
	if !ok {
		return false
	}
	delete(s.oauthStates, state)
	return time.Since(issued) <= oauthStateTTL
}
