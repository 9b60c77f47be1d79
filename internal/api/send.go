package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"wa-gateway/internal/service/send"
	"wa-gateway/internal/service/session"
	"wa-gateway/internal/transport"
)

type sendTextRequest struct {
	SessionUserID string `json:"sessionUserId"`
	To            string `json:"to"`
	Message       string `json:"message"`
}

type sendImageRequest struct {
	SessionUserID string `json:"sessionUserId"`
	To            string `json:"to"`
	ImageKey      string `json:"imageKey"`
	Caption       string `json:"caption"`
}

type sendAudioRequest struct {
	SessionUserID string `json:"sessionUserId"`
	To            string `json:"to"`
	AudioKey      string `json:"audioKey"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

func (s *Server) sendText(c echo.Context) error {
	var req sendTextRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}
	if req.SessionUserID == "" || req.To == "" || req.Message == "" {
		return fail(c, http.StatusBadRequest, "Missing required fields: sessionUserId, to, message")
	}

	id, err := s.sender.SendText(c.Request().Context(), req.SessionUserID, req.To, req.Message)
	if err != nil {
		return s.sendFailed(c, req.SessionUserID, err)
	}
	return c.JSON(http.StatusOK, sendResponse{Success: true, MessageID: id})
}

func (s *Server) sendImage(c echo.Context) error {
	var req sendImageRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}
	if req.SessionUserID == "" || req.To == "" || req.ImageKey == "" {
		return fail(c, http.StatusBadRequest, "Missing required fields: sessionUserId, to, imageKey")
	}

	id, err := s.sender.SendImage(c.Request().Context(), req.SessionUserID, req.To, req.ImageKey, req.Caption)
	if err != nil {
		return s.sendFailed(c, req.SessionUserID, err)
	}
	return c.JSON(http.StatusOK, sendResponse{Success: true, MessageID: id})
}

func (s *Server) sendAudio(c echo.Context) error {
	var req sendAudioRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}
	if req.SessionUserID == "" || req.To == "" || req.AudioKey == "" {
		return fail(c, http.StatusBadRequest, "Missing required fields: sessionUserId, to, audioKey")
	}

	id, err := s.sender.SendAudio(c.Request().Context(), req.SessionUserID, req.To, req.AudioKey)
	if err != nil {
		return s.sendFailed(c, req.SessionUserID, err)
	}
	return c.JSON(http.StatusOK, sendResponse{Success: true, MessageID: id})
}

// sendFailed maps a send error to a response. A closed connection drops the
// tenant's handle so the caller can reconnect.
func (s *Server) sendFailed(c echo.Context, userID string, err error) error {
	switch {
	case errors.Is(err, session.ErrUnavailable):
		return fail(c, http.StatusNotFound, "WhatsApp session not found or not connected")

	case errors.Is(err, send.ErrMediaNotFound):
		return fail(c, http.StatusNotFound, "Media not found")

	case errors.Is(err, transport.ErrInvalidRecipient):
		return fail(c, http.StatusBadRequest, "Invalid recipient")

	case errors.Is(err, transport.ErrConnectionClosed):
		s.log.Warnf("Connection of %s closed during send: %v", userID, err)
		if clearErr := s.sessions.ClearSessionOnError(c.Request().Context(), userID); clearErr != nil {
			s.log.Errorf("Failed to clear session %s: %v", userID, clearErr)
		}
		return c.JSON(http.StatusPreconditionRequired, map[string]string{
			"error": "WhatsApp connection closed. Please reconnect.",
			"code":  "CONNECTION_CLOSED",
		})

	default:
		s.log.Errorf("Send for %s failed: %v", userID, err)
		return fail(c, http.StatusInternalServerError, "Failed to send message")
	}
}
