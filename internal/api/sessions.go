package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"wa-gateway/internal/auth"
	"wa-gateway/internal/service/session"
)

type createResponse struct {
	QR     *string        `json:"qr"`
	Status session.Status `json:"status"`
}

type statusResponse struct {
	Status    session.Status `json:"status"`
	QR        *string        `json:"qr"`
	Connected bool           `json:"connected"`
	UserID    string         `json:"userId"`
}

type qrResponse struct {
	QR      string `json:"qr"`
	QRImage string `json:"qrImage,omitempty"`
	Status  string `json:"status"`
}

func (s *Server) createSession(c echo.Context) error {
	userID := c.Param("userId")

	res, err := s.sessions.CreateSession(c.Request().Context(), userID)
	if err != nil {
		s.log.Errorf("Create session %s failed: %v", userID, err)
		return fail(c, http.StatusInternalServerError, "Failed to create session")
	}
	return c.JSON(http.StatusOK, createResponse{QR: nullable(res.QR), Status: res.Status})
}

func (s *Server) sessionStatus(c echo.Context) error {
	userID := c.Param("userId")

	info, err := s.sessions.GetSessionStatus(c.Request().Context(), userID)
	if err != nil {
		s.log.Errorf("Status of %s failed: %v", userID, err)
		return fail(c, http.StatusInternalServerError, "Failed to get session status")
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:    info.Status,
		QR:        nullable(info.QR),
		Connected: info.Connected,
		UserID:    userID,
	})
}

func (s *Server) sessionQR(c echo.Context) error {
	userID := c.Param("userId")

	qr, err := s.sessions.GetQRCode(c.Request().Context(), userID)
	if err != nil {
		s.log.Errorf("QR of %s failed: %v", userID, err)
		return fail(c, http.StatusInternalServerError, "Failed to get QR code")
	}
	if qr == "" {
		return fail(c, http.StatusNotFound, "QR code not available")
	}

	img, err := auth.QRDataURL(qr)
	if err != nil {
		s.log.Warnf("Rendering QR of %s failed: %v", userID, err)
	}
	return c.JSON(http.StatusOK, qrResponse{QR: qr, QRImage: img, Status: string(session.StatusQRPending)})
}

func (s *Server) sessionQRImage(c echo.Context) error {
	userID := c.Param("userId")

	qr, err := s.sessions.GetQRCode(c.Request().Context(), userID)
	if err != nil {
		s.log.Errorf("QR of %s failed: %v", userID, err)
		return fail(c, http.StatusInternalServerError, "Failed to get QR code")
	}
	if qr == "" {
		return fail(c, http.StatusNotFound, "QR code not available")
	}

	png, err := auth.QRPNG(qr)
	if err != nil {
		s.log.Errorf("Rendering QR of %s failed: %v", userID, err)
		return fail(c, http.StatusInternalServerError, "Failed to render QR code")
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, "image/png", png)
}

func (s *Server) removeSession(c echo.Context) error {
	userID := c.Param("userId")

	if err := s.sessions.RemoveSession(c.Request().Context(), userID); err != nil {
		s.log.Errorf("Remove session %s failed: %v", userID, err)
		return fail(c, http.StatusInternalServerError, "Failed to remove session")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) listSessions(c echo.Context) error {
	sessions := s.sessions.GetActiveSessions()
	if sessions == nil {
		sessions = []string{}
	}
	return c.JSON(http.StatusOK, map[string][]string{"sessions": sessions})
}
