package server

import (
	"errors"
	"strings"

	"github.com/amoylab/botgate/internal/dispatch"
	"github.com/amoylab/botgate/internal/i18n"
	"github.com/amoylab/botgate/internal/provider"
	"github.com/amoylab/botgate/internal/scan"
	"github.com/amoylab/botgate/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// readJSON returns the request body as a gjson document
func readJSON(c *gin.Context) (gjson.Result, error) {
	raw, err := c.GetRawData()
	if err != nil || !gjson.ValidBytes(raw) {
		return gjson.Result{}, i18n.ErrBadRequest
	}
	return gjson.ParseBytes(raw), nil
}

// stringField returns the trimmed value of key when it is a JSON string
func stringField(doc gjson.Result, key string) string {
	v := doc.Get(key)
	if v.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(v.Str)
}

// recipients reads numbers, which may be a string or an array. Non-string
// array entries are dropped. ok is false when the field is missing or falsy.
func recipients(doc gjson.Result) (numbers []string, ok bool) {
	v := doc.Get("numbers")
	switch {
	case v.IsArray():
		numbers = []string{}
		for _, n := range v.Array() {
			if n.Type == gjson.String {
				numbers = append(numbers, n.Str)
			}
		}
		return numbers, true
	case v.Type == gjson.String:
		return []string{v.Str}, v.Str != ""
	case v.Type == gjson.Number:
		return []string{}, v.Num != 0
	case v.Type == gjson.True, v.IsObject():
		return []string{}, true
	default:
		return nil, false
	}
}

// mapError turns domain errors into localized HTTP errors
func mapError(err error) error {
	var perr *provider.Error
	switch {
	case errors.Is(err, session.ErrInvalidUserID):
		return i18n.ErrorInvalidUserID
	case errors.Is(err, session.ErrSessionNotFound):
		return i18n.ErrorSessionNotFound
	case errors.Is(err, session.ErrShuttingDown):
		return i18n.ErrorShuttingDown
	case errors.Is(err, dispatch.ErrNoActiveSession):
		return i18n.ErrorNoActiveSession
	case errors.Is(err, dispatch.ErrNoValidRecipients):
		return i18n.ErrorNoValidNumbers
	case errors.Is(err, dispatch.ErrEmptyBody):
		return i18n.ErrorSendFieldsRequired
	case errors.Is(err, scan.ErrMissingFields):
		return i18n.ErrorScanFieldsRequired
	case errors.As(err, &perr):
		return i18n.ErrorProviderFailed.Wrap(err)
	}
	return i18n.ErrInternalServer.Wrap(err)
}

func (s *Server) fail(c *gin.Context, err error) {
	s.deps.Translator.RespondWithError(c, err)
}

func (s *Server) handleGenerateQR(c *gin.Context) {
	doc, err := readJSON(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	userID := stringField(doc, "userId")
	if userID == "" {
		s.fail(c, i18n.ErrorUserIDRequired)
		return
	}

	snap, reused, err := s.deps.Sessions.Create(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("failed to create session", zap.String("user_id", userID), zap.Error(err))
		s.fail(c, mapError(err))
		return
	}

	i18n.RespondOK(c, gin.H{
		"url":    s.deps.Artifacts.URL(userID),
		"state":  snap.State,
		"reused": reused,
	})
}

func (s *Server) handleCloseSession(c *gin.Context) {
	doc, err := readJSON(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	userID := stringField(doc, "userId")
	if userID == "" {
		s.fail(c, i18n.ErrorUserIDRequired)
		return
	}

	if err := s.deps.Sessions.Close(c.Request.Context(), userID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.fail(c, i18n.ErrorNoActiveSession)
			return
		}
		s.fail(c, mapError(err))
		return
	}

	i18n.RespondOK(c, gin.H{
		"message": s.deps.Translator.Message(c, "SessionClosed"),
	})
}

func (s *Server) handleSendMessage(c *gin.Context) {
	doc, err := readJSON(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	userID := stringField(doc, "userId")
	message := doc.Get("message")
	numbers, ok := recipients(doc)
	if userID == "" || !ok || message.Type != gjson.String || strings.TrimSpace(message.Str) == "" {
		s.fail(c, i18n.ErrorSendFieldsRequired)
		return
	}

	outcomes, err := s.deps.Sender.Send(c.Request.Context(), dispatch.Request{
		UserID:     userID,
		Recipients: numbers,
		Body:       message.Str,
		MediaURL:   stringField(doc, "mediaUrl"),
	})
	if err != nil {
		s.logger.Warn("send rejected", zap.String("user_id", userID), zap.Error(err))
		s.fail(c, mapError(err))
		return
	}

	i18n.RespondOK(c, gin.H{"results": outcomes})
}

func (s *Server) handleQRScanned(c *gin.Context) {
	doc, err := readJSON(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	userID := stringField(doc, "userId")
	qrData := stringField(doc, "qrData")
	if userID == "" || qrData == "" {
		s.fail(c, i18n.ErrorScanFieldsRequired)
		return
	}

	if _, err := s.deps.Scans.Record(c.Request.Context(), userID, qrData); err != nil {
		s.logger.Error("failed to record scan", zap.String("user_id", userID), zap.Error(err))
		s.fail(c, mapError(err))
		return
	}
	i18n.RespondOK(c, nil)
}

func (s *Server) handleSessionStatus(c *gin.Context) {
	userID := c.Param("userId")
	snap, err := s.deps.Sessions.Session(userID)
	if err != nil {
		s.fail(c, mapError(err))
		return
	}
	i18n.RespondOK(c, gin.H{
		"session": snap,
		"url":     s.deps.Artifacts.URL(userID),
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	i18n.RespondOK(c, gin.H{"sessions": s.deps.Sessions.List()})
}
