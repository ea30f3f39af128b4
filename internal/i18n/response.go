package i18n

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RespondWithError writes {success:false, error} with the localized message.
// Errors that are not *ErrorWithCode become a 500.
func (t *Translator) RespondWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	var ec *ErrorWithCode
	if !errors.As(err, &ec) {
		ec = ErrInternalServer
	}
	c.JSON(int(ec.Code), gin.H{
		"success": false,
		"error":   t.Translate(ec.MessageID, t.Lang(c), ec.Data),
	})
}

// RespondOK writes {success:true} merged with payload
func RespondOK(c *gin.Context, payload gin.H) {
	resp := gin.H{"success": true}
	for k, v := range payload {
		resp[k] = v
	}
	c.JSON(http.StatusOK, resp)
}

// Message translates msgID for the language negotiated on c
func (t *Translator) Message(c *gin.Context, msgID string) string {
	return t.Translate(msgID, t.Lang(c), nil)
}
