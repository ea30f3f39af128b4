package i18n

import "github.com/amoylab/botgate/internal/session"

// Common errors
var (
	ErrBadRequest     = NewErrorWithCode("ErrorBadRequest", ErrorBadRequest)
	ErrNotFound       = NewErrorWithCode("ErrorNotFound", ErrorNotFound)
	ErrInternalServer = NewErrorWithCode("ErrorInternalServer", ErrorInternalServer)
)

// Session related errors
var (
	ErrorUserIDRequired  = NewErrorWithCode("ErrorUserIDRequired", ErrorBadRequest)
	ErrorInvalidUserID   = NewErrorWithCode("ErrorInvalidUserID", ErrorBadRequest).WithParam("Max", session.MaxUserIDLen)
	ErrorSessionNotFound = NewErrorWithCode("ErrorSessionNotFound", ErrorNotFound)
	ErrorProviderFailed  = NewErrorWithCode("ErrorProviderFailed", ErrorInternalServer)
	ErrorShuttingDown    = NewErrorWithCode("ErrorShuttingDown", ErrorServiceUnavailable)
)

// Messaging related errors
var (
	ErrorSendFieldsRequired = NewErrorWithCode("ErrorSendFieldsRequired", ErrorBadRequest)
	ErrorNoValidNumbers     = NewErrorWithCode("ErrorNoValidNumbers", ErrorBadRequest)
	ErrorNoActiveSession    = NewErrorWithCode("ErrorNoActiveSession", ErrorBadRequest)
)

// Scan related errors
var (
	ErrorScanFieldsRequired = NewErrorWithCode("ErrorScanFieldsRequired", ErrorBadRequest)
)
