package nats

import "fmt"

const (
	AlreadyConnectedError = iota

	ConnectionError

	ConnectionRefusedError

	DisconnectedError

	ProtocolError

	PublishError

	SubscriptionError

	InvalidSubjectError

	TimedOutError

	SerializationError

	ServerError

	MessageHandlerError

	ConfigError

	UnknownError
)

// NewError builds a typed client error from an error code and optional detail.
func NewError(errorCode int, message ...interface{}) error {
	var errorName string

	switch errorCode {
	case AlreadyConnectedError:
		errorName = "AlreadyConnectedError"
	case ConnectionError:
		errorName = "ConnectionError"
	case ConnectionRefusedError:
		errorName = "ConnectionRefusedError"
	case DisconnectedError:
		errorName = "DisconnectedError"
	case ProtocolError:
		errorName = "ProtocolError"
	case PublishError:
		errorName = "PublishError"
	case SubscriptionError:
		errorName = "SubscriptionError"
	case InvalidSubjectError:
		errorName = "InvalidSubjectError"
	case TimedOutError:
		errorName = "TimedOutError"
	case SerializationError:
		errorName = "SerializationError"
	case ServerError:
		errorName = "ServerError"
	case MessageHandlerError:
		errorName = "MessageHandlerError"
	case ConfigError:
		errorName = "ConfigError"
	default:
		errorName = "UnknownError"
	}

	if len(message) > 0 {
		return fmt.Errorf("%s: %s", errorName, message[0])
	}

	return fmt.Errorf("%s", errorName)
}

// APIError is the structured error payload a JetStream API response carries.
type APIError struct {
	Code        int    `json:"code"`
	ErrCode     int    `json:"err_code,omitempty"`
	Description string `json:"description,omitempty"`
}

func (apiErr *APIError) Error() string {
	return fmt.Sprintf("ServerError: %s (code=%d err_code=%d)", apiErr.Description, apiErr.Code, apiErr.ErrCode)
}
