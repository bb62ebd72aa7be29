package models

// ErrorMessageResponse returns the error message response struct
type ErrorMessageResponse struct {
	Response MessageError
}

// MessageError contains the inner details for the error message response
type MessageError struct {
	Message string
	Error   string
}

// Failure reasons shared by the HTTP surface and the websocket error event.
const (
	ReasonAuthentication = "authentication-error"
	ReasonUnauthorized   = "unauthorized"
	ReasonNotFound       = "not-found"
	ReasonChatClosed     = "chat-closed"
	ReasonValidation     = "validation-error"
	ReasonInvalidState   = "invalid-state"
	ReasonStore          = "store-error"
)

// HealthCheckResponse returns the health check response struct, exciting!
type HealthCheckResponse struct {
	Alive bool `json:"alive"`
}
