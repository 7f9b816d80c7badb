package types

// API error codes, <AREA>_<HTTP status>
const (
	CodeUnauthorized = "AUTH_401"
	CodeForbidden    = "AUTH_403"
	CodeLocked       = "AUTH_423"
	CodeBadAuth      = "AUTH_400"
	CodeBadRequest   = "REQUEST_400"

	CodeUnknownBus       = "BUS_404"
	CodeBusFault         = "BUS_502"
	CodeUnknownModule    = "MODULE_404"
	CodeDuplicateModule  = "MODULE_409"
	CodeInvalidModule    = "MODULE_422"
	CodeUnknownTelemetry = "TELEMETRY_404"
	CodeNotReady         = "TELEMETRY_503"
	CodeUnknownCommand   = "COMMAND_404"
	CodeNotPolled        = "POLLER_404"
	CodeInternal         = "INTERNAL_500"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse is the body of every non-2xx REST reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse wraps code and message; details is optional and may be
// an error string or any JSON value.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
