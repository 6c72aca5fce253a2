package apperrors

// Envelope is the uniform JSON wrapper for every error response.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Message string `json:"message"`
	Code    Kind   `json:"code"`
	Status  int    `json:"status"`
	Details any    `json:"details,omitempty"`
}

// Envelope renders e for the wire. Server errors never expose details or
// the wrapped cause.
func (e *AppError) Envelope() Envelope {
	body := EnvelopeBody{
		Message: e.Message,
		Code:    e.Kind,
		Status:  e.Status,
	}
	if e.Kind != KindServer {
		body.Details = e.Details
	}
	return Envelope{Error: body}
}
