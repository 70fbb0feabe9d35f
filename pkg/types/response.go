package types

// Envelope is the body of every relay response, success or failure.
type Envelope struct {
	OK     bool       `json:"ok"`
	Status int        `json:"status"`
	Data   any        `json:"data"`
	Errors []APIError `json:"errors"`
}

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Status  int    `json:"status,omitempty"`
	Data    any    `json:"data,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Success wraps upstream data.
func Success(status int, data any) Envelope {
	return Envelope{OK: true, Status: status, Data: data}
}

// Failure builds an envelope with a nil data field.
func Failure(status int, errs ...APIError) Envelope {
	return Envelope{Status: status, Errors: errs}
}
