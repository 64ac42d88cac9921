package types

// ErrorResponse is the envelope every failed call answers with.
type ErrorResponse struct {
	Error        bool   `json:"error"`
	ErrorMessage string `json:"errorMessage"`
}

func NewErrorResponse(msg string) ErrorResponse {
	return ErrorResponse{Error: true, ErrorMessage: msg}
}
