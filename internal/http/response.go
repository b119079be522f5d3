package http

// Status is the outcome envelope carried by every API response.
type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response is the standard API response envelope.
type Response struct {
	Status  Status     `json:"status,omitempty"`
	Message string     `json:"message,omitempty"`
	Value   [][]string `json:"value,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse(message string) Response {
	return Response{Status: StatusSuccess, Message: message}
}

func NewValueResponse(value [][]string) Response {
	return Response{Status: StatusSuccess, Value: value}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
