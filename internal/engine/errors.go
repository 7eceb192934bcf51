package engine

import "fmt"

// AppError is the uniform error envelope every handler returns. Status is
// transport metadata and stays out of the JSON body.
type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func ValidationError(msg string, details []ErrorDetail) *AppError {
	if msg == "" {
		msg = "Validation failed"
	}
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  400,
		Message: msg,
		Details: details,
	}
}

func ConflictError(msg string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Status:  400,
		Message: msg,
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Status:  401,
		Message: msg,
	}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Status:  403,
		Message: msg,
	}
}

// MaterializationFailure distinguishes broken DDL from ordinary storage
// faults so operators can tell a drifted physical schema apart from a dead
// database connection.
func MaterializationFailure(msg string) *AppError {
	return &AppError{
		Code:    "MATERIALIZATION_FAILED",
		Status:  500,
		Message: msg,
	}
}

func StorageError(msg string) *AppError {
	if msg == "" {
		msg = "Internal server error"
	}
	return &AppError{
		Code:    "STORAGE_ERROR",
		Status:  500,
		Message: msg,
	}
}
