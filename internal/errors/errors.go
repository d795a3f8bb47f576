package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeInternal   = "INTERNAL_ERROR"
	CodeDatabase   = "DATABASE_ERROR"
	CodeWrite      = "WRITE_ERROR"
	CodeSubjectMap = "SUBJECT_MAP_ERROR"
)

// IngestError represents a structured error with HTTP context
type IngestError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

func (e *IngestError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *IngestError) Unwrap() error {
	return e.Cause
}

// ToGinResponse sends the error as a standardized JSON response
func (e *IngestError) ToGinResponse(c *gin.Context) {
	statusCode := e.HTTPStatus
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}

	response := gin.H{
		"error": e.Message,
		"code":  e.Code,
	}
	if len(e.Context) > 0 {
		response["details"] = e.Context
	}

	c.JSON(statusCode, response)
}

// As extracts an IngestError from err's chain
func As(err error) (*IngestError, bool) {
	var ie *IngestError
	if stderrors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// HasCode reports whether err carries an IngestError with code
func HasCode(err error, code string) bool {
	ie, ok := As(err)
	return ok && ie.Code == code
}

func NewValidationError(message string, field string) *IngestError {
	return &IngestError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Context:    map[string]interface{}{"field": field},
	}
}

// NewInvalidConfigError wraps a joined validation error with its field list
func NewInvalidConfigError(fields interface{}, cause error) *IngestError {
	return &IngestError{
		Code:       CodeValidation,
		Message:    "Invalid extraction configuration",
		HTTPStatus: http.StatusBadRequest,
		Context:    map[string]interface{}{"fields": fields},
		Cause:      cause,
	}
}

func NewNotFoundError(resource string, id string) *IngestError {
	return &IngestError{
		Code:       CodeNotFound,
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
		Context:    map[string]interface{}{"resource": resource, "id": id},
	}
}

func NewConflictError(message string, cause error) *IngestError {
	return &IngestError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
		Cause:      cause,
	}
}

func NewInternalError(message string, cause error) *IngestError {
	return &IngestError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewDatabaseError(operation string, cause error) *IngestError {
	return &IngestError{
		Code:       CodeDatabase,
		Message:    "Database operation failed",
		HTTPStatus: http.StatusInternalServerError,
		Context:    map[string]interface{}{"operation": operation},
		Cause:      cause,
	}
}

// NewWriteError reports a rolled back chunk. Write errors are never retried.
func NewWriteError(chunk int, rows int, cause error) *IngestError {
	return &IngestError{
		Code:       CodeWrite,
		Message:    "Metadata chunk write failed",
		HTTPStatus: http.StatusInternalServerError,
		Context:    map[string]interface{}{"chunk": chunk, "rows": rows},
		Cause:      cause,
	}
}

// NewSubjectMapError reports an unusable subject-code CSV
func NewSubjectMapError(path string, cause error) *IngestError {
	return &IngestError{
		Code:       CodeSubjectMap,
		Message:    "Subject code map could not be loaded",
		HTTPStatus: http.StatusBadRequest,
		Context:    map[string]interface{}{"path": path},
		Cause:      cause,
	}
}

// HandleError renders err, falling back to an internal error response
func HandleError(c *gin.Context, err error) {
	if ie, ok := As(err); ok {
		ie.ToGinResponse(c)
		return
	}
	NewInternalError("Unexpected error", err).ToGinResponse(c)
}

// HandleValidationError sends a validation error response
func HandleValidationError(c *gin.Context, message string, field string) {
	NewValidationError(message, field).ToGinResponse(c)
}

// HandleNotFound sends a not found error response
func HandleNotFound(c *gin.Context, resource string, id string) {
	NewNotFoundError(resource, id).ToGinResponse(c)
}
