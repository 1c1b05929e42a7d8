package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrorCode is a client-facing error classification.
type ErrorCode struct {
	Code    string
	Status  int
	Message string
}

var (
	CodeNotFound     = ErrorCode{Code: "APP_NOT_FOUND", Status: http.StatusNotFound, Message: "record not found"}
	CodeForbidden    = ErrorCode{Code: "APP_FORBIDDEN", Status: http.StatusForbidden, Message: "operation not allowed"}
	CodeInvalidInput = ErrorCode{Code: "APP_INVALID_INPUT", Status: http.StatusBadRequest, Message: "invalid input"}
	CodeInternal     = ErrorCode{Code: "APP_INTERNAL", Status: http.StatusInternalServerError, Message: "internal server error"}
	CodeRateLimited  = ErrorCode{Code: "APP_RATE_LIMITED", Status: http.StatusTooManyRequests, Message: "too many requests"}

	CodeSQLDuplicate = ErrorCode{Code: "SQL_DUPLICATE", Status: http.StatusConflict, Message: "duplicate record"}
	CodeSQLConflict  = ErrorCode{Code: "SQL_CONFLICT", Status: http.StatusConflict, Message: "sql conflict"}
	CodeSQLUnknown   = ErrorCode{Code: "SQL_UNKNOWN", Status: http.StatusInternalServerError, Message: "sql error"}
)

type AppError struct {
	Code    ErrorCode
	Message string // public
	Cause   error  // internal
}

func (e AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e AppError) Unwrap() error { return e.Cause }

func New(code ErrorCode, msg string, cause error) error {
	return AppError{Code: code, Message: msg, Cause: cause}
}

func NotFound(msg string) error     { return New(CodeNotFound, msg, nil) }
func Forbidden(msg string) error    { return New(CodeForbidden, msg, nil) }
func InvalidInput(msg string) error { return New(CodeInvalidInput, msg, nil) }

// Internal hides cause from the client; it is still reachable through Unwrap for logging.
func Internal(cause error) error { return New(CodeInternal, CodeInternal.Message, cause) }

// CodeOf returns the error code carried by err, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err).Code == code.Code
}

// ExposeDetails controls whether ErrorResponse.Details is filled.
var ExposeDetails = gin.Mode() != gin.ReleaseMode

type ErrorResponse struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ToErrorResponse logs err and converts it into the client-facing body.
// Anything that is not an AppError becomes a generic 500.
func ToErrorResponse(logger *zap.Logger, traceID string, err error) ErrorResponse {
	var resp ErrorResponse
	var appErr AppError
	if errors.As(err, &appErr) {
		resp = ErrorResponse{Status: appErr.Code.Status, Code: appErr.Code.Code, Message: appErr.Message}
	} else {
		resp = ErrorResponse{Status: CodeInternal.Status, Code: CodeInternal.Code, Message: CodeInternal.Message}
	}

	if resp.Status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("trace_id", traceID), zap.Error(err))
	} else {
		logger.Warn("request rejected", zap.String("trace_id", traceID), zap.Error(err))
	}
	if ExposeDetails {
		resp.Details = err.Error()
	}
	return resp
}

// HandleSQLError maps postgres errors onto AppErrors.
func HandleSQLError(logger *zap.Logger, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		logger.Error("sql error : unknown", zap.Error(err))
		return New(CodeSQLUnknown, "sql error", err)
	}

	logger.Error("sql error",
		zap.String("code", pgErr.Code),
		zap.String("message", pgErr.Message),
		zap.String("table", pgErr.TableName),
		zap.String("constraint", pgErr.ConstraintName),
	)

	switch pgErr.Code {
	case "23505": // unique_violation
		return New(CodeSQLDuplicate, "duplicate value violates unique constraint", err)
	case "23503": // foreign_key_violation
		return New(CodeSQLConflict, "foreign key violation", err)
	default:
		return New(CodeSQLUnknown, "sql error", err)
	}
}
