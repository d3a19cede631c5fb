package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	rcctx "github.com/user/rowcache/internal/context"
	"github.com/user/rowcache/internal/daemon"
	"github.com/user/rowcache/internal/model"
	"github.com/user/rowcache/internal/syncer"
)

// Error codes for structured error responses
const (
	ErrCodeTableNotFound  = "TABLE_NOT_FOUND"
	ErrCodeRecordNotFound = "RECORD_NOT_FOUND"
	ErrCodeColumnNotFound = "COLUMN_NOT_FOUND"
	ErrCodeNoDataDir      = "NO_DATA_DIR"
	ErrCodeNoTable        = "NO_TABLE"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeRowBusy        = "ROW_BUSY"
	ErrCodeSyncFailed     = "SYNC_FAILED"
	ErrCodeRunning        = "ALREADY_RUNNING"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// Exit codes
const (
	ExitGeneral    = 1
	ExitValidation = 2
	ExitConflict   = 3
	ExitSync       = 4
)

// ErrSyncFailed is returned when some writes of a sync were rejected.
var ErrSyncFailed = errors.New("some changes could not be written")

// ErrInvalidArgs is returned for malformed command arguments.
var ErrInvalidArgs = errors.New("invalid arguments")

// JSONError represents a structured error response for --json output
type JSONError struct {
	Error   bool                   `json:"error"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// classifyError maps an error to its exit code and error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrTableNotFound):
		return ExitGeneral, ErrCodeTableNotFound
	case errors.Is(err, model.ErrRecordNotFound):
		return ExitGeneral, ErrCodeRecordNotFound
	case errors.Is(err, model.ErrColumnNotFound):
		return ExitGeneral, ErrCodeColumnNotFound
	case errors.Is(err, rcctx.ErrNoDataDir):
		return ExitGeneral, ErrCodeNoDataDir
	case errors.Is(err, rcctx.ErrNoTable):
		return ExitGeneral, ErrCodeNoTable
	case errors.Is(err, model.ErrInvalidTable),
		errors.Is(err, model.ErrInvalidPrefix),
		errors.Is(err, model.ErrInvalidColumn),
		errors.Is(err, model.ErrReservedColumn),
		errors.Is(err, model.ErrInvalidID),
		errors.Is(err, ErrInvalidArgs):
		return ExitValidation, ErrCodeValidation
	case errors.Is(err, model.ErrTableExists),
		errors.Is(err, model.ErrColumnExists),
		errors.Is(err, model.ErrRecordExists),
		errors.Is(err, model.ErrHashMismatch):
		return ExitConflict, ErrCodeConflict
	case errors.Is(err, syncer.ErrRowBusy),
		errors.Is(err, syncer.ErrPendingChanges):
		return ExitConflict, ErrCodeRowBusy
	case errors.Is(err, daemon.ErrAlreadyRunning):
		return ExitConflict, ErrCodeRunning
	case errors.Is(err, ErrSyncFailed):
		return ExitSync, ErrCodeSyncFailed
	}
	return ExitGeneral, ErrCodeInternal
}

// HandleError reports err and exits with the matching code.
func HandleError(err error) {
	code, errCode := classifyError(err)
	ExitWithError(code, errCode, err.Error(), nil)
}

// ExitWithError outputs an error message and exits.
// If --json flag is set, outputs structured JSON error to stdout.
// Otherwise outputs plain text to stderr.
func ExitWithError(code int, errCode, message string, details map[string]interface{}) {
	if GetJSONOutput() {
		errResp := JSONError{
			Error:   true,
			Code:    errCode,
			Message: message,
			Details: details,
		}
		data, _ := json.Marshal(errResp)
		fmt.Fprintln(rootCmd.OutOrStdout(), string(data))
	} else {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", message)
	}
	Exit(code)
}
