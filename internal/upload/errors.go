package upload

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/framelight/api/internal/model"
)

// Validation failures produced before any bytes hit the wire.
var (
	ErrFileTooLarge    = errors.New("file size exceeds the upload limit")
	ErrUnsupportedType = errors.New("unsupported file type")
)

var errorMessages = map[model.UploadErrorCode]string{
	model.UploadErrDuplicate:         "This file has already been uploaded.",
	model.UploadErrTooLarge:          "This file exceeds the maximum upload size.",
	model.UploadErrUnsupportedFormat: "This file type is not supported.",
	model.UploadErrNetwork:           "Upload failed due to a network problem. Please try again.",
	model.UploadErrPermissionDenied:  "You don't have permission to upload to this workspace.",
	model.UploadErrSessionExpired:    "Your session has expired. Please sign in again.",
	model.UploadErrUnknown:           "Upload failed. Please try again.",
}

// ClassifyError maps an upload failure onto the user-facing error taxonomy.
// Matching is best-effort on the failure text; anything unrecognized falls back
// to the generic message so the task still resolves to a terminal error.
func ClassifyError(err error) model.UploadError {
	code := classifyCode(err)
	return model.UploadError{
		Code:    code,
		Message: errorMessages[code],
	}
}

func classifyCode(err error) model.UploadErrorCode {
	if err == nil {
		return model.UploadErrUnknown
	}

	if errors.Is(err, ErrFileTooLarge) {
		return model.UploadErrTooLarge
	}
	if errors.Is(err, ErrUnsupportedType) {
		return model.UploadErrUnsupportedFormat
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "duplicate") || strings.Contains(msg, "already exists"):
		return model.UploadErrDuplicate
	case strings.Contains(msg, "too large") || strings.Contains(msg, "exceeds"):
		return model.UploadErrTooLarge
	case strings.Contains(msg, "unsupported") || strings.Contains(msg, "invalid file type"):
		return model.UploadErrUnsupportedFormat
	case strings.Contains(msg, "session expired") || strings.Contains(msg, "token expired") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "credentials"):
		return model.UploadErrSessionExpired
	case strings.Contains(msg, "access denied") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "permission"):
		return model.UploadErrPermissionDenied
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return model.UploadErrNetwork
	}
	if strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "dial") {
		return model.UploadErrNetwork
	}

	return model.UploadErrUnknown
}
