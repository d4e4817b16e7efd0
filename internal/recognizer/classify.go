package recognizer

import (
	stderrors "errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
)

// Message fragments that mark an account or billing problem no retry fixes.
var nonRetryablePhrases = []string{"customer care", "service client", "account"}

// Message fragments of in-band errors caused by the image itself.
var invalidImagePhrases = []string{"bad image", "invalid image", "unsupported"}

// classify maps a transport error to the taxonomy and reports whether the
// retry loop may try again.
func classify(err error) (*errors.PipelineError, bool) {
	// annotators may classify their own failures
	var pe *errors.PipelineError
	if stderrors.As(err, &pe) {
		return pe, errors.IsRetryable(pe)
	}

	switch status.Code(err) {
	case codes.ResourceExhausted:
		return errors.NewQuotaExceededError(err), true
	case codes.Unavailable:
		return errors.NewServiceUnavailableError(err), true
	case codes.InvalidArgument:
		return errors.NewInvalidImageError(status.Convert(err).Message(), err), false
	}

	if containsAny(err.Error(), nonRetryablePhrases) {
		return errors.NewNonRetryableAPIError(err), false
	}
	return errors.NewAPICallFailedError(err), true
}

// classifyInBand maps an error reported inside a successful response.
// In-band errors are never retried.
func classifyInBand(message string) *errors.PipelineError {
	if containsAny(message, invalidImagePhrases) {
		return errors.NewInvalidImageError(message, nil)
	}
	return errors.NewServiceError(message)
}

func containsAny(message string, phrases []string) bool {
	lower := strings.ToLower(message)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
