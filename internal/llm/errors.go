package llm

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	"github.com/jonathan/post-studio/internal/generation"
)

var (
	errNoCandidates = errors.New("no candidates in response")
	errNoContent    = errors.New("no content in response")
)

// classifyAPIError maps a Gemini client error onto a generation failure code.
func classifyAPIError(err error) *generation.Error {
	if err == nil {
		return nil
	}

	var genErr *generation.Error
	if errors.As(err, &genErr) {
		return genErr
	}

	if errors.Is(err, errNoCandidates) || errors.Is(err, errNoContent) {
		return generation.NewError(generation.CodeMalformed, "model returned no usable output", err)
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return generation.NewError(generation.CodeUnknown, "request blocked by safety filters", err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return generation.NewError(generation.CodeQuota, "rate limit or quota exceeded", err)
		case apiErr.Code == http.StatusRequestTimeout || apiErr.Code == http.StatusGatewayTimeout:
			return generation.NewError(generation.CodeTimeout, "model call timed out", err)
		case apiErr.Code >= http.StatusInternalServerError:
			return generation.NewError(generation.CodeNetwork, "model service unavailable", err)
		default:
			return generation.NewError(generation.CodeUnknown, "request rejected by model service", err)
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "quota") {
		return generation.NewError(generation.CodeQuota, "rate limit or quota exceeded", err)
	}
	return generation.Classify(err)
}
