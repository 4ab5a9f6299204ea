package github

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		rateLimited bool
		inState     bool
	}{
		{"404", &APIError{StatusCode: 404, Message: "Not Found"}, true, false, false},
		{"429", &APIError{StatusCode: 429, Message: "slow down"}, false, true, false},
		{"403 primary limit", &APIError{StatusCode: 403, Message: "API rate limit exceeded for user"}, false, true, false},
		{"403 abuse", &APIError{StatusCode: 403, Message: "You have triggered an abuse detection mechanism"}, false, true, false},
		{"403 permission", &APIError{StatusCode: 403, Message: "Resource not accessible"}, false, false, false},
		{"already disabled", &APIError{StatusCode: 422, Message: "Workflow is already disabled"}, false, false, true},
		{"not enabled", &APIError{StatusCode: 409, Message: "Workflow is not enabled"}, false, false, true},
		{"wrapped", fmt.Errorf("outer: %w", &APIError{StatusCode: 404}), true, false, false},
		{"plain", errors.New("connection reset"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.rateLimited, IsRateLimited(tt.err))
			assert.Equal(t, tt.inState, isAlreadyInState(tt.err))
		})
	}
}

func TestAPIError_Message(t *testing.T) {
	err := parseAPIError(422, []byte(`{"message":"Validation Failed","errors":[{"resource":"Repository","field":"name","code":"already_exists"}]}`))
	assert.Equal(t, "github: HTTP 422: Validation Failed; Repository.name: already_exists", err.Error())

	raw := parseAPIError(500, []byte("upstream exploded"))
	assert.Equal(t, "github: HTTP 500: upstream exploded", raw.Error())
}
