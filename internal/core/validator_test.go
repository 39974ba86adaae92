package core

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewpulse/internal/types"
)

type createRequest struct {
	Email  string `json:"email" validate:"required,email"`
	AppURL string `json:"app_url" validate:"required,playstore_url"`
}

func TestValidateStruct(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(createRequest{
		Email:  "priya@example.com",
		AppURL: "https://play.google.com/store/apps/details?id=com.example.app",
	})
	assert.NoError(t, err)
}

func TestValidateStructMissingFields(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(createRequest{})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
	assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus())
	assert.Contains(t, appErr.Details, "Email")
	assert.Contains(t, appErr.Details, "AppURL")
}

func TestValidateStructBadEmail(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(createRequest{
		Email:  "not-an-email",
		AppURL: "https://play.google.com/store/apps/details?id=com.example.app",
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Details, "Email")
	assert.NotContains(t, appErr.Details, "AppURL")
}

func TestPlayStoreURLTag(t *testing.T) {
	v := NewValidator(nil)

	bad := []string{
		"https://example.com/store/apps/details?id=com.example.app",
		"https://play.google.com/store/apps/details",
		"https://play.google.com/store/search?q=example",
		"not a url",
	}
	for _, raw := range bad {
		err := v.ValidateStruct(createRequest{Email: "priya@example.com", AppURL: raw})
		require.Error(t, err, "url %q should be rejected", raw)

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Contains(t, appErr.Details, "AppURL")
	}
}
