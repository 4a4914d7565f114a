package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const loginRequiredPayload = `{
  "error": {
    "errors": [
      {
        "domain": "global",
        "reason": "required",
        "message": "Login Required",
        "locationType": "header",
        "location": "Authorization"
      }
    ],
    "code": 401,
    "message": "Login Required"
  }
}`

func TestNewAPIError(t *testing.T) {
	apiErr := newAPIError(401, []byte(loginRequiredPayload))

	assert.Equal(t, 401, apiErr.StatusCode)
	assert.Equal(t, 401, apiErr.Code)
	assert.Equal(t, "Login Required", apiErr.Message)
	assert.Equal(t, []ErrorDetail{{
		Domain:       "global",
		Reason:       "required",
		Message:      "Login Required",
		LocationType: "header",
		Location:     "Authorization",
	}}, apiErr.Errors)

	want := "HTTP 401: Login Required [401]\n" +
		"Errors [\n" +
		"\tMessage[Login Required] Location[Authorization - header] Reason[required] Domain[global]\n" +
		"]"
	assert.Equal(t, want, apiErr.Error())
}

func TestNewAPIErrorPlainBody(t *testing.T) {
	apiErr := newAPIError(404, []byte("Not Found\n"))

	assert.Equal(t, 0, apiErr.Code)
	assert.Empty(t, apiErr.Errors)
	assert.Equal(t, "HTTP 404: Not Found", apiErr.Error())
}

func TestNewAPIErrorMessageOnly(t *testing.T) {
	apiErr := newAPIError(400, []byte(`{"error":{"message":"Bad chunk"}}`))

	assert.Equal(t, "HTTP 400: Bad chunk", apiErr.Error())
}
