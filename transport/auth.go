package transport

import (
	"fmt"
	"net/http"
)

// Authorizer attaches credentials to every request of an upload.
type Authorizer interface {
	Authorize(req *http.Request) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(req *http.Request) error

// Authorize ...
func (f AuthorizerFunc) Authorize(req *http.Request) error {
	return f(req)
}

// BearerToken sends a static OAuth access token.
type BearerToken string

// Authorize ...
func (t BearerToken) Authorize(req *http.Request) error {
	if t == "" {
		return fmt.Errorf("empty bearer token")
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", string(t)))
	return nil
}
