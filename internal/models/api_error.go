package models

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is a structured failure returned by a backend collaborator
type APIError struct {
	Status       int    `json:"status"`
	Code         string `json:"code,omitempty"`
	Detail       string `json:"detail,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Code != "" {
		return fmt.Sprintf("request failed with status %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// HasCode reports whether the error carries one of the given codes
func (e *APIError) HasCode(codes ...string) bool {
	for _, c := range codes {
		if strings.EqualFold(e.Code, c) {
			return true
		}
	}
	return false
}

// AsAPIError unwraps err into an *APIError
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
