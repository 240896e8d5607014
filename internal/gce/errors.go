// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package gce

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// statusCode extracts the HTTP status of an API error, 0 if the error
// did not come from the API at all.
func statusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// isRetryableUpdateError reports whether a metadata write failed in a
// way that warrants re-reading and retrying: a lost concurrency race
// (412) or a flaky backend (503).
func isRetryableUpdateError(err error) bool {
	switch statusCode(err) {
	case http.StatusPreconditionFailed, http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

// IsAccessDenied reports whether the API rejected a call for lack of
// permissions. The API is not always consistent here: a metadata write
// that fails for a missing actAs permission on the attached service
// account comes back as a 400 rather than a 403.
func IsAccessDenied(err error) bool {
	switch statusCode(err) {
	case http.StatusForbidden, http.StatusBadRequest:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether the API could not find the resource.
func IsNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}
