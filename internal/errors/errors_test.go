package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestToHTTPErrorValidationCarriesField(t *testing.T) {
	status, body := ToHTTPError(NewValidationError("assignees", "at least one assignee is required"))
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
	if body["field"] != "assignees" || body["error"] != "VALIDATION_ERROR" || body["success"] != false {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestToHTTPErrorUnwrapsWrapped(t *testing.T) {
	err := fmt.Errorf("saving task: %w", NewNotFoundError("task"))
	status, body := ToHTTPError(err)
	if status != http.StatusNotFound || body["message"] != "task not found" {
		t.Fatalf("got %d %v", status, body)
	}
	if !IsNotFound(err) {
		t.Fatal("IsNotFound should see through wrapping")
	}
}

func TestToHTTPErrorHidesUnknown(t *testing.T) {
	status, body := ToHTTPError(stderrors.New("pq: connection refused"))
	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d", status)
	}
	if body["message"] != "internal server error" {
		t.Fatalf("leaked message %v", body["message"])
	}
	if !IsInternal(stderrors.New("x")) || IsInternal(NewConflictError("code")) {
		t.Fatal("IsInternal mismatch")
	}
}

func TestExportUnavailable(t *testing.T) {
	status, body := ToHTTPError(NewExportUnavailableError("pdf"))
	if status != http.StatusServiceUnavailable || body["error"] != "EXPORT_UNAVAILABLE" {
		t.Fatalf("got %d %v", status, body)
	}
}

func TestStatusPerCode(t *testing.T) {
	cases := []struct {
		err    PortalError
		status int
	}{
		{NewNotFoundError("project"), http.StatusNotFound},
		{NewValidationError("title", "title is required"), http.StatusBadRequest},
		{NewPermissionDeniedMessage("admins only"), http.StatusForbidden},
		{NewUnauthorizedError(""), http.StatusUnauthorized},
		{NewConflictError("division code"), http.StatusConflict},
		{NewBadRequestError("invalid id"), http.StatusBadRequest},
		{NewInternalError(stderrors.New("disk full")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.err.HTTPStatus(); got != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.err.Code(), got, tc.status)
		}
	}
	if NewUnauthorizedError("").Error() != "authentication required" {
		t.Fatal("default unauthorized message missing")
	}
}
