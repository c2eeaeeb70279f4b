package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"
	ErrorCodeUnauthorized       = "UNAUTHORIZED"
	ErrorCodeForbidden          = "FORBIDDEN"
	ErrorCodeRateLimited        = "RATE_LIMITED"
	ErrorCodeInvalidCode        = "INVALID_CODE"
	ErrorCodeTwoFactorRequired  = "TWO_FACTOR_REQUIRED"
	ErrorCodeTokenNotFound      = "TOKEN_NOT_FOUND"
	ErrorCodeEventNotFound      = "EVENT_NOT_FOUND"
	ErrorCodeEventExpired       = "EVENT_EXPIRED"
	ErrorCodeInvalidAmount      = "INVALID_AMOUNT"
	ErrorCodePaymentNotRequired = "PAYMENT_NOT_REQUIRED"
	ErrorCodePaymentRequired    = "PAYMENT_REQUIRED"
	ErrorCodeEventFull          = "EVENT_FULL"
	ErrorCodeInvitationDeclined = "INVITATION_DECLINED"
	ErrorCodeInternalError      = "INTERNAL_ERROR"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	if resp.Code != getHTTPStatusForErrorCode(expectedCode) {
		t.Fatalf("expected status %d, got %d (%s)", getHTTPStatusForErrorCode(expectedCode), resp.Code, resp.Body.String())
	}

	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, errResp.Code)
	}
}

func AssertErrorMessage(t *testing.T, resp *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Message != expectedMessage {
		t.Fatalf("expected error message %q, got %q", expectedMessage, errResp.Message)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d (%s)", expectedStatus, resp.Code, resp.Body.String())
	}
}

func getHTTPStatusForErrorCode(code string) int {
	switch code {
	case ErrorCodeInvalidRequest, ErrorCodeInvalidCode, ErrorCodeInvalidAmount, ErrorCodePaymentNotRequired:
		return http.StatusBadRequest
	case ErrorCodeUnauthorized, ErrorCodeTwoFactorRequired:
		return http.StatusUnauthorized
	case ErrorCodePaymentRequired:
		return http.StatusPaymentRequired
	case ErrorCodeForbidden:
		return http.StatusForbidden
	case ErrorCodeTokenNotFound, ErrorCodeEventNotFound:
		return http.StatusNotFound
	case ErrorCodeEventFull, ErrorCodeInvitationDeclined:
		return http.StatusConflict
	case ErrorCodeEventExpired:
		return http.StatusGone
	case ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
