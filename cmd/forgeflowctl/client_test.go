package main

import (
	"errors"
	"net/http"
	"testing"
)

func TestTranslateErr_MapsStatusToExitCode(t *testing.T) {
	cases := []struct {
		status int
		want   int
	}{
		{http.StatusConflict, exitConflict},
		{http.StatusUnprocessableEntity, exitValidation},
		{http.StatusNotFound, exitValidation},
		{http.StatusTooManyRequests, exitNetwork},
		{http.StatusInternalServerError, exitNetwork},
	}
	for _, tc := range cases {
		err := translateErr(&apiError{Status: tc.status, Body: "boom"})
		var ee *exitError
		if !errors.As(err, &ee) {
			t.Fatalf("status %d: expected an *exitError, got %T", tc.status, err)
		}
		if ee.Code != tc.want {
			t.Fatalf("status %d: expected exit code %d, got %d", tc.status, tc.want, ee.Code)
		}
	}
}

func TestTranslateErr_NonAPIErrorIsNetworkFailure(t *testing.T) {
	err := translateErr(errPlain("dial tcp: connection refused"))
	var ee *exitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected an *exitError, got %T", err)
	}
	if ee.Code != exitNetwork {
		t.Fatalf("expected exitNetwork, got %d", ee.Code)
	}
}

func TestTranslateErr_Nil(t *testing.T) {
	if err := translateErr(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
