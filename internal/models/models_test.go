package models

import (
	"errors"
	"strings"
	"testing"
)

func TestCanonicalPhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{"whatsapp:+5511999998888", "+5511999998888", nil},
		{"+55 (11) 99999-8888", "+5511999998888", nil},
		{"5511999998888", "+5511999998888", nil},
		{"", "", ErrEmptyPhone},
		{"whatsapp:", "", ErrEmptyPhone},
		{"12345", "", ErrInvalidPhone},
		{"+55abc11999998888", "", ErrInvalidPhone},
		{"1234567890123456", "", ErrInvalidPhone},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CanonicalPhone(tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestUserValidate(t *testing.T) {
	u := User{PhoneNumber: "+5511999998888", Name: "João", Email: "joao@example.com", Address: "Rua Das Flores 900", Birthdate: "30/01/1990"}
	if err := u.Validate(); err != nil {
		t.Errorf("expected valid user, got %v", err)
	}

	u.Email = ""
	if err := u.Validate(); !errors.Is(err, ErrMissingUserData) {
		t.Errorf("expected ErrMissingUserData, got %v", err)
	}

	u.PhoneNumber = ""
	if err := u.Validate(); !errors.Is(err, ErrEmptyPhone) {
		t.Errorf("expected ErrEmptyPhone, got %v", err)
	}
}

func TestSendMessageRequestValidate(t *testing.T) {
	if err := (&SendMessageRequest{Body: "  "}).Validate(); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
	long := strings.Repeat("a", MaxMessageLength+1)
	if err := (&SendMessageRequest{Body: long}).Validate(); !errors.Is(err, ErrBodyTooLong) {
		t.Errorf("expected ErrBodyTooLong, got %v", err)
	}
	if err := (&SendMessageRequest{Body: "oi"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success(map[string]int{"n": 1})
	if ok.Status != string(APIStatusOK) || ok.Result == nil {
		t.Errorf("unexpected success response %+v", ok)
	}
	e := Error("boom")
	if e.Status != string(APIStatusError) || e.Message != "boom" || e.Result != nil {
		t.Errorf("unexpected error response %+v", e)
	}
	m := SuccessWithMessage("done", nil)
	if m.Message != "done" {
		t.Errorf("unexpected message response %+v", m)
	}
}
