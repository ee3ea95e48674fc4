package model

import (
	"fmt"
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"consumer", RoleConsumer, false},
		{"user", RoleConsumer, false},
		{" Business ", RoleBusiness, false},
		{"admin", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRole(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRole_ImageNamespace(t *testing.T) {
	if got := RoleConsumer.ImageNamespace(); got != "profile" {
		t.Errorf("consumer namespace = %q, want profile", got)
	}
	if got := RoleBusiness.ImageNamespace(); got != "logo" {
		t.Errorf("business namespace = %q, want logo", got)
	}
}

func TestRefreshToken_IsExpired(t *testing.T) {
	now := time.Now()
	rt := &RefreshToken{ExpiresAt: now}
	if !rt.IsExpired(now) {
		t.Error("token expiring exactly now should be expired")
	}
	if rt.IsExpired(now.Add(-time.Second)) {
		t.Error("token should be valid before its expiry")
	}
}

func TestHasCode_WrappedError(t *testing.T) {
	err := fmt.Errorf("signin: %w", NewInvalidCredentialsError())
	if !HasCode(err, ErrCodeInvalidCredentials) {
		t.Error("expected wrapped APIError to be detected")
	}
	if HasCode(err, ErrCodeUserNotFound) {
		t.Error("unexpected code match")
	}
	if HasCode(fmt.Errorf("plain"), ErrCodeInvalidCredentials) {
		t.Error("plain error must not match")
	}
}
