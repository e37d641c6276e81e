package types

import (
	"strings"
	"testing"
)

func TestIssueAttributesValidate(t *testing.T) {
	tests := []struct {
		name    string
		attrs   IssueAttributes
		wantErr bool
		errMsg  string
	}{
		{
			name:  "valid attributes",
			attrs: IssueAttributes{Title: "Valid issue", State: StateOpen},
		},
		{
			name:    "missing title",
			attrs:   IssueAttributes{State: StateOpen},
			wantErr: true,
			errMsg:  "title is required",
		},
		{
			name:    "title too long",
			attrs:   IssueAttributes{Title: strings.Repeat("x", 501), State: StateClosed},
			wantErr: true,
			errMsg:  "title must be 500 characters or less",
		},
		{
			name:    "unknown state",
			attrs:   IssueAttributes{Title: "Test", State: "resolved"},
			wantErr: true,
			errMsg:  "invalid state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.attrs.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.errMsg)
			}
		})
	}
}

func TestRemoteIdentityLabel(t *testing.T) {
	tests := []struct {
		id   RemoteIdentity
		want string
	}{
		{RemoteIdentity{ID: "1", Username: "jdoe", DisplayName: "Jane Doe"}, "Jane Doe"},
		{RemoteIdentity{ID: "1", Username: "jdoe", Email: "j@example.com"}, "jdoe"},
		{RemoteIdentity{ID: "1", Email: "j@example.com"}, "j@example.com"},
		{RemoteIdentity{ID: "1"}, "1"},
	}
	for _, tt := range tests {
		if got := tt.id.Label(); got != tt.want {
			t.Errorf("Label() = %q, want %q", got, tt.want)
		}
	}
	if !(RemoteIdentity{}).IsZero() {
		t.Error("empty identity should be zero")
	}
}
