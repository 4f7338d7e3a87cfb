package auth

import (
	"reflect"
	"testing"
)

func TestHasRole(t *testing.T) {
	roles := []string{RoleSubmitter, RoleReviewer}

	if !HasRole(roles, RoleSubmitter) {
		t.Error("HasRole(submitter) = false")
	}
	if HasRole(roles, RoleAdmin) {
		t.Error("HasRole(admin) = true on non-admin")
	}
	if HasRole(nil, RoleSubmitter) {
		t.Error("HasRole on nil slice = true")
	}
}

func TestHasAnyRole(t *testing.T) {
	roles := []string{RoleSubmitter}

	if !HasAnyRole(roles, RoleAdmin, RoleSubmitter) {
		t.Error("HasAnyRole should match submitter")
	}
	if HasAnyRole(roles, RoleAdmin, RoleReviewer) {
		t.Error("HasAnyRole should not match")
	}
	if HasAnyRole(roles) {
		t.Error("HasAnyRole with empty want must be false")
	}
}

func TestHasAllRoles(t *testing.T) {
	roles := []string{RoleSubmitter, RoleReviewer, RoleAdmin}

	if !HasAllRoles(roles, RoleAdmin, RoleReviewer) {
		t.Error("HasAllRoles should match")
	}
	if HasAllRoles([]string{RoleAdmin}, RoleAdmin, RoleReviewer) {
		t.Error("admin alone must not satisfy admin+reviewer")
	}
	if !HasAllRoles(nil) {
		t.Error("HasAllRoles with empty want must be true")
	}
}

func TestNormalizeRoles(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil defaults", nil, []string{RoleSubmitter}},
		{"empty defaults", []string{}, []string{RoleSubmitter}},
		{"blanks stripped", []string{"", "admin", ""}, []string{"admin"}},
		{"dedup keeps order", []string{"reviewer", "admin", "reviewer"}, []string{"reviewer", "admin"}},
		{"all blank defaults", []string{"", ""}, []string{RoleSubmitter}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeRoles(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeRoles(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
