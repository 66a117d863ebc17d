package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserID(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{
			name:     "plain email",
			email:    "a@b.com",
			expected: "e-okta-a-b-com",
		},
		{
			name:     "plus and dot replaced",
			email:    "a.b+c@x.com",
			expected: "e-okta-a-b-c-x-com",
		},
		{
			name:     "underscores and hyphens kept",
			email:    "first_last-x@corp.example",
			expected: "e-okta-first_last-x-corp-example",
		},
		{
			name:     "unicode replaced",
			email:    "åse@ex.no",
			expected: "e-okta--se-ex-no",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, UserID(tt.email))
			// Stable across calls.
			assert.Equal(t, UserID(tt.email), UserID(tt.email))
		})
	}
}

func TestNormalizeAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		assertion    *Assertion
		expectedName string
	}{
		{
			name:         "first name only",
			assertion:    &Assertion{Email: "ada@example.com", FirstName: "Ada"},
			expectedName: "Ada",
		},
		{
			name:         "first and last name",
			assertion:    &Assertion{Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"},
			expectedName: "Ada Lovelace",
		},
		{
			name:         "last name only",
			assertion:    &Assertion{Email: "ada@example.com", LastName: "Lovelace"},
			expectedName: "Lovelace",
		},
		{
			name:         "no names",
			assertion:    &Assertion{Email: "ada@example.com"},
			expectedName: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := NormalizeAt(tt.assertion, now)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedName, user.FullName)
			assert.Equal(t, "e-okta-ada-example-com", user.UserID)
			assert.Equal(t, "ada@example.com", user.Email)
			assert.Equal(t, RoleAdministrator, user.Role)
			assert.Equal(t, SessionLabel, user.SessionLabel)
			assert.Equal(t, now.Add(SessionLength), user.SessionExpires)
		})
	}
}

func TestNormalizeMissingEmail(t *testing.T) {
	_, err := Normalize(&Assertion{FirstName: "Ada"})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Field)

	_, err = Normalize(nil)
	require.ErrorAs(t, err, &verr)
}

func TestLowerGroups(t *testing.T) {
	assert.Equal(t, []string{"engineering", "sre"}, LowerGroups([]string{"Engineering", "SRE"}))
	assert.Empty(t, LowerGroups(nil))
}
