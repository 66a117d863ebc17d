package profile

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Assertion is the verified identity delivered by a federation provider.
// Groups carries whatever the provider asserted; the claim may have been a
// single string upstream and is coerced to a slice at the provider boundary.
type Assertion struct {
	Email     string   `json:"email"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Groups    []string `json:"groups,omitempty"`
}

// User is the normalized profile posted to the session service. The JSON
// field names are the session endpoint's contract.
type User struct {
	UserID         string    `json:"userId"`
	FullName       string    `json:"userFullName"`
	Email          string    `json:"userEmail"`
	Role           string    `json:"userRole"`
	SessionExpires time.Time `json:"sessionExpires"`
	SessionLabel   string    `json:"sessionLabel"`
}

const (
	// RoleAdministrator is required for the user to open the studio.
	// It has no access control significance in the store itself.
	RoleAdministrator = "administrator"

	// SessionLength is how long an issued session stays valid.
	SessionLength = 7 * 24 * time.Hour

	// SessionLabel identifies sessions minted by this service.
	SessionLabel = "Okta Saml SSO"
)

// ValidationError reports a malformed assertion. It is fatal to the login
// and raised before any store mutation.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid identity assertion: missing %s", e.Field)
}

// Valid user IDs are [A-Za-z0-9_-]; anything else becomes '-'.
var invalidIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// UserID derives the store user ID for an email address. The e- prefix marks
// the identity as externally provisioned; okta names the provider. The
// result is stable for a given email.
func UserID(email string) string {
	return "e-okta-" + invalidIDChars.ReplaceAllString(email, "-")
}

// Normalize maps an assertion into the canonical user profile.
func Normalize(a *Assertion) (*User, error) {
	return NormalizeAt(a, time.Now())
}

// NormalizeAt is Normalize with an explicit clock.
func NormalizeAt(a *Assertion, now time.Time) (*User, error) {
	if a == nil || a.Email == "" {
		return nil, &ValidationError{Field: "email"}
	}

	var names []string
	if a.FirstName != "" {
		names = append(names, a.FirstName)
	}
	if a.LastName != "" {
		names = append(names, a.LastName)
	}

	return &User{
		UserID:         UserID(a.Email),
		FullName:       strings.Join(names, " "),
		Email:          a.Email,
		Role:           RoleAdministrator,
		SessionExpires: now.Add(SessionLength),
		SessionLabel:   SessionLabel,
	}, nil
}

// LowerGroups returns the asserted group names lower-cased, the form the
// reconciler expects.
func LowerGroups(groups []string) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = strings.ToLower(g)
	}
	return out
}
