// Package sso implements federated login against external identity
// providers. SAML 2.0 is the primary protocol (Okta SAML apps); OpenID
// Connect is supported for providers configured that way. Verified
// assertions are handed to the login service, which reconciles group
// memberships and issues a content store session.
package sso
