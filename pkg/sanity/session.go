package sanity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/copperline/stile/pkg/profile"
)

// Session is an issued third-party session. The end user claims the token by
// visiting EndUserClaimURL, which sets the session cookie and redirects.
type Session struct {
	Token           string `json:"token"`
	EndUserClaimURL string `json:"endUserClaimUrl"`
}

// ClaimRedirectURL returns the claim URL with the post-claim destination
// attached as the origin query parameter.
func (s *Session) ClaimRedirectURL(destination string) string {
	return s.EndUserClaimURL + "?origin=" + url.QueryEscape(destination)
}

// IssuanceError is a failure to obtain a session from the session endpoint.
// It is fatal to the login: without a session the user cannot proceed no
// matter what state the groups are in.
type IssuanceError struct {
	StatusCode int
	Err        error
}

func (e *IssuanceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("session issuance failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("session issuance failed: %v", e.Err)
}

func (e *IssuanceError) Unwrap() error {
	return e.Err
}

// IssueSession requests a third-party session for the given user profile
func (c *Client) IssueSession(ctx context.Context, user *profile.User) (*Session, error) {
	payload, err := json.Marshal(user)
	if err != nil {
		return nil, &IssuanceError{Err: fmt.Errorf("encoding session request: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/%s/auth/thirdParty/session", c.baseURL, apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &IssuanceError{Err: fmt.Errorf("building session request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordSession("error")
		return nil, &IssuanceError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordSession("error")
		return nil, &IssuanceError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.recordSession("error")
		return nil, &IssuanceError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", string(body)),
		}
	}

	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		c.recordSession("error")
		return nil, &IssuanceError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if session.Token == "" || session.EndUserClaimURL == "" {
		c.recordSession("error")
		return nil, &IssuanceError{StatusCode: resp.StatusCode, Err: fmt.Errorf("response missing token or claim URL")}
	}

	c.recordSession("success")
	return &session, nil
}

func (c *Client) recordSession(status string) {
	if c.metrics == nil {
		return
	}
	c.metrics.SessionsIssuedTotal.WithLabelValues(status).Inc()
}
