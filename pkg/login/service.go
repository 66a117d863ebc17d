// Package login orchestrates a complete SSO login: profile normalization,
// group membership reconciliation, and third-party session issuance.
package login

import (
	"context"
	"errors"

	"github.com/copperline/stile/pkg/groups"
	"github.com/copperline/stile/pkg/observability"
	"github.com/copperline/stile/pkg/profile"
	"github.com/copperline/stile/pkg/sanity"
)

// Issuer mints sessions for normalized user profiles
type Issuer interface {
	IssueSession(ctx context.Context, user *profile.User) (*sanity.Session, error)
}

// Reconciler converges a user's stored group memberships with the asserted
// group names
type Reconciler interface {
	Reconcile(ctx context.Context, userID string, assertedNames []string) error
}

// Result is a completed login. ReconcileErr carries any group failures; the
// session is issued regardless, since the user's ability to work does not
// depend on every group converging on this login. The next login retries.
type Result struct {
	User         *profile.User
	Session      *sanity.Session
	ReconcileErr error
}

// Service runs logins end to end
type Service struct {
	reconciler Reconciler
	issuer     Issuer
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewService creates a login service
func NewService(reconciler Reconciler, issuer Issuer, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{
		reconciler: reconciler,
		issuer:     issuer,
		logger:     logger,
		metrics:    metrics,
	}
}

// Login normalizes the assertion, reconciles group memberships, and issues a
// session. A validation or issuance failure returns an error; reconciliation
// failures are reported in Result.ReconcileErr instead.
func (s *Service) Login(ctx context.Context, assertion *profile.Assertion) (*Result, error) {
	user, err := profile.Normalize(assertion)
	if err != nil {
		return nil, err
	}

	logger := s.logger.WithField("user_id", user.UserID)

	reconcileErr := s.reconciler.Reconcile(ctx, user.UserID, profile.LowerGroups(assertion.Groups))
	if reconcileErr != nil {
		var partial *groups.PartialReconciliationError
		if errors.As(reconcileErr, &partial) {
			logger.WithFields(map[string]interface{}{
				"failed_groups": partial.FailedGroups(),
			}).Warn("group reconciliation partially failed")
			s.recordReconciliation("partial")
		} else {
			logger.WithError(reconcileErr).Warn("group reconciliation failed")
			s.recordReconciliation("error")
		}
	} else {
		s.recordReconciliation("success")
	}

	session, err := s.issuer.IssueSession(ctx, user)
	if err != nil {
		logger.WithError(err).Error("session issuance failed")
		return nil, err
	}

	logger.Info("login completed")
	return &Result{
		User:         user,
		Session:      session,
		ReconcileErr: reconcileErr,
	}, nil
}

func (s *Service) recordReconciliation(status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ReconciliationsTotal.WithLabelValues(status).Inc()
}
