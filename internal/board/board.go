// Package board implements the federation bulletin board: citizens post
// bulletins, claim them under a lease and earn reputation for completing
// them. Persistence lives behind the Store interface.
package board

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var ErrNotFound = errors.New("not found")
var ErrAlreadyClaimed = errors.New("bulletin already claimed")
var ErrInvalidTransition = errors.New("invalid status transition")
var ErrNotClaimant = errors.New("citizen does not hold the claim")

type Citizen struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Reputation  int       `json:"reputation"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	EarnedCents int64     `json:"earned_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

type Bulletin struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	RewardCents    int64      `json:"reward_cents"`
	Status         Status     `json:"status"`
	Claimant       string     `json:"claimant,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// ExpiredClaim records one bulletin reopened by the lease sweep.
type ExpiredClaim struct {
	BulletinID string `json:"bulletin_id"`
	Claimant   string `json:"claimant"`
}

// Store is the persistence contract. Claim must be decided by a single
// conditional update so concurrent claimants cannot both win; Complete,
// Release and the expiry sweep must recompute reputation in the same
// transaction that changes the bulletin.
type Store interface {
	CreateCitizen(ctx context.Context, name string) (Citizen, error)
	GetCitizen(ctx context.Context, id string) (Citizen, error)
	ListCitizens(ctx context.Context) ([]Citizen, error)

	CreateBulletin(ctx context.Context, title, body string, rewardCents int64) (Bulletin, error)
	GetBulletin(ctx context.Context, id string) (Bulletin, error)
	ListBulletins(ctx context.Context, status Status) ([]Bulletin, error)

	Claim(ctx context.Context, bulletinID, citizenID string, leaseUntil time.Time) (Bulletin, error)
	Complete(ctx context.Context, bulletinID, citizenID string) (Bulletin, error)
	Release(ctx context.Context, bulletinID, citizenID string) (Bulletin, error)
	Cancel(ctx context.Context, bulletinID string) (Bulletin, error)
	ExpireLeases(ctx context.Context, now time.Time) ([]ExpiredClaim, error)

	Close() error
}

const (
	reputationBase         = 50
	reputationPerCompleted = 10
	reputationPerFailed    = 15
	reputationFloor        = 0
	reputationCeiling      = 1000
)

// ReputationScore derives a citizen's reputation from their record.
func ReputationScore(completed, failed int) int {
	score := reputationBase + reputationPerCompleted*completed - reputationPerFailed*failed
	if score < reputationFloor {
		return reputationFloor
	}
	if score > reputationCeiling {
		return reputationCeiling
	}
	return score
}
