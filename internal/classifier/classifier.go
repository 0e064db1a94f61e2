// Package classifier tags the newest historical view event as internal or
// external traffic.
package classifier

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"viewrollup/internal/views"
)

// Status describes what a classification run did.
type Status string

const (
	StatusNoCandidate       Status = "no-candidate"
	StatusAlreadyClassified Status = "already-classified"
	StatusInternal          Status = "classified-internal"
	StatusExternal          Status = "classified-external"
)

// Outcome reports the candidate event and what happened to it.
type Outcome struct {
	Status    Status `json:"status" yaml:"status"`
	EventID   string `json:"eventId,omitempty" yaml:"eventId,omitempty"`
	Timestamp string `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// Written reports whether the run modified a document.
func (o Outcome) Written() bool {
	return o.Status == StatusInternal || o.Status == StatusExternal
}

// Classifier flags events coming from the internal ip.
type Classifier struct {
	db         *gorm.DB
	logger     *slog.Logger
	internalIP string
	cutoff     string
}

// New creates a Classifier considering events strictly older than cutoff.
func New(db *gorm.DB, logger *slog.Logger, internalIP, cutoff string) *Classifier {
	return &Classifier{
		db:         db,
		logger:     logger,
		internalIP: internalIP,
		cutoff:     cutoff,
	}
}

// Run reads the candidate and writes its flag inside one transaction, so a
// concurrent reader sees the event either before or after the update. An
// event that already carries a flag is left untouched.
func (c *Classifier) Run(ctx context.Context) (Outcome, error) {
	var outcome Outcome

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate, err := views.NewestBefore(ctx, tx, c.cutoff)
		if err != nil {
			return err
		}
		if candidate == nil {
			outcome = Outcome{Status: StatusNoCandidate}
			return nil
		}

		outcome = Outcome{EventID: candidate.ID, Timestamp: candidate.Timestamp}
		if candidate.Classified() {
			outcome.Status = StatusAlreadyClassified
			return nil
		}

		internal := candidate.IP == c.internalIP
		if err := views.SetInternalView(ctx, tx, candidate.ID, internal); err != nil {
			return err
		}
		if internal {
			outcome.Status = StatusInternal
		} else {
			outcome.Status = StatusExternal
		}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("classification transaction failed: %w", err)
	}

	c.logger.Info("Classification transaction committed",
		slog.String("status", string(outcome.Status)),
		slog.String("event_id", outcome.EventID),
		slog.String("cutoff", c.cutoff))

	return outcome, nil
}
