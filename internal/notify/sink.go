// Package notify delivers recommendations to their consumers.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/draftwatch/internal/model"
)

// Sink delivers one recommendation. A nil error means it was delivered.
// Retrying a failed delivery is the sink's own business.
type Sink interface {
	Name() string
	Dispatch(ctx context.Context, rec model.Recommendation) error
}

// LogSink writes recommendations to the log. It is used for dry runs and when
// no webhook is configured.
type LogSink struct{}

// Name implements Sink.
func (LogSink) Name() string { return "log" }

// Dispatch implements Sink.
func (LogSink) Dispatch(_ context.Context, rec model.Recommendation) error {
	logrus.WithFields(logrus.Fields{
		"map_id": rec.MapID.String(),
		"league": rec.Candidate.League,
		"pick":   rec.Pick,
		"score":  rec.Score,
		"source": rec.Composition.SourceName,
	}).Info(rec.Summary)
	return nil
}
