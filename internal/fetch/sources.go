package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/draftwatch/internal/model"
)

// ErrAllSourcesFailed is returned by FetchAll when no configured source answered.
var ErrAllSourcesFailed = errors.New("all match sources failed")

// MatchSource defines the interface that every upstream match provider implements
type MatchSource interface {
	// Name identifies the provider in logs, metrics and ProviderSource.
	Name() string

	// FetchLive returns the provider's currently live candidates.
	FetchLive(ctx context.Context) ([]model.MatchCandidate, error)
}

// Batch is the combined result of one discovery pass.
type Batch struct {
	Candidates []model.MatchCandidate
	Succeeded  []string
	Failed     map[string]error
}

// FetchAll queries every source concurrently, each under its own timeout.
// A failing source is logged and skipped; only when every source fails is an
// error returned. Candidates keep the order of sources.
func FetchAll(ctx context.Context, sources []MatchSource, timeout time.Duration) (Batch, error) {
	type result struct {
		candidates []model.MatchCandidate
		err        error
	}

	results := make([]result, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src MatchSource) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = result{err: fmt.Errorf("panic in %s: %v", src.Name(), r)}
				}
			}()

			srcCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				srcCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			candidates, err := src.FetchLive(srcCtx)
			results[i] = result{candidates: candidates, err: err}
		}(i, src)
	}
	wg.Wait()

	batch := Batch{Failed: make(map[string]error)}
	for i, r := range results {
		name := sources[i].Name()
		if r.err != nil {
			batch.Failed[name] = r.err
			logrus.WithFields(logrus.Fields{
				"provider":  name,
				"transient": IsTransient(r.err),
			}).Warnf("Error fetching live matches: %v", r.err)
			continue
		}
		batch.Succeeded = append(batch.Succeeded, name)
		batch.Candidates = append(batch.Candidates, r.candidates...)
	}

	if len(sources) > 0 && len(batch.Succeeded) == 0 {
		errs := make([]error, 0, len(batch.Failed))
		for _, src := range sources {
			errs = append(errs, batch.Failed[src.Name()])
		}
		return batch, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
	}

	logrus.Debugf("Fetched candidates from %d/%d sources, total candidates: %d",
		len(batch.Succeeded), len(sources), len(batch.Candidates))
	return batch, nil
}
