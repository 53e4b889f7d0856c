// Package detect implements the built-in fraud pattern detectors.
//
// Every detector is a pure read: it queries the history reader for one
// customer, compares against the injected thresholds, and returns a
// PatternResult. Detectors never mutate state and never depend on another
// detector's output, so they are evaluated in parallel.
package detect

import (
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Confidence assigned when a detector has too little history to judge.
// Deliberately lower than any detector's clean-history confidence, so callers
// can tell "no signal available" from "signal available and clean".
const insufficientConfidence = 0.1

// Detector evaluates one behavioral dimension of a customer's history.
type Detector interface {
	Name() string
	Detect(ctx context.Context, hist domain.HistoryReader, customerID string, th domain.Thresholds, now time.Time) (domain.PatternResult, error)
}

// Builtin returns the seven built-in detectors in evaluation order.
func Builtin() []Detector {
	return []Detector{
		rapidRequests{},
		highDebtRatio{},
		crossMerchantChains{},
		paymentDefaults{},
		velocityPatterns{},
		productPatterns{},
		behavioralAnomalies{},
	}
}

// RunAll evaluates detectors in parallel and collects results in detector
// order. Evaluation is fail-closed: if any detector cannot complete its
// reads, RunAll returns an error and no results, because a silently zeroed
// contribution is indistinguishable from a clean customer.
func RunAll(ctx context.Context, detectors []Detector, hist domain.HistoryReader, customerID string, th domain.Thresholds, now time.Time, maxWorkers int) ([]domain.PatternResult, error) {
	if maxWorkers <= 0 {
		maxWorkers = len(detectors)
	}

	results := make([]domain.PatternResult, len(detectors))
	errs := make([]error, len(detectors))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxWorkers)

	for i, det := range detectors {
		wg.Add(1)
		go func(idx int, d Detector) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx], errs[idx] = d.Detect(ctx, hist, customerID, th, now)
		}(i, det)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, &domain.DataAccessError{Op: detectors[i].Name(), Err: err}
		}
	}

	return results, nil
}

// insufficient builds the shared not-enough-history result.
func insufficient(name, description string, details map[string]any) domain.PatternResult {
	return domain.PatternResult{
		Name:        name,
		Detected:    false,
		RiskPoints:  0,
		Confidence:  insufficientConfidence,
		Details:     details,
		Description: description,
	}
}
