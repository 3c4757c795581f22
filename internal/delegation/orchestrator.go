// Package delegation implements the Delegation Orchestrator: it schedules a
// DAG of delegated briefs with bounded concurrency, retries a failed brief
// with exponential backoff, and — departing from a simpler engine that
// would just mark one node failed — cascades cancellation to every
// transitive descendant of a brief that exhausts its retries, since a
// downstream step built on a failed upstream step's output cannot succeed.
package delegation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BriefRunner executes one delegation brief against the model router,
// returning its textual output.
type BriefRunner interface {
	RunBrief(ctx context.Context, sessionID string, brief models.DelegationBrief) (string, error)
}

// Orchestrator schedules and runs a DelegationRequest's brief DAG.
type Orchestrator struct {
	store   store.Store
	runner  BriefRunner
	cfg     config.DelegationConfig
	breaker *gobreaker.CircuitBreaker
}

// NewOrchestrator wires a BriefRunner (typically the Model Router) into a
// concurrency- and retry-bounded DAG scheduler.
func NewOrchestrator(s store.Store, runner BriefRunner, cfg config.DelegationConfig) *Orchestrator {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 4
	}
	if cfg.FailureCircuitBreakerThreshold <= 0 {
		cfg.FailureCircuitBreakerThreshold = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "delegation-runner",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureCircuitBreakerThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("delegation runner circuit breaker state change")
		},
	})
	return &Orchestrator{store: s, runner: runner, cfg: cfg, breaker: breaker}
}

type jobState int

const (
	pending jobState = iota
	done
	cancelled
)

// Run validates the brief DAG, then schedules it round by round: every
// round dispatches all briefs whose dependencies are satisfied, bounded by
// MaxConcurrentJobs, and waits for the round to finish before computing
// the next one.
func (o *Orchestrator) Run(ctx context.Context, req *models.DelegationRequest) (*models.DelegationResult, error) {
	children, err := validateDAG(req.Briefs)
	if err != nil {
		return nil, fmt.Errorf("invalid delegation DAG: %w", err)
	}

	briefByID := make(map[string]models.DelegationBrief, len(req.Briefs))
	jobs := make(map[string]*models.OrchestrationJob, len(req.Briefs))
	for _, b := range req.Briefs {
		briefByID[b.ID] = b
		job := &models.OrchestrationJob{
			ID:            uuid.NewString(),
			SessionID:     req.SessionID,
			BriefID:       b.ID,
			ParentMessage: req.ParentMessage,
			State:         models.JobQueued,
			CreatedAt:     time.Now().UTC(),
		}
		if err := o.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create job for brief %s: %w", b.ID, err)
		}
		jobs[b.ID] = job
	}

	states := make(map[string]jobState, len(req.Briefs))
	for id := range briefByID {
		states[id] = pending
	}

	sem := make(chan struct{}, o.cfg.MaxConcurrentJobs)
	hasFailures := false

	remaining := len(briefByID)
	for remaining > 0 {
		ready := o.readySet(briefByID, states)
		if len(ready) == 0 {
			// Every pending brief is blocked by a cancelled or still-pending
			// dependency with no path forward — cascade cancellation should
			// have already resolved this; break defensively.
			break
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, id := range ready {
			id := id
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				o.runOne(ctx, briefByID[id], jobs[id])

				mu.Lock()
				defer mu.Unlock()
				if jobs[id].State == models.JobFailed {
					hasFailures = true
					for _, descID := range descendants(children, id) {
						if states[descID] == pending {
							states[descID] = cancelled
							o.cancelJob(ctx, jobs[descID], fmt.Sprintf("upstream brief %s failed", id))
						}
					}
				}
				states[id] = done
			}()
		}
		wg.Wait()
		remaining = o.countPending(states)
	}

	out := make([]models.OrchestrationJob, 0, len(req.Briefs))
	for _, b := range req.Briefs {
		out = append(out, *jobs[b.ID])
	}

	summary := fmt.Sprintf("%d briefs completed", countByState(out, models.JobCompleted))
	if hasFailures {
		summary = fmt.Sprintf("%s, %d failed, %d cancelled", summary, countByState(out, models.JobFailed), countByState(out, models.JobCancelled))
	}

	return &models.DelegationResult{Jobs: out, Summary: summary, HasFailures: hasFailures}, nil
}

func (o *Orchestrator) countPending(states map[string]jobState) int {
	n := 0
	for _, s := range states {
		if s == pending {
			n++
		}
	}
	return n
}

// readySet returns briefs whose dependencies are all terminal (done or
// cancelled) and which are themselves still pending.
func (o *Orchestrator) readySet(briefByID map[string]models.DelegationBrief, states map[string]jobState) []string {
	var ready []string
	for id, b := range briefByID {
		if states[id] != pending {
			continue
		}
		allSatisfied := true
		for _, dep := range b.DependsOn {
			if states[dep] == pending {
				allSatisfied = false
				break
			}
		}
		if allSatisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

func (o *Orchestrator) cancelJob(ctx context.Context, job *models.OrchestrationJob, reason string) {
	job.State = models.JobCancelled
	job.Error = reason
	now := time.Now().UTC()
	job.FinishedAt = &now
	_ = o.store.UpdateJob(ctx, job)
	_ = o.store.AppendOrchestrationEvent(ctx, &models.OrchestrationEvent{
		ID: uuid.NewString(), JobID: job.ID, Kind: "cascade_cancelled", Detail: reason, CreatedAt: now,
	})
}

// runOne executes a brief with retry and circuit-breaker protection,
// persisting the job's state transitions and timeline as it goes.
func (o *Orchestrator) runOne(ctx context.Context, brief models.DelegationBrief, job *models.OrchestrationJob) {
	now := time.Now().UTC()
	job.State = models.JobRunning
	job.StartedAt = &now
	_ = o.store.UpdateJob(ctx, job)
	_ = o.store.AppendOrchestrationEvent(ctx, &models.OrchestrationEvent{
		ID: uuid.NewString(), JobID: job.ID, Kind: "started", Detail: brief.Title, CreatedAt: now,
	})

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	maxAttempts := o.cfg.MaxRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	runCtx := ctx
	if brief.Constraints.TimeoutMs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(brief.Constraints.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts+1; attempt++ {
		job.Attempt = attempt
		out, err := o.breaker.Execute(func() (interface{}, error) {
			return o.runner.RunBrief(runCtx, job.SessionID, brief)
		})
		if err == nil {
			output := out.(string)
			finished := time.Now().UTC()
			job.State = models.JobCompleted
			job.Output = &output
			job.FinishedAt = &finished
			_ = o.store.UpdateJob(ctx, job)
			_ = o.store.AppendOrchestrationEvent(ctx, &models.OrchestrationEvent{
				ID: uuid.NewString(), JobID: job.ID, Kind: "completed", CreatedAt: finished,
			})
			return
		}

		lastErr = err
		_ = o.store.AppendOrchestrationEvent(ctx, &models.OrchestrationEvent{
			ID: uuid.NewString(), JobID: job.ID, Kind: "attempt_failed", Detail: err.Error(), CreatedAt: time.Now().UTC(),
		})
		if attempt <= maxAttempts {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-runCtx.Done():
				lastErr = runCtx.Err()
				attempt = maxAttempts + 1
			}
		}
	}

	finished := time.Now().UTC()
	job.State = models.JobFailed
	job.Error = lastErr.Error()
	job.FinishedAt = &finished
	_ = o.store.UpdateJob(ctx, job)
	_ = o.store.AppendOrchestrationEvent(ctx, &models.OrchestrationEvent{
		ID: uuid.NewString(), JobID: job.ID, Kind: "failed", Detail: job.Error, CreatedAt: finished,
	})
}

func countByState(jobs []models.OrchestrationJob, state models.JobState) int {
	n := 0
	for _, j := range jobs {
		if j.State == state {
			n++
		}
	}
	return n
}
