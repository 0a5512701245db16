package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/internal/domain"
	"github.com/continuumhq/continuum/internal/metrics"
)

// VerificationTask asks the background verifier to confirm the polarity
// flip alerts produced by one turn. Version is the graph version captured
// when the task was created; the worker discards the task if the live graph
// has moved past it.
type VerificationTask struct {
	ID             string
	ConversationID string
	Version        int
	AlertIDs       []string
}

// Verifier consumes verification tasks off a channel and applies oracle
// verdicts to stored graphs. It is the only writer outside the synchronous
// request path, and every write is gated on an optimistic version check.
type Verifier struct {
	store   domain.GraphStore
	oracle  domain.OracleClient
	logger  *zap.Logger
	timeout time.Duration

	tasks  chan VerificationTask
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewVerifier(store domain.GraphStore, oracle domain.OracleClient, logger *zap.Logger) *Verifier {
	return &Verifier{
		store:   store,
		oracle:  oracle,
		logger:  logger,
		timeout: 30 * time.Second,
		tasks:   make(chan VerificationTask, 64),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (v *Verifier) Start() {
	v.wg.Add(1)
	go v.run()
	v.logger.Info("verification worker started")
}

// Stop signals the worker and blocks until it drains.
func (v *Verifier) Stop() {
	close(v.stopCh)
	v.wg.Wait()
	v.logger.Info("verification worker stopped")
}

// Enqueue submits a task without blocking. A full queue drops the task;
// the alerts stay pending and the next reconcile pass can retry them.
func (v *Verifier) Enqueue(conversationID string, version int, alertIDs []string) string {
	if len(alertIDs) == 0 {
		return ""
	}
	task := VerificationTask{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Version:        version,
		AlertIDs:       alertIDs,
	}
	select {
	case v.tasks <- task:
		v.logger.Debug("verification task enqueued",
			zap.String("task_id", task.ID),
			zap.String("conversation_id", conversationID),
			zap.Int("version", version),
			zap.Int("alerts", len(alertIDs)))
		return task.ID
	default:
		metrics.VerificationTasks.WithLabelValues("dropped").Inc()
		v.logger.Warn("verification queue full, dropping task",
			zap.String("conversation_id", conversationID))
		return ""
	}
}

func (v *Verifier) run() {
	defer v.wg.Done()
	for {
		select {
		case <-v.stopCh:
			return
		case task := <-v.tasks:
			ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
			v.process(ctx, task)
			cancel()
		}
	}
}

// verdictOutcome pairs an alert with its oracle verdict. A nil verdict
// means the alert falls back to unverified (oracle failure or an alert the
// oracle cannot judge).
type verdictOutcome struct {
	alertID string
	verdict *domain.VerificationResult
}

// process computes oracle verdicts against a snapshot of the graph, then
// reloads it and compares the captured version at completion, before any
// write. The oracle calls are slow; a turn can land while they are in
// flight, and its state must never be overwritten by a stale Put. Results
// computed against a moved version are discarded wholesale, never merged.
func (v *Verifier) process(ctx context.Context, task VerificationTask) {
	snapshot, err := v.store.Get(ctx, task.ConversationID)
	if err != nil {
		metrics.VerificationTasks.WithLabelValues("graph_unavailable").Inc()
		v.logger.Warn("verification task dropped, graph unavailable",
			zap.String("task_id", task.ID),
			zap.String("conversation_id", task.ConversationID),
			zap.Error(err))
		return
	}
	if snapshot.Version != task.Version {
		v.discardStale(task, snapshot.Version)
		return
	}

	var outcomes []verdictOutcome
	for _, alertID := range task.AlertIDs {
		alert := snapshot.GetAlert(alertID)
		if alert == nil || alert.Verification != domain.VerificationPending {
			continue
		}
		if alert.Type != domain.AlertPolarityFlip || len(alert.RelatedCommitments) < 2 {
			outcomes = append(outcomes, verdictOutcome{alertID: alertID})
			continue
		}
		prior := snapshot.GetCommitment(alert.RelatedCommitments[0])
		next := snapshot.GetCommitment(alert.RelatedCommitments[1])
		if prior == nil || next == nil {
			outcomes = append(outcomes, verdictOutcome{alertID: alertID})
			continue
		}

		verdict, err := v.oracle.VerifyContradiction(ctx, prior.Normalized, next.Normalized)
		if err != nil {
			// Oracle down: the heuristic finding stands on its own.
			outcomes = append(outcomes, verdictOutcome{alertID: alertID})
			v.logger.Warn("oracle verification failed",
				zap.String("alert_id", alertID), zap.Error(err))
			continue
		}
		outcomes = append(outcomes, verdictOutcome{alertID: alertID, verdict: verdict})
	}

	g, err := v.store.Get(ctx, task.ConversationID)
	if err != nil {
		metrics.VerificationTasks.WithLabelValues("graph_unavailable").Inc()
		v.logger.Warn("verification task dropped, graph unavailable",
			zap.String("task_id", task.ID),
			zap.String("conversation_id", task.ConversationID),
			zap.Error(err))
		return
	}
	if g.Version != task.Version {
		v.discardStale(task, g.Version)
		return
	}

	verified, overridden := 0, 0
	for _, o := range outcomes {
		alert := g.GetAlert(o.alertID)
		if alert == nil || alert.Verification != domain.VerificationPending {
			continue
		}
		switch {
		case o.verdict == nil:
			alert.Verification = domain.VerificationUnverified
		case o.verdict.IsContradiction:
			ApplyVerification(alert, o.verdict)
			verified++
		default:
			g.Overrides = append(g.Overrides, RejectionOverride(g, alert, o.verdict))
			g.RemoveAlert(o.alertID)
			overridden++
		}
	}

	// The verdicts annotate existing state; the version does not advance
	// because no turn was processed.
	if err := v.store.Put(ctx, g); err != nil {
		metrics.VerificationTasks.WithLabelValues("put_failed").Inc()
		v.logger.Error("failed to persist verification results",
			zap.String("task_id", task.ID), zap.Error(err))
		return
	}

	metrics.VerificationTasks.WithLabelValues("completed").Inc()
	v.logger.Info("verification task complete",
		zap.String("task_id", task.ID),
		zap.String("conversation_id", task.ConversationID),
		zap.Int("verified", verified),
		zap.Int("overridden", overridden))
}

func (v *Verifier) discardStale(task VerificationTask, liveVersion int) {
	metrics.VerificationTasks.WithLabelValues("stale").Inc()
	v.logger.Info("discarding stale verification results",
		zap.String("task_id", task.ID),
		zap.String("conversation_id", task.ConversationID),
		zap.Int("expected_version", task.Version),
		zap.Int("actual_version", liveVersion))
}
