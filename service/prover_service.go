package service

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/internal/clock"
	"github.com/layer-3/prover/ports"
)

// Backend is a named execution target requests can be dispatched to
type Backend struct {
	Name    string
	Sandbox ports.Sandbox
	Target  core.LaunchSpec
	Timeout time.Duration
}

// ProveResult is the workload output of a successful job
type ProveResult struct {
	JobID     string
	Output    []byte
	Signature []byte // ed25519 signature over Output, nil without an identity key
}

// ProverService dispatches authenticated workload requests to backends and
// interprets the runner's raw output as a JSON document
type ProverService struct {
	runner   *Runner
	backends map[string]Backend
	eventPub ports.EventPublisher
	identity ed25519.PrivateKey
	clock    clock.Clock
	logger   *slog.Logger
}

// ProverConfig holds the collaborators of a ProverService
type ProverConfig struct {
	Runner   *Runner
	Backends []Backend
	EventPub ports.EventPublisher

	// Identity signs workload outputs when set
	Identity ed25519.PrivateKey

	Clock  clock.Clock
	Logger *slog.Logger
}

// NewProverService creates a new prover service
func NewProverService(cfg ProverConfig) (*ProverService, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	backends := make(map[string]Backend, len(cfg.Backends))
	for _, b := range cfg.Backends {
		if b.Name == "" || b.Sandbox == nil {
			return nil, fmt.Errorf("backend %q: name and sandbox are required", b.Name)
		}
		if _, dup := backends[b.Name]; dup {
			return nil, fmt.Errorf("backend %q defined twice", b.Name)
		}
		backends[b.Name] = b
	}

	return &ProverService{
		runner:   cfg.Runner,
		backends: backends,
		eventPub: cfg.EventPub,
		identity: cfg.Identity,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}, nil
}

// Prove runs payload on the named backend for subject
func (s *ProverService) Prove(ctx context.Context, subject, backend string, payload []byte) (ProveResult, error) {
	b, ok := s.backends[backend]
	if !ok {
		return ProveResult{}, fmt.Errorf("%w: %q", core.ErrUnknownBackend, backend)
	}
	if !json.Valid(payload) {
		return ProveResult{}, fmt.Errorf("%w: request body is not a JSON document", core.ErrInvalidInput)
	}

	job := core.RunnerJob{
		ID:      uuid.New().String(),
		Backend: b.Name,
		Input:   payload,
		Timeout: b.Timeout,
		Target:  b.Target,
	}

	started := s.clock.Now()
	output, err := s.runner.Run(ctx, b.Sandbox, job)
	if err == nil && !json.Valid(output) {
		err = fmt.Errorf("%w: workload output is not a JSON document", core.ErrOutputMalformed)
	}
	s.publishFinished(ctx, job, subject, s.clock.Now().Sub(started), err)
	if err != nil {
		return ProveResult{JobID: job.ID}, err
	}

	result := ProveResult{JobID: job.ID, Output: output}
	if s.identity != nil {
		result.Signature = ed25519.Sign(s.identity, output)
	}
	return result, nil
}

// Backends returns the configured backend names
func (s *ProverService) Backends() []string {
	names := make([]string, 0, len(s.backends))
	for name := range s.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IdentityKey returns the hex public key outputs are signed with, if any
func (s *ProverService) IdentityKey() string {
	if s.identity == nil {
		return ""
	}
	return hex.EncodeToString(s.identity.Public().(ed25519.PublicKey))
}

// ActiveJobs returns the number of running jobs
func (s *ProverService) ActiveJobs() int {
	return s.runner.Active()
}

func (s *ProverService) publishFinished(ctx context.Context, job core.RunnerJob, subject string, duration time.Duration, runErr error) {
	if s.eventPub == nil {
		return
	}
	result := core.JobResult{
		JobID:    job.ID,
		Backend:  job.Backend,
		Subject:  subject,
		Duration: duration,
	}
	if runErr != nil {
		result.Err = runErr.Error()
		result.ExitCode = -1
		var execErr *core.ExecutionError
		if errors.As(runErr, &execErr) {
			result.ExitCode = execErr.ExitCode
		}
	}

	if err := s.eventPub.PublishJobFinished(context.WithoutCancel(ctx), result); err != nil {
		s.logger.Warn("failed to publish job result", "job_id", job.ID, "error", err)
	}
}
