package apikey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keygate-io/keygate/internal/observability"
	"github.com/keygate-io/keygate/internal/project"
)

// ResultKind tags the outcome of a successful validation.
type ResultKind string

// Result kinds. An override is a distinct trust tier: it carries no
// project, no record, and no permissions, and downstream handlers must
// not treat it as an authenticated tenant.
const (
	ResultAuthenticated ResultKind = "authenticated"
	ResultOverride      ResultKind = "override"
)

// Result is the authorized context produced by a successful pipeline
// pass. It exists only for the duration of one request.
type Result struct {
	Kind        ResultKind
	Credential  string
	Descriptor  *Descriptor
	Record      *KeyRecord
	Project     *project.Project
	Permissions []string
}

// IsOverride returns true if the result is the development bypass tier.
func (r *Result) IsOverride() bool {
	return r.Kind == ResultOverride
}

// ProjectID returns the authenticated project id, or the empty string
// for an override result.
func (r *Result) ProjectID() string {
	if r.Record == nil {
		return ""
	}
	return r.Record.ProjectID
}

// Validator runs the ordered validation pipeline.
type Validator interface {
	// Validate turns a raw credential and a client origin into an
	// authorized Result or an error. Deterministic failures are
	// *Rejection values; any other error is an infrastructure failure.
	Validate(ctx context.Context, raw, origin string) (*Result, error)
}

// validator implements the Validator interface.
type validator struct {
	config   *Config
	keys     Store
	projects project.Store
	logger   observability.Logger
	metrics  *Metrics
	steps    []step
	now      func() time.Time
}

// evaluation carries the per-request state threaded through the steps.
type evaluation struct {
	ctx        context.Context
	raw        string
	origin     string
	descriptor *Descriptor
	record     *KeyRecord
	project    *project.Project

	// override is set by the bypass step and terminates the pipeline.
	override bool
}

// step is one named stage of the pipeline. Returning nil continues to
// the next step; a *Rejection rejects the request; any other error is
// an infrastructure failure. The slice below is the ordering contract:
// the first failing step short-circuits everything after it.
type step struct {
	name string
	run  func(*evaluation) error
}

// ValidatorOption is a functional option for the validator.
type ValidatorOption func(*validator)

// WithValidatorLogger sets the logger for the validator.
func WithValidatorLogger(logger observability.Logger) ValidatorOption {
	return func(v *validator) {
		v.logger = logger
	}
}

// WithValidatorMetrics sets the metrics for the validator.
func WithValidatorMetrics(metrics *Metrics) ValidatorOption {
	return func(v *validator) {
		v.metrics = metrics
	}
}

// WithClock sets the time source. Used in tests.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *validator) {
		v.now = now
	}
}

// NewValidator creates a new validation pipeline over the given stores.
func NewValidator(config *Config, keys Store, projects project.Store, opts ...ValidatorOption) (Validator, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if keys == nil {
		return nil, errors.New("key store is required")
	}
	if projects == nil {
		return nil, errors.New("project store is required")
	}

	v := &validator{
		config:   config,
		keys:     keys,
		projects: projects,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.metrics == nil {
		v.metrics = NewMetrics("")
	}

	// Ordering is deliberate: expiry and revocation are checked before
	// origin so a dead credential never leaks network policy; the
	// tenant binding cross-check runs after the (cheap) record lookup
	// but before the project round trip; usage accounting runs last
	// and never rejects.
	v.steps = []step{
		{name: "bypass", run: v.stepBypass},
		{name: "parse", run: v.stepParse},
		{name: "lookup", run: v.stepLookup},
		{name: "expiry", run: v.stepExpiry},
		{name: "status", run: v.stepStatus},
		{name: "origin", run: v.stepOrigin},
		{name: "binding", run: v.stepBinding},
		{name: "project", run: v.stepProject},
		{name: "usage", run: v.stepUsage},
	}

	return v, nil
}

// Validate runs the pipeline for one request.
func (v *validator) Validate(ctx context.Context, raw, origin string) (*Result, error) {
	start := v.now()

	if raw == "" {
		rejection := NewRejection(CodeMissingCredential, "no API key provided")
		v.recordOutcome(rejection, start)
		return nil, rejection
	}

	ev := &evaluation{
		ctx:    ctx,
		raw:    raw,
		origin: origin,
	}

	for _, s := range v.steps {
		if err := s.run(ev); err != nil {
			if rejection, ok := AsRejection(err); ok {
				v.recordOutcome(rejection, start)
				v.logger.Debug("API key rejected",
					observability.String("step", s.name),
					observability.String("code", string(rejection.Code)),
				)
				return nil, rejection
			}

			v.metrics.RecordValidation("error", "store_error", v.now().Sub(start))
			v.logger.Error("validation infrastructure failure",
				observability.String("step", s.name),
				observability.Error(err),
			)
			return nil, fmt.Errorf("validation step %s: %w", s.name, err)
		}

		if ev.override {
			v.metrics.RecordValidation("success", "override", v.now().Sub(start))
			return &Result{
				Kind:       ResultOverride,
				Credential: raw,
			}, nil
		}
	}

	v.metrics.RecordValidation("success", "valid", v.now().Sub(start))
	v.logger.Debug("API key validated",
		observability.String("project_id", ev.record.ProjectID),
		observability.String("class", string(ev.record.Class)),
	)

	return &Result{
		Kind:        ResultAuthenticated,
		Credential:  raw,
		Descriptor:  ev.descriptor,
		Record:      ev.record,
		Project:     ev.project,
		Permissions: ev.record.Permissions,
	}, nil
}

// recordOutcome records a rejection in the validation metrics.
func (v *validator) recordOutcome(rejection *Rejection, start time.Time) {
	reason := strings.ToLower(string(rejection.Code))
	v.metrics.RecordValidation("error", reason, v.now().Sub(start))
}

// stepBypass recognizes the development bypass literals before any
// parsing or store access.
func (v *validator) stepBypass(ev *evaluation) error {
	for _, key := range v.config.BypassKeys {
		if ev.raw == key {
			ev.override = true
			return nil
		}
	}
	return nil
}

// stepParse decodes the credential into an untrusted descriptor.
func (v *validator) stepParse(ev *evaluation) error {
	descriptor, err := ParseKey(ev.raw)
	if err != nil {
		return NewRejection(CodeInvalidFormat, "API key format is invalid")
	}
	ev.descriptor = descriptor
	return nil
}

// stepLookup fetches the record by credential content. The rejection
// never reveals whether the embedded project id exists.
func (v *validator) stepLookup(ev *evaluation) error {
	ctx, cancel := context.WithTimeout(ev.ctx, v.config.effectiveStoreTimeout())
	defer cancel()

	record, err := v.keys.FindByCredential(ctx, ev.raw)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return NewRejection(CodeInvalidCredential, "API key is not valid")
		}
		return err
	}
	ev.record = record
	return nil
}

// stepExpiry rejects credentials past their absolute deadline.
func (v *validator) stepExpiry(ev *evaluation) error {
	if ev.record.IsExpired(v.now()) {
		return NewRejection(CodeCredentialExpired, "API key has expired")
	}
	return nil
}

// stepStatus admits active and rotated keys only.
func (v *validator) stepStatus(ev *evaluation) error {
	if !ev.record.Authorizes() {
		return NewRejection(CodeCredentialRevoked, "API key has been revoked")
	}
	return nil
}

// stepOrigin enforces the IP allowlist for production-class keys in
// hardened mode.
func (v *validator) stepOrigin(ev *evaluation) error {
	if !v.config.Hardened || ev.record.Class != ClassProduction {
		return nil
	}
	if !ev.record.AllowsOrigin(ev.origin) {
		return NewRejection(CodeOriginNotAllowed, "request origin is not in the key's IP allowlist")
	}
	return nil
}

// stepBinding cross-checks the record's project against the parsed
// descriptor, guarding against credential substitution.
func (v *validator) stepBinding(ev *evaluation) error {
	if ev.record.ProjectID != ev.descriptor.ProjectID {
		return NewRejection(CodeTenantMismatch, "API key does not belong to the referenced project")
	}
	return nil
}

// stepProject resolves the owning project; it must be active.
func (v *validator) stepProject(ev *evaluation) error {
	ctx, cancel := context.WithTimeout(ev.ctx, v.config.effectiveStoreTimeout())
	defer cancel()

	p, err := v.projects.FindActiveByID(ctx, ev.record.ProjectID)
	if err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			return NewRejection(CodeTenantNotFound, "project not found")
		}
		return err
	}
	ev.project = p
	return nil
}

// stepUsage increments the usage counter. A transient failure here
// must not reject a request that already passed every check: the
// request proceeds authenticated but unaccounted, logged distinctly.
func (v *validator) stepUsage(ev *evaluation) error {
	ctx, cancel := context.WithTimeout(ev.ctx, v.config.effectiveStoreTimeout())
	defer cancel()

	if err := v.keys.IncrementUsage(ctx, ev.raw); err != nil {
		v.metrics.RecordUsageIncrementFailure()
		v.logger.Error("usage increment failed, request admitted unaccounted",
			observability.String("project_id", ev.record.ProjectID),
			observability.Error(err),
		)
	}
	return nil
}

// Ensure validator implements Validator.
var _ Validator = (*validator)(nil)
