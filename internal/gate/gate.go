// Package gate decides whether the signed-in user may open a gated resource.
// Every attempt verifies afresh; nothing is remembered between attempts.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"verichat/internal/common"
	"verichat/internal/identity"
	"verichat/internal/logger"
	"verichat/internal/metrics"
)

type Kind string

const (
	KindChannel       Kind = "channel"
	KindForumCategory Kind = "forum_category"
)

// Resource is anything navigable that may require a credential.
type Resource struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	IsGated bool   `json:"isGated"`
	// Path is the navigation target; defaults to "/<kind>/<id>".
	Path string `json:"path,omitempty"`
	// Credential overrides the kind's default credential type.
	Credential string `json:"credential,omitempty"`
	ReturnURL  string `json:"returnUrl,omitempty"`
}

func (r Resource) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.Kind, validation.Required),
	)
}

func (r Resource) target() string {
	if r.Path != "" {
		return r.Path
	}
	return fmt.Sprintf("/%s/%s", r.Kind, r.ID)
}

type Status string

const (
	StatusIdle      Status = "idle"
	StatusVerifying Status = "verifying"
	StatusGranted   Status = "granted"
	StatusDenied    Status = "denied"
)

var transitions = map[Status][]Status{
	StatusIdle:      {StatusVerifying, StatusGranted},
	StatusVerifying: {StatusGranted, StatusDenied},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Attempt is one pass through the gate.
type Attempt struct {
	ID         string    `json:"id"`
	Resource   Resource  `json:"resource"`
	Credential string    `json:"credential,omitempty"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`

	// Err is the verification failure behind a denial.
	Err error `json:"-"`
}

// Navigator moves the user to a resource. It is called at most once per
// attempt, and only when access is granted.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

type Verifier interface {
	VerifyCredential(ctx context.Context, credentialType, returnURL string) (identity.Verification, error)
}

// Observer sees every status change of every attempt.
type Observer func(Attempt)

type Gate struct {
	verifier Verifier
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu        sync.RWMutex
	defaults  map[Kind]string
	observers []Observer
}

type Option func(*Gate)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.log = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func WithObserver(o Observer) Option {
	return func(g *Gate) {
		if o != nil {
			g.observers = append(g.observers, o)
		}
	}
}

// WithDefaultCredential sets the credential type required by resources of kind.
func WithDefaultCredential(kind Kind, credentialType string) Option {
	return func(g *Gate) { g.defaults[kind] = credentialType }
}

func New(v Verifier, opts ...Option) *Gate {
	g := &Gate{
		verifier: v,
		log:      zap.NewNop(),
		now:      time.Now,
		defaults: map[Kind]string{
			KindChannel:       "developer",
			KindForumCategory: "expert",
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Observe registers o for all subsequent attempts.
func (g *Gate) Observe(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, o)
}

// CredentialFor returns the credential type implied by r.
func (g *Gate) CredentialFor(r Resource) string {
	if r.Credential != "" {
		return r.Credential
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.defaults[r.Kind]
}

func (g *Gate) move(a *Attempt, to Status) {
	if !canTransition(a.Status, to) {
		panic(fmt.Sprintf("gate: invalid transition %s -> %s", a.Status, to))
	}
	a.Status = to
	if to == StatusGranted || to == StatusDenied {
		a.FinishedAt = g.now()
	}

	g.mu.RLock()
	observers := append([]Observer(nil), g.observers...)
	g.mu.RUnlock()
	for _, o := range observers {
		o(*a)
	}
}

// Enter runs one attempt to open r. Ungated resources are opened directly.
// A denial is reported through the attempt, not the error. The error is set
// for invalid input, a failed navigation, and for verification failures
// caused by a misconfigured or uninitialized deployment; those attempts still
// end denied. nav is called exactly once when access is granted and never
// otherwise.
func (g *Gate) Enter(ctx context.Context, r Resource, nav Navigator) (*Attempt, error) {
	if err := r.Validate(); err != nil {
		return nil, common.E(common.ErrInvalidInput, "enter gate", err)
	}
	a := &Attempt{
		ID:        uuid.NewString(),
		Resource:  r,
		Status:    StatusIdle,
		StartedAt: g.now(),
	}
	log := g.log.With(zap.String("attempt_id", a.ID), logger.ResourceID(r.ID))

	if r.IsGated {
		a.Credential = g.CredentialFor(r)
		g.metrics.GateStarted()
		g.move(a, StatusVerifying)

		err := g.verify(ctx, a)
		if err != nil {
			a.Err = err
			a.Error = err.Error()
			g.move(a, StatusDenied)
			g.metrics.GateFinished(a.Credential, string(StatusDenied))
			if misconfigured(err) {
				log.Error("gate verification misconfigured", zap.String("credential", a.Credential), zap.Error(err))
				return a, err
			}
			log.Info("gate denied", zap.String("credential", a.Credential), zap.Error(err))
			return a, nil
		}
		g.metrics.GateFinished(a.Credential, string(StatusGranted))
	}

	g.move(a, StatusGranted)
	log.Info("gate granted", zap.String("credential", a.Credential))
	if err := nav.Navigate(ctx, r.target()); err != nil {
		return a, fmt.Errorf("navigate to %s: %w", r.target(), err)
	}
	return a, nil
}

func (g *Gate) verify(ctx context.Context, a *Attempt) error {
	if a.Credential == "" {
		return common.E(common.ErrConfiguration, "verify credential",
			fmt.Errorf("no credential type for %s resources", a.Resource.Kind))
	}
	_, err := g.verifier.VerifyCredential(ctx, a.Credential, a.Resource.ReturnURL)
	return err
}

func misconfigured(err error) bool {
	return errors.Is(err, common.ErrConfiguration) || errors.Is(err, common.ErrNotInitialized)
}
