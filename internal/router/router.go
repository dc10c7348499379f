// Package router turns rule and classifier results into actions: advisories
// for low-grade signals, and block, evidence, alert and lockdown for threats.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/cooldown"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/lockdown"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/metrics"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/scheduler"
)

// ClassifierLabel tags detections and advisories raised by the classifier.
const ClassifierLabel = "ml_layer1"

// DefaultCooldown is the repeat-suppression window per sender, label and severity.
const DefaultCooldown = 20 * time.Second

type BlockUI interface {
	BlockNow(reason string)
}

type Educator interface {
	ShowAdvisory(level models.Severity, label string)
}

type EvidenceStore interface {
	Put(ctx context.Context, packet *models.EvidencePacket) error
	Get(ctx context.Context, id string) (*models.EvidencePacket, error)
}

type AlertsSink interface {
	Dispatch(ctx context.Context, alert models.ParentAlert) error
}

type KeyProvider interface {
	GetOrCreateDeviceKey(ctx context.Context) ([]byte, error)
}

type Window interface {
	Capture(it models.Interaction) error
	FreezeOnThreat(level models.Severity, reason string) *models.Snapshot
}

type RuleEvaluator interface {
	Evaluate(text string) []models.DetectionHit
}

type Classifier interface {
	Classify(text string) (models.Severity, float64)
}

type Sealer interface {
	Seal(snap *models.Snapshot, severity models.Severity, reason string, dctx models.DetectionContext, deviceKey []byte) (*models.EvidencePacket, error)
}

// Deps are the router's collaborators. Classifier and Educator are optional.
type Deps struct {
	Window     Window
	Rules      RuleEvaluator
	Classifier Classifier
	Cooldown   *cooldown.Filter
	Sealer     Sealer
	Keys       KeyProvider
	Evidence   EvidenceStore
	Alerts     AlertsSink
	Block      BlockUI
	Educator   Educator
	Lockdown   *lockdown.Timer
	Metrics    *metrics.Metrics
	Scheduler  scheduler.Scheduler
	Logger     *zap.Logger
}

type Config struct {
	CooldownWindow   time.Duration `yaml:"cooldown_window"`
	LockdownDuration time.Duration `yaml:"lockdown_duration"`
}

type Router struct {
	deps Deps
	cfg  Config
}

func New(deps Deps, cfg Config) (*Router, error) {
	var missing []string
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("window", deps.Window != nil)
	check("rules", deps.Rules != nil)
	check("sealer", deps.Sealer != nil)
	check("keys", deps.Keys != nil)
	check("evidence", deps.Evidence != nil)
	check("alerts", deps.Alerts != nil)
	check("block", deps.Block != nil)
	check("lockdown", deps.Lockdown != nil)
	check("scheduler", deps.Scheduler != nil)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: router missing %v", models.ErrValidation, missing)
	}

	if deps.Cooldown == nil {
		deps.Cooldown = cooldown.NewFilter(nil, deps.Logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.CooldownWindow <= 0 {
		cfg.CooldownWindow = DefaultCooldown
	}
	if cfg.LockdownDuration <= 0 {
		cfg.LockdownDuration = lockdown.DefaultDuration
	}
	return &Router{deps: deps, cfg: cfg}, nil
}

func (r *Router) nowMs() int64 {
	return r.deps.Scheduler.Now().UnixMilli()
}

// OnAdvisory surfaces educational content for a LOW or MEDIUM signal. It
// never blocks, seals or alerts.
func (r *Router) OnAdvisory(level models.Severity, label string) error {
	if level != models.SeverityLow && level != models.SeverityMedium {
		return fmt.Errorf("%w: advisory level must be LOW or MEDIUM, got %s", models.ErrValidation, level)
	}
	if r.deps.Educator != nil {
		r.deps.Educator.ShowAdvisory(level, label)
	}
	r.deps.Metrics.IncAdvisory(label)
	r.deps.Logger.Info("Advisory surfaced", zap.String("label", label), zap.Stringer("level", level))
	return nil
}

// OnDetection handles a HIGH or CRITICAL signal. The block runs first and
// unconditionally. Evidence, alert and lockdown follow; their failures are
// logged and counted, and the first one is returned alongside whatever
// packet was stored.
func (r *Router) OnDetection(ctx context.Context, severity models.Severity, reason string, dctx models.DetectionContext) (*models.EvidencePacket, error) {
	if !severity.IsBlocking() {
		return nil, fmt.Errorf("%w: detection severity must be HIGH or CRITICAL, got %s", models.ErrValidation, severity)
	}

	r.deps.Block.BlockNow(reason)
	r.deps.Metrics.IncBlock()

	now := r.nowMs()
	if dctx.MessageTs > 0 {
		r.deps.Metrics.ObserveTimeToBlock(time.Duration(now-dctx.MessageTs) * time.Millisecond)
	}

	log := r.deps.Logger.With(zap.String("label", dctx.Label), zap.Stringer("severity", severity))
	var errs []error

	snap := r.deps.Window.FreezeOnThreat(severity, reason)
	packet, err := r.seal(ctx, snap, severity, reason, dctx)
	if err != nil {
		r.deps.Metrics.IncSealFailure()
		log.Error("Evidence not stored", zap.String("snapshot_id", snap.ID), zap.Error(err))
		errs = append(errs, err)
	} else {
		r.deps.Metrics.IncSealed()
	}

	alert := models.ParentAlert{
		ID:          uuid.NewString(),
		CreatedAtMs: now,
		Severity:    severity,
		Headline:    reason,
		Label:       dctx.Label,
		Reasons:     dctx.Reasons,
		SenderID:    dctx.SenderID,
	}
	if packet != nil {
		alert.EvidenceID = packet.ID
	}
	if err := r.deps.Alerts.Dispatch(ctx, alert); err != nil {
		r.deps.Metrics.IncAlertFailure()
		log.Error("Parent alert dispatch failed", zap.String("alert_id", alert.ID), zap.Error(err))
		errs = append(errs, fmt.Errorf("failed to dispatch alert: %w", err))
	}

	if severity == models.SeverityCritical {
		if _, err := r.deps.Lockdown.Start(r.cfg.LockdownDuration); err != nil {
			errs = append(errs, err)
		}
		r.deps.Metrics.IncCritical()
	}

	r.deps.Metrics.Publish(r.nowMs())
	log.Info("Detection handled", zap.String("alert_id", alert.ID), zap.Bool("evidence", packet != nil))

	if len(errs) > 0 {
		return packet, errs[0]
	}
	return packet, nil
}

func (r *Router) seal(ctx context.Context, snap *models.Snapshot, severity models.Severity, reason string, dctx models.DetectionContext) (*models.EvidencePacket, error) {
	key, err := r.deps.Keys.GetOrCreateDeviceKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device key: %w", err)
	}
	packet, err := r.deps.Sealer.Seal(snap, severity, reason, dctx, key)
	if err != nil {
		return nil, err
	}
	if err := r.deps.Evidence.Put(ctx, packet); err != nil {
		return nil, fmt.Errorf("failed to store evidence: %w", err)
	}
	return packet, nil
}

// HandleMessage captures an interaction and routes its hits. Rule hits are
// taken in document order; the first unsuppressed HIGH or CRITICAL hit
// triggers detection and ends rule processing for the message. The
// classifier runs only when no rule detection fired. The returned error is
// set only when the interaction is rejected.
func (r *Router) HandleMessage(ctx context.Context, in models.Interaction) (Decision, error) {
	if err := r.deps.Window.Capture(in); err != nil {
		return Decision{}, err
	}

	d := Decision{Action: ActionNone}
	now := r.nowMs()

	for _, hit := range r.deps.Rules.Evaluate(in.Text) {
		if hit.Severity == models.SeverityNone {
			continue
		}
		if r.deps.Cooldown.ShouldSuppress(ctx, now, r.cfg.CooldownWindow, in.Sender.ID, hit.Label, hit.Severity) {
			r.deps.Metrics.IncSuppressed()
			d.Suppressed = append(d.Suppressed, hit.Label)
			continue
		}
		if hit.Severity.IsBlocking() {
			reason := headline(hit)
			r.detect(ctx, &d, hit.Severity, reason, models.DetectionContext{
				Label:          hit.Label,
				Reasons:        hit.Reasons,
				PatternSources: hit.PatternSources,
				SenderID:       in.Sender.ID,
				MessageTs:      in.TimestampMs,
			})
			return d, nil
		}
		r.advise(&d, hit.Severity, hit.Label)
	}

	if r.deps.Classifier == nil {
		return d, nil
	}
	level, prob := r.deps.Classifier.Classify(in.Text)
	d.ClassifierProb = prob
	if level == models.SeverityNone {
		return d, nil
	}
	if r.deps.Cooldown.ShouldSuppress(ctx, now, r.cfg.CooldownWindow, in.Sender.ID, ClassifierLabel, level) {
		r.deps.Metrics.IncSuppressed()
		d.Suppressed = append(d.Suppressed, ClassifierLabel)
		return d, nil
	}
	if level.IsBlocking() {
		r.detect(ctx, &d, level, fmt.Sprintf("Classifier flagged message (p=%.2f)", prob), models.DetectionContext{
			Label:     ClassifierLabel,
			SenderID:  in.Sender.ID,
			MessageTs: in.TimestampMs,
		})
		return d, nil
	}
	r.advise(&d, level, ClassifierLabel)
	return d, nil
}

func (r *Router) detect(ctx context.Context, d *Decision, severity models.Severity, reason string, dctx models.DetectionContext) {
	packet, err := r.OnDetection(ctx, severity, reason, dctx)
	out := &Detection{Label: dctx.Label, Severity: severity, Reason: reason}
	if packet != nil {
		out.EvidenceID = packet.ID
	}
	if err != nil {
		out.Degraded = true
	}
	d.Action = ActionDetection
	d.Detection = out
}

func (r *Router) advise(d *Decision, level models.Severity, label string) {
	if err := r.OnAdvisory(level, label); err != nil {
		r.deps.Logger.Warn("Advisory rejected", zap.String("label", label), zap.Error(err))
		return
	}
	if d.Action == ActionNone {
		d.Action = ActionAdvisory
	}
	d.Advisories = append(d.Advisories, Advisory{Label: label, Severity: level})
}

func headline(hit models.DetectionHit) string {
	if len(hit.Reasons) > 0 {
		return hit.Reasons[0]
	}
	return hit.Label
}
