package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stagecraft/approvalflow/internal/application/dispatcher"
	"github.com/stagecraft/approvalflow/internal/domain/event"
)

// Collector exposes workflow throughput counters to Prometheus. It observes
// the engine through the event dispatcher; nothing in the write path knows
// metrics exist.
type Collector struct {
	instancesStarted *prometheus.CounterVec
	instancesClosed  *prometheus.CounterVec
	stagesResolved   *prometheus.CounterVec
	actionsRecorded  *prometheus.CounterVec
	delegations      prometheus.Counter
	escalations      prometheus.Counter
	holds            prometheus.Counter
}

// NewCollector creates the collector and registers its metrics with the
// default registry.
func NewCollector() *Collector {
	return &Collector{
		instancesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalflow_instances_started_total",
			Help: "Workflow instances started, by entity type.",
		}, []string{"entity_type"}),
		instancesClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalflow_instances_closed_total",
			Help: "Workflow instances reaching a terminal state, by outcome.",
		}, []string{"status"}),
		stagesResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalflow_stages_resolved_total",
			Help: "Stage instances resolved, by outcome.",
		}, []string{"outcome"}),
		actionsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalflow_actions_recorded_total",
			Help: "Assignment actions recorded, by action.",
		}, []string{"action"}),
		delegations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "approvalflow_delegations_total",
			Help: "Assignments delegated to another user.",
		}),
		escalations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "approvalflow_escalations_total",
			Help: "Assignments escalated past their deadline.",
		}),
		holds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "approvalflow_instance_holds_total",
			Help: "Instances placed on hold.",
		}),
	}
}

// Register subscribes the collector to every event type it counts.
func (c *Collector) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeInstanceStarted, "metrics", c.onInstanceStarted)
	d.SubscribeNamed(event.TypeInstanceCompleted, "metrics", c.onInstanceClosed)
	d.SubscribeNamed(event.TypeInstanceRejected, "metrics", c.onInstanceClosed)
	d.SubscribeNamed(event.TypeInstanceCancelled, "metrics", c.onInstanceClosed)
	d.SubscribeNamed(event.TypeInstanceHeld, "metrics", c.onInstanceHeld)
	d.SubscribeNamed(event.TypeStageResolved, "metrics", c.onStageResolved)
	d.SubscribeNamed(event.TypeActionRecorded, "metrics", c.onActionRecorded)
	d.SubscribeNamed(event.TypeAssignmentDelegated, "metrics", c.onDelegated)
	d.SubscribeNamed(event.TypeAssignmentEscalated, "metrics", c.onEscalated)
}

func (c *Collector) onInstanceStarted(_ context.Context, evt *event.Event) error {
	c.instancesStarted.WithLabelValues(evt.EntityType).Inc()
	return nil
}

func (c *Collector) onInstanceClosed(_ context.Context, evt *event.Event) error {
	c.instancesClosed.WithLabelValues(closedStatus(evt.Type)).Inc()
	return nil
}

func (c *Collector) onInstanceHeld(_ context.Context, _ *event.Event) error {
	c.holds.Inc()
	return nil
}

func (c *Collector) onStageResolved(_ context.Context, evt *event.Event) error {
	c.stagesResolved.WithLabelValues(payloadString(evt, "outcome")).Inc()
	return nil
}

func (c *Collector) onActionRecorded(_ context.Context, evt *event.Event) error {
	c.actionsRecorded.WithLabelValues(payloadString(evt, "action")).Inc()
	return nil
}

func (c *Collector) onDelegated(_ context.Context, _ *event.Event) error {
	c.delegations.Inc()
	return nil
}

func (c *Collector) onEscalated(_ context.Context, _ *event.Event) error {
	c.escalations.Inc()
	return nil
}

func closedStatus(t event.Type) string {
	switch t {
	case event.TypeInstanceCompleted:
		return "COMPLETED"
	case event.TypeInstanceRejected:
		return "REJECTED"
	case event.TypeInstanceCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

func payloadString(evt *event.Event, key string) string {
	if evt.Payload == nil {
		return "unknown"
	}
	switch v := evt.Payload[key].(type) {
	case string:
		return v
	default:
		if s, ok := v.(interface{ String() string }); ok {
			return s.String()
		}
		return "unknown"
	}
}
