package service

import (
	"time"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/buffer"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/lockdown"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/metrics"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/rules"
)

type LockdownStatus struct {
	Active bool       `json:"active"`
	Until  *time.Time `json:"until,omitempty"`
}

type Status struct {
	Block    *BlockEvent      `json:"block,omitempty"`
	Advisory *AdvisoryEvent   `json:"advisory,omitempty"`
	Blocks   int              `json:"blocks"`
	Lockdown LockdownStatus   `json:"lockdown"`
	Window   buffer.Stats     `json:"window"`
	Rules    rules.LoadStats  `json:"rules"`
	Metrics  metrics.Snapshot `json:"metrics"`
}

// StatusReporter gathers the device state shown by GET /api/status.
type StatusReporter struct {
	Block    *BlockState
	Lockdown *lockdown.Timer
	Window   *buffer.RollingWindow
	Rules    *rules.Engine
	Metrics  *metrics.Metrics
}

func (r *StatusReporter) Status() Status {
	var st Status
	st.Block, st.Advisory, st.Blocks = r.Block.Current()
	if r.Lockdown.IsActive() {
		until := r.Lockdown.Until()
		st.Lockdown = LockdownStatus{Active: true, Until: &until}
	}
	st.Window = r.Window.Stats()
	st.Rules = r.Rules.Stats()
	st.Metrics = r.Metrics.Current()
	return st
}
