package backtest

import "time"

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// Run 一次持久化的回测任务。
type Run struct {
	ID          string       `json:"id"`
	Source      string       `json:"source"`
	Symbol      string       `json:"symbol"`
	Status      string       `json:"status"`
	StartTime   time.Time    `json:"start_time"`
	EndTime     time.Time    `json:"end_time"`
	Bars        int          `json:"bars"`
	Config      EngineConfig `json:"config"`
	Metrics     Metrics      `json:"metrics"`
	Message     string       `json:"message,omitempty"`
	ChartPath   string       `json:"chart_path,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt time.Time    `json:"completed_at"`
}

// Finished 是否已结束（成功或失败）。
func (r Run) Finished() bool {
	return r.Status == RunStatusDone || r.Status == RunStatusFailed
}
