package sim

import (
	"fmt"

	"simdesk/internal/dataset"
)

// Snapshot 是引擎可持久化的显式状态，不含数据窗口本身。
type Snapshot struct {
	InitialBalance float64    `msgpack:"initial_balance"`
	WindowSize     int        `msgpack:"window_size"`
	Balance        float64    `msgpack:"balance"`
	Holdings       float64    `msgpack:"holdings"`
	NetWorth       float64    `msgpack:"net_worth"`
	Step           int        `msgpack:"step"`
	Done           bool       `msgpack:"done"`
	ActionLog      []LogEntry `msgpack:"action_log"`
}

func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		InitialBalance: e.cfg.InitialBalance,
		WindowSize:     e.cfg.WindowSize,
		Balance:        e.balance,
		Holdings:       e.holdings,
		NetWorth:       e.netWorth,
		Step:           e.step,
		Done:           e.done,
		ActionLog:      e.ActionLog(),
	}
}

// Restore rebuilds an engine from a snapshot over data. The window and net
// worth are derived again from data rather than trusted from the snapshot.
func Restore(s Snapshot, data *dataset.Dataset) (*Engine, error) {
	cfg := Config{InitialBalance: s.InitialBalance, WindowSize: s.WindowSize}
	if cfg.WindowSize <= 0 || cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("snapshot has invalid config: window=%d balance=%v", s.WindowSize, s.InitialBalance)
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	if s.Step < cfg.WindowSize || s.Step >= data.Len() {
		return nil, fmt.Errorf("%w: snapshot step %d outside [%d,%d)", ErrInsufficientData, s.Step, cfg.WindowSize, data.Len())
	}
	for _, entry := range s.ActionLog {
		if !entry.Action.Valid() {
			return nil, fmt.Errorf("%w: snapshot log holds %d", ErrInvalidAction, entry.Action)
		}
	}
	e := &Engine{
		cfg:      cfg,
		data:     data,
		balance:  s.Balance,
		holdings: s.Holdings,
		step:     s.Step,
		window:   newPriceWindow(cfg.WindowSize),
		log:      append([]LogEntry(nil), s.ActionLog...),
	}
	e.rebuildWindow()
	e.revalue()
	return e, nil
}
