package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"simdesk/internal/analysis/peaks"
	"simdesk/internal/dataset"
)

const (
	TradeFee          = 0.001
	SellGuardDistance = 10
	RewardScale       = 1000.0
	SellReward        = 1000.0
	ExplorationReward = 0.1
	DefaultWindowSize = 10

	collapseRatio = 0.5
)

var (
	ErrSessionTerminated = errors.New("session terminated, reset required")
	ErrInsufficientData  = errors.New("dataset too short for window")
)

var feeFactor = decimal.NewFromInt(1).Sub(decimal.NewFromFloat(TradeFee))

type Config struct {
	InitialBalance float64
	WindowSize     int
}

// LogEntry 记录某一步执行的动作。
type LogEntry struct {
	Step   int    `json:"step" msgpack:"step"`
	Action Action `json:"action" msgpack:"action"`
}

// Info 是每一步返回的组合状态。
type Info struct {
	Step     int        `json:"step"`
	Time     time.Time  `json:"time"`
	Price    float64    `json:"price"`
	Balance  float64    `json:"balance"`
	Holdings float64    `json:"holdings"`
	NetWorth float64    `json:"net_worth"`
	Executed bool       `json:"executed"`
	Actions  []LogEntry `json:"actions"`
}

type StepResult struct {
	Observation Observation
	Reward      float64
	Done        bool
	Info        Info
}

// Engine 是单个会话的交易状态机。所有方法都不是并发安全的，
// 由外层存储保证同一时刻只有一个写者。
type Engine struct {
	cfg      Config
	data     *dataset.Dataset
	balance  float64
	holdings float64
	netWorth float64
	step     int
	done     bool
	window   *priceWindow
	log      []LogEntry
}

// New builds an engine over data and resets it.
func New(data *dataset.Dataset, cfg Config) (*Engine, error) {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be > 0, got %v", cfg.InitialBalance)
	}
	if err := checkData(data, cfg.WindowSize); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, data: data, window: newPriceWindow(cfg.WindowSize)}
	e.Reset()
	return e, nil
}

func checkData(data *dataset.Dataset, window int) error {
	if err := data.Validate(); err != nil {
		return err
	}
	// need the window plus at least one steppable row and a successor
	if data.Len() < window+2 {
		return fmt.Errorf("%w: %d rows, window %d needs at least %d", ErrInsufficientData, data.Len(), window, window+2)
	}
	return nil
}

// Reset rewinds to the first step with a full window.
func (e *Engine) Reset() Observation {
	e.step = e.cfg.WindowSize
	e.balance = e.cfg.InitialBalance
	e.holdings = 0
	e.log = e.log[:0]
	e.rebuildWindow()
	e.revalue()
	return e.Observation()
}

// Step applies action at the current step and advances by one row. action
// comes from ParseAction or Action.UnmarshalJSON and is not checked again.
func (e *Engine) Step(action Action) (StepResult, error) {
	if e.done {
		return StepResult{}, ErrSessionTerminated
	}
	price := e.data.Close(e.step)
	reward, executed := e.apply(action, price)
	e.log = append(e.log, LogEntry{Step: e.step, Action: action})

	e.step++
	e.window.Push(e.data.Row(e.step))
	e.revalue()

	info := e.info()
	info.Executed = executed
	return StepResult{
		Observation: e.Observation(),
		Reward:      reward,
		Done:        e.done,
		Info:        info,
	}, nil
}

func (e *Engine) apply(action Action, price float64) (float64, bool) {
	switch action {
	case Buy:
		if price <= 0 {
			return ExplorationReward, false
		}
		qty := decimal.NewFromFloat(e.balance).Div(decimal.NewFromFloat(price)).Mul(feeFactor)
		e.holdings += qty.InexactFloat64()
		e.balance = 0
		if next, ok := peaks.NextAfter(e.data.Peaks, e.step); ok {
			return (e.data.Close(next) - price) / RewardScale, true
		}
		return ExplorationReward, true
	case Sell:
		if !e.sellAllowed() {
			return ExplorationReward, false
		}
		proceeds := decimal.NewFromFloat(e.holdings).Mul(decimal.NewFromFloat(price)).Mul(feeFactor)
		e.balance += proceeds.InexactFloat64()
		e.holdings = 0
		return SellReward, true
	}
	return ExplorationReward, false
}

// sellAllowed: the step must sit more than SellGuardDistance rows from the
// next peak ahead and the last peak at or behind it. A missing side counts
// as far; a step that is itself a peak is never far.
func (e *Engine) sellAllowed() bool {
	if next, ok := peaks.NextAfter(e.data.Peaks, e.step); ok && next-e.step <= SellGuardDistance {
		return false
	}
	if last, ok := peaks.LastBefore(e.data.Peaks, e.step+1); ok && e.step-last <= SellGuardDistance {
		return false
	}
	return true
}

// ReplaceData swaps in an extended dataset without touching step, balance,
// holdings or the action log.
func (e *Engine) ReplaceData(data *dataset.Dataset) error {
	if err := data.Validate(); err != nil {
		return err
	}
	if data.Len() < e.step+1 {
		return fmt.Errorf("%w: %d rows cannot cover step %d", ErrInsufficientData, data.Len(), e.step)
	}
	if data.NumFeatures() != e.data.NumFeatures() {
		return fmt.Errorf("feature count changed from %d to %d", e.data.NumFeatures(), data.NumFeatures())
	}
	e.data = data
	e.rebuildWindow()
	e.revalue()
	return nil
}

// rebuildWindow: at the reset position the window holds the W rows before
// step; once stepped it holds the W rows ending at step.
func (e *Engine) rebuildWindow() {
	e.window.Clear()
	first := e.step - e.cfg.WindowSize
	if e.step > e.cfg.WindowSize {
		first++
	}
	for i := first; i < first+e.cfg.WindowSize; i++ {
		e.window.Push(e.data.Row(i))
	}
}

func (e *Engine) revalue() {
	e.netWorth = e.balance + e.holdings*e.data.Close(e.step)
	e.done = e.netWorth <= collapseRatio*e.cfg.InitialBalance || e.step >= e.data.Len()-1
}

func (e *Engine) info() Info {
	actions := make([]LogEntry, len(e.log))
	copy(actions, e.log)
	return Info{
		Step:     e.step,
		Time:     e.data.Time(e.step),
		Price:    e.CurrentPrice(),
		Balance:  e.balance,
		Holdings: e.holdings,
		NetWorth: e.netWorth,
		Actions:  actions,
	}
}

func (e *Engine) Observation() Observation {
	return Observation{
		Prices:    e.window.Rows(),
		Portfolio: [3]float64{e.balance, e.holdings, e.netWorth},
		Step:      e.step,
	}
}

func (e *Engine) Info() Info { return e.info() }
func (e *Engine) Balance() float64 { return e.balance }
func (e *Engine) Holdings() float64 { return e.holdings }
func (e *Engine) NetWorth() float64 { return e.netWorth }
func (e *Engine) CurrentStep() int { return e.step }
func (e *Engine) Done() bool { return e.done }
func (e *Engine) Data() *dataset.Dataset { return e.data }
func (e *Engine) CurrentPrice() float64 { return e.data.Close(e.step) }
func (e *Engine) CurrentTime() time.Time { return e.data.Time(e.step) }
func (e *Engine) InitialBalance() float64 { return e.cfg.InitialBalance }
func (e *Engine) WindowSize() int { return e.cfg.WindowSize }
func (e *Engine) ActionLog() []LogEntry {
	out := make([]LogEntry, len(e.log))
	copy(out, e.log)
	return out
}
