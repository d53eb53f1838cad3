package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidAction = errors.New("invalid action")

// Action 是离散交易动作，只有 Hold/Buy/Sell 三种取值。
type Action uint8

const (
	Hold Action = iota
	Buy
	Sell
)

func (a Action) String() string {
	switch a {
	case Hold:
		return "hold"
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "action(" + strconv.Itoa(int(a)) + ")"
}

func (a Action) Valid() bool { return a <= Sell }

// ParseAction validates a raw action exactly once. It accepts integer codes
// (0/1/2, as any Go numeric or a numeric string) and names
// (hold/buy/sell, case-insensitive).
func ParseAction(raw any) (Action, error) {
	switch v := raw.(type) {
	case Action:
		if v.Valid() {
			return v, nil
		}
	case int:
		return fromCode(int64(v))
	case int32:
		return fromCode(int64(v))
	case int64:
		return fromCode(v)
	case uint8:
		return fromCode(int64(v))
	case float64:
		if v == math.Trunc(v) {
			return fromCode(int64(v))
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return fromCode(n)
		}
	case string:
		return parseActionString(v)
	}
	return 0, fmt.Errorf("%w: %v", ErrInvalidAction, raw)
}

func parseActionString(s string) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "hold":
		return Hold, nil
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	if n, err := strconv.ParseInt(name, 10, 64); err == nil {
		return fromCode(n)
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

func fromCode(n int64) (Action, error) {
	if n < 0 || n > int64(Sell) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAction, n)
	}
	return Action(n), nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(a))), nil
}

func (a *Action) UnmarshalJSON(b []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAction, string(b))
	}
	parsed, err := ParseAction(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
