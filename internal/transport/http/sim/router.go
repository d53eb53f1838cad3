// Package simhttp exposes the session and action services over HTTP.
package simhttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"simdesk/internal/logger"
	"simdesk/internal/market"
	"simdesk/internal/session"
	"simdesk/internal/shared"
	"simdesk/internal/sim"
)

const HeaderSessionToken = "X-Session-Token"

// SessionService 是 /start /step /reset 依赖的会话接口。
type SessionService interface {
	Start(ctx context.Context, p session.Params) (session.CreateResult, error)
	Step(ctx context.Context, token string, action sim.Action) (session.StepOutcome, error)
	Reset(ctx context.Context, token string) (sim.Observation, error)
	Restart(ctx context.Context, token string, p session.Params) (session.CreateResult, error)
}

type ActionService interface {
	GetActions(ctx context.Context, q shared.Query) ([]shared.ActionRecord, error)
}

// Defaults fill what a start request does not carry.
type Defaults struct {
	Instrument string
	Indicators []string
	WindowSize int
}

type Router struct {
	sessions SessionService
	actions  ActionService
	defaults Defaults
}

func NewRouter(sessions SessionService, actions ActionService, defaults Defaults) *Router {
	return &Router{sessions: sessions, actions: actions, defaults: defaults}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/start", r.handleStart)
	group.POST("/step", r.handleStep)
	group.POST("/reset", r.handleReset)
	if r.actions != nil {
		group.POST("/actions", r.handleActions)
	}
}

type sessionRequest struct {
	InitialBalance float64 `json:"initial_balance"`
	Start          string  `json:"start"`
	End            string  `json:"end"`
	Interval       string  `json:"interval"`
	Instrument     string  `json:"instrument"`
}

func (req sessionRequest) empty() bool {
	return req.Start == "" && req.End == "" && req.Interval == "" && req.InitialBalance == 0
}

func (r *Router) params(req sessionRequest) (session.Params, error) {
	iv, err := market.ParseInterval(req.Interval)
	if err != nil {
		return session.Params{}, err
	}
	start, err := market.ParseTime(req.Start)
	if err != nil {
		return session.Params{}, err
	}
	end, err := market.ParseTime(req.End)
	if err != nil {
		return session.Params{}, err
	}
	instrument := strings.TrimSpace(req.Instrument)
	if instrument == "" {
		instrument = r.defaults.Instrument
	}
	return session.Params{
		Instrument:     instrument,
		Interval:       iv,
		Start:          start,
		End:            end,
		InitialBalance: req.InitialBalance,
		Indicators:     r.defaults.Indicators,
		WindowSize:     r.defaults.WindowSize,
	}, nil
}

type startResponse struct {
	Token         string              `json:"token"`
	Observation   sim.FlatObservation `json:"observation"`
	AdjustedStart string              `json:"adjusted_start"`
	AdjustedEnd   string              `json:"adjusted_end"`
}

func newStartResponse(p session.Params, res session.CreateResult) startResponse {
	return startResponse{
		Token:         res.Token,
		Observation:   res.Observation.Flatten(),
		AdjustedStart: p.Interval.FormatTime(res.AdjustedStart),
		AdjustedEnd:   p.Interval.FormatTime(res.AdjustedEnd),
	}
}

func (r *Router) handleStart(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeMessage(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	p, err := r.params(req)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := r.sessions.Start(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("[http] session started %s", res.Token)
	c.JSON(http.StatusCreated, newStartResponse(p, res))
}

type stepRequest struct {
	Action *sim.Action `json:"action"`
}

type stepInfo struct {
	Step           int            `json:"step"`
	Time           string         `json:"time"`
	Price          float64        `json:"price"`
	Balance        float64        `json:"balance"`
	CryptoHeld     float64        `json:"crypto_held"`
	NetWorth       float64        `json:"net_worth"`
	Executed       bool           `json:"executed"`
	ActionsHistory []sim.LogEntry `json:"actions_history"`
}

type stepResponse struct {
	Observation sim.FlatObservation `json:"observation"`
	Reward      float64             `json:"reward"`
	Done        bool                `json:"done"`
	Info        stepInfo            `json:"info"`
}

func (r *Router) handleStep(c *gin.Context) {
	token, ok := sessionToken(c)
	if !ok {
		return
	}
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Action == nil {
		writeMessage(c, http.StatusBadRequest, "Invalid action. Must be 0 (Hold), 1 (Buy), or 2 (Sell).")
		return
	}
	out, err := r.sessions.Step(c.Request.Context(), token, *req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stepResponse{
		Observation: out.Observation.Flatten(),
		Reward:      out.Reward,
		Done:        out.Done,
		Info: stepInfo{
			Step:           out.Info.Step,
			Time:           out.Info.Time.UTC().Format(time.RFC3339),
			Price:          out.Info.Price,
			Balance:        out.Info.Balance,
			CryptoHeld:     out.Info.Holdings,
			NetWorth:       out.Info.NetWorth,
			Executed:       out.Info.Executed,
			ActionsHistory: out.Info.Actions,
		},
	})
}

// handleReset restarts the session with new parameters when a body is given,
// otherwise rewinds it in place.
func (r *Router) handleReset(c *gin.Context) {
	token, ok := sessionToken(c)
	if !ok {
		return
	}
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.empty() {
		obs, err := r.sessions.Reset(c.Request.Context(), token)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Environment has been reset.", "observation": obs.Flatten()})
		return
	}
	p, err := r.params(req)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := r.sessions.Restart(c.Request.Context(), token, p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Environment has been reset. Continue with the new token.",
		"session": newStartResponse(p, res),
	})
}

type actionsRequest struct {
	Pair     string `json:"pair"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Interval string `json:"interval"`
}

type actionItem struct {
	Action      sim.Action          `json:"action"`
	Timestamp   string              `json:"timestamp"`
	Reward      float64             `json:"reward"`
	Observation sim.FlatObservation `json:"observation"`
	Interval    string              `json:"interval"`
}

func (r *Router) handleActions(c *gin.Context) {
	var req actionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeMessage(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	iv, err := market.ParseInterval(req.Interval)
	if err != nil {
		writeError(c, err)
		return
	}
	start, err := market.ParseTime(req.Start)
	if err != nil {
		writeError(c, err)
		return
	}
	end, err := market.ParseTime(req.End)
	if err != nil {
		writeError(c, err)
		return
	}
	recs, err := r.actions.GetActions(c.Request.Context(), shared.Query{
		Pair:     strings.TrimSpace(req.Pair),
		Interval: iv,
		Start:    start,
		End:      end,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]actionItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, actionItem{
			Action:      rec.Action,
			Timestamp:   rec.Timestamp.UTC().Format(time.RFC3339),
			Reward:      rec.Reward,
			Observation: rec.Observation,
			Interval:    rec.Interval.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"actions": items, "start": req.Start, "end": req.End})
}

func sessionToken(c *gin.Context) (string, bool) {
	token := strings.TrimSpace(c.GetHeader(HeaderSessionToken))
	if token == "" {
		writeMessage(c, http.StatusBadRequest, "Session token missing in headers.")
		return "", false
	}
	return token, true
}
