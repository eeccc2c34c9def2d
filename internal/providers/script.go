package providers

import (
	"context"
	"sync"
)

// ScriptProvider replays pre-recorded turns. Each ChatStream call pops
// the next turn and delivers its deltas in order; once the script is
// exhausted every call returns an empty stop turn. Used by tests and
// by llm.yaml profiles of kind "script".
type ScriptProvider struct {
	mu    sync.Mutex
	turns [][]Delta
	calls []ChatRequest
}

func NewScriptProvider(turns ...[]Delta) *ScriptProvider {
	return &ScriptProvider{turns: turns}
}

func (p *ScriptProvider) Name() string         { return "script" }
func (p *ScriptProvider) DefaultModel() string { return "script" }

// Calls returns a copy of every request seen so far.
func (p *ScriptProvider) Calls() []ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ChatRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

// Append adds turns to the tail of the script.
func (p *ScriptProvider) Append(turns ...[]Delta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turns...)
}

func (p *ScriptProvider) ChatStream(ctx context.Context, req ChatRequest, onDelta func(Delta)) (*ChatResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	var turn []Delta
	if len(p.turns) > 0 {
		turn = p.turns[0]
		p.turns = p.turns[1:]
	}
	p.mu.Unlock()

	result := &ChatResponse{FinishReason: "stop"}
	for _, d := range turn {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Content += d.Text
		result.Thinking += d.Thinking
		if d.FuncCall != nil {
			result.FuncCalls = append(result.FuncCalls, *d.FuncCall)
		}
		if onDelta != nil {
			onDelta(d)
		}
	}
	if len(result.FuncCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	if onDelta != nil {
		onDelta(Delta{Done: true})
	}
	return result, nil
}
