package llm

import "context"

// Agent pairs a fixed system prompt with the queue it runs on. Parsing the
// response text is the caller's concern (Strategy and Risk each expect a
// different shape back) — Agent only knows how to phrase the request.
type Agent struct {
	AgentName    string
	SystemPrompt string
}

// Run sends query at normal priority — used for a fresh analysis that
// isn't continuing an already-started pipeline.
func (a Agent) Run(ctx context.Context, q *Queue, query string) (string, error) {
	return q.ChatNormal(ctx, a.SystemPrompt, query)
}

// RunHighPriority sends query ahead of any queued normal-priority work —
// used when this call continues a pipeline a Director call already
// started (Quant, Risk, Execution).
func (a Agent) RunHighPriority(ctx context.Context, q *Queue, query string) (string, error) {
	return q.ChatHigh(ctx, a.SystemPrompt, query)
}

// Director decides whether recent history and news describe a clear
// trading opportunity.
var Director = Agent{
	AgentName: "director",
	SystemPrompt: `You are a Trading Director AI. Your goal is to analyze market data (recent history and news) and decide if there is a CLEAR trading opportunity.

ANALYSIS GUIDELINES:
- Look for trends in the provided history (higher highs, lower lows, breakouts, reversals)
- Do not trade on noise or minor fluctuations
- Be conservative: if the data is ambiguous or weak, return "no_trade"
- Consider both entry opportunities (new positions) and exit signals (existing positions)
- For crypto, look for momentum, volume patterns, and support/resistance levels
- If you see a strong opportunity, return "trade" with your thesis

OUTPUT FORMAT - must be valid JSON:
{
    "decision": "trade" | "no_trade",
    "symbol": "BTC/USD",
    "direction": "long" | "short" | "exit",
    "thesis": "reasoning including trend analysis, key price levels, risk factors, and conviction level",
    "confidence": 0.0 to 1.0
}`,
}

// Quant estimates technical indicators from a thesis and recent history.
// Its output is advisory context carried alongside the Director's thesis;
// it does not gate the signal.
var Quant = Agent{
	AgentName: "quant",
	SystemPrompt: `You are a Quantitative Analyst AI.
You will be provided with a trading thesis and recent market history.
Estimate technical indicators from the tabular data.

Output JSON:
{
    "technical_score": 0.0 to 1.0,
    "support_level": 123.45,
    "resistance_level": 130.00,
    "volatility_check": "pass" | "fail"
}`,
}

// Risk evaluates a trade proposal against account size and approves or
// rejects it, optionally overriding stop-loss/take-profit levels.
var Risk = Agent{
	AgentName: "risk",
	SystemPrompt: `You are a Risk Manager AI.

Evaluate the trade proposal.
RULES:
1. Do not approve trades that use more than 5% of buying power/cash.
2. Ensure stop loss is reasonable.

Output JSON:
{
    "approved": true | false,
    "position_size": 100,
    "stop_loss": 120.50,
    "take_profit": 140.00,
    "risk_reasoning": "..."
}`,
}

// Execution formats a risk-approved proposal into a final order.
var Execution = Agent{
	AgentName: "execution",
	SystemPrompt: `You are an Execution Trader AI.

Format the final order based on the Risk Manager's output.
Output only valid JSON. Do not include markdown formatting or chat text.

Output JSON:
{
    "action": "buy" | "sell",
    "symbol": "...",
    "qty": 10,
    "order_type": "market" | "limit",
    "limit_price": null
}`,
}
