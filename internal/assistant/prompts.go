package assistant

import (
	"fmt"
	"time"
)

// Greeting opens every session.
const Greeting = "Hello! I'm the Theodorus AI Operations Manager. I have full visibility into your fleet, drivers, rides, and clients.\n\n" +
	"Ask me anything — dispatch recommendations, pricing strategy, driver performance, risk analysis, or use the quick action buttons to generate reports."

const (
	ConfigErrorText   = "⚠️ No API key configured. Ask an administrator to configure an API key on the AI proxy."
	NoResponseText    = "No response generated."
	EmptyBriefingText = "Could not generate briefing."

	briefingHeader       = "📋 **Daily Briefing**\n\n"
	briefingCachedHeader = "📋 **Daily Briefing** (cached)\n\n"

	testConnectionSystem = "You are a helpful assistant."
	testConnectionPrompt = `Reply with exactly three words: "Connection is working."`
)

// Suggestions are example questions offered before the first user message.
var Suggestions = []string{
	"Which drivers are available right now?",
	"What are our top revenue-generating routes?",
	"Which vehicles need maintenance soon?",
	"Suggest ways to improve our dispatch efficiency.",
	"What is the best pricing strategy for airport transfers?",
}

// QuickAction is a canned, parameter-free request.
type QuickAction struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	prompt func(now time.Time) string
}

// Prompt returns the request text for the day of now.
func (q QuickAction) Prompt(now time.Time) string {
	return q.prompt(now)
}

var QuickActions = []QuickAction{
	{ID: "dispatch", Label: "Smart Dispatch", prompt: func(time.Time) string { return dispatchPrompt }},
	{ID: "pricing", Label: "Pricing Analysis", prompt: func(time.Time) string { return pricingPrompt }},
	{ID: "report", Label: "Monthly Report", prompt: func(time.Time) string { return reportPrompt }},
	{ID: "briefing", Label: "Daily Briefing", prompt: BriefingPrompt},
}

// LookupQuickAction finds a quick action by id.
func LookupQuickAction(id string) (QuickAction, bool) {
	for _, q := range QuickActions {
		if q.ID == id {
			return q, true
		}
	}
	return QuickAction{}, false
}

// BriefingPrompt asks for the daily operations briefing of now's day.
func BriefingPrompt(now time.Time) string {
	d := now.UTC().Format("Mon Jan 02 2006")
	return fmt.Sprintf(`Generate a concise daily operations briefing for %s.

## Daily Briefing — %s

Cover:
**Fleet Status** — driver availability, suspensions, leaves
**Today's Rides** — scheduled, active, completed
**🚨 Critical Alerts** — expiring docs, maintenance, unassigned rides
**📋 Top 3 Priorities** — ranked action items

Be specific with names and IDs. Keep under 300 words. Use markdown.`, d, d)
}

const dispatchPrompt = `Analyze all unassigned rides. For each, recommend the best available Active driver.

For each unassigned ride state:
- Ride details (ID, time, service tier, pickup → dropoff)
- Recommended driver (name + employee number) with reasoning
- Vehicle suitability

If all rides are assigned, summarize dispatch status and driver availability. Use markdown.`

const pricingPrompt = `Analyze our pricing and provide 6-8 specific dynamic pricing recommendations.

Consider: profitability per tier, client contract rates, demand patterns, underpriced services.

Give concrete numbers and percentages. Format as a numbered list. Use markdown.`

const reportPrompt = `Generate a comprehensive monthly performance report for Theodorus Fleet Management.

## Monthly Performance Report

1. **Executive Summary** — headline KPIs
2. **Revenue & Profitability** — by service tier and by client
3. **Driver Rankings** — performance, earnings, efficiency
4. **Fleet Utilization & Health** — vehicle status, maintenance compliance
5. **Client Analysis** — top clients, churn risks, growth opportunities
6. **Risk Register** — compliance gaps, expiring documents
7. **Strategic Recommendations** — 3-5 insights for next month

Be analytical. Reference actual names and numbers. Use markdown.`
