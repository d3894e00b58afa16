// Package prompts holds the default preference policies and the prompt
// templates the engine assembles for the Decision Oracle.
package prompts

import "fmt"

// =============================================================================
// 📋 默认偏好策略（首次读取时写入 Preference Store）
// =============================================================================

// DefaultTriagePreferences 默认分诊策略
const DefaultTriagePreferences = `
Emails that are worth responding to:
- Direct questions from team members requiring expertise
- Meeting requests requiring confirmation
- Critical bug reports related to team's projects
- Requests from management requiring acknowledgment
- Client inquiries about project status or deliverables

There are also other things that should be known about, but don't require an email response. For these, notify (do not respond):
- Team member out sick or on vacation
- Build system notifications or deployments
- Project status updates without action items
- Important company announcements
- FYI emails that contain relevant information for current projects
- HR department deadline reminders

Emails that can be safely ignored:
- Marketing newsletters and bulk promotional emails
- Spam or obviously irrelevant emails
- CC'd threads with no direct questions
`

// DefaultResponsePreferences 默认回信策略
const DefaultResponsePreferences = `
Use professional and concise language.
If the incoming email asks a direct question, answer it explicitly.
When meeting availability is requested, list concrete time slots.
Acknowledge what the sender asked for before describing next steps.
`

// DefaultCalendarPreferences 默认日程策略
const DefaultCalendarPreferences = `
30 minute meetings are preferred, but 15 minute meetings are also acceptable.
Afternoon slots are preferred over morning slots.
Avoid scheduling meetings on Friday afternoons.
`

// =============================================================================
// 🧠 提示词模板
// =============================================================================

// TriageSystemPrompt 分诊系统提示词
const TriageSystemPrompt = `You are an executive assistant triaging incoming email.

Classify the email into exactly one of: ignore, notify, respond.

< Triage Instructions >
%s
</ Triage Instructions >
`

// TriageUserPrompt 分诊用户提示词
const TriageUserPrompt = `Please determine how to handle the below email thread:

From: %s
To: %s
Subject: %s

%s`

// AgentSystemPrompt 动作规划系统提示词
const AgentSystemPrompt = `You are an executive assistant handling an email on the user's behalf.

Plan exactly one next action per turn. Call the "done" tool once the email
has been fully handled.

< Response Preferences >
%s
</ Response Preferences >

< Calendar Preferences >
%s
</ Calendar Preferences >
`

// MemoryUpdateInstructions 偏好合并指令：旧策略 + 观测到的人工纠正 → 新策略
const MemoryUpdateInstructions = `You maintain a preference profile. Given the
current profile and the observed human correction below, return the complete
updated profile text. Preserve everything that is still valid; only add or
adjust what the correction implies. Never remove unrelated preferences.

< Current Profile >
%s
</ Current Profile >
`

// FormatTriageSystem 组装分诊系统提示词
func FormatTriageSystem(triagePolicy string) string {
	return fmt.Sprintf(TriageSystemPrompt, triagePolicy)
}

// FormatTriageUser 组装分诊用户提示词
func FormatTriageUser(author, to, subject, body string) string {
	return fmt.Sprintf(TriageUserPrompt, author, to, subject, body)
}

// FormatAgentSystem 组装动作规划系统提示词
func FormatAgentSystem(responsePolicy, calendarPolicy string) string {
	return fmt.Sprintf(AgentSystemPrompt, responsePolicy, calendarPolicy)
}

// FormatMemoryUpdate 组装偏好合并提示词
func FormatMemoryUpdate(currentPolicy string) string {
	return fmt.Sprintf(MemoryUpdateInstructions, currentPolicy)
}
