package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/BaSui01/inboxflow/prompts"
	"github.com/BaSui01/inboxflow/tools"
	"github.com/BaSui01/inboxflow/types"
)

// =============================================================================
// 📐 规则型 Oracle（本地运行与演示用，真实模型是外部协作方）
// =============================================================================

// Static is a deterministic, rule-based Oracle for local runs and demos.
// It assembles the same prompt requests a model-backed Oracle would send and
// evaluates keyword rules against the request text: bulk senders are notified
// about, questions and meeting requests get responses, planning follows a
// fixed draft-then-done progression, and meeting parameters are read from the
// calendar preferences embedded in the planning request.
type Static struct{}

// NewStatic 创建规则型 Oracle。
func NewStatic() *Static {
	return &Static{}
}

var bulkSenderMarkers = []string{"newsletter", "noreply", "no-reply", "notifications@", "digest", "mailer"}

// buildTriageRequest 组装分诊请求，与模型后端消费同一套提示词模板。
func buildTriageRequest(item types.EmailInput, triagePolicy string) []types.Message {
	return []types.Message{
		types.NewSystemMessage(prompts.FormatTriageSystem(triagePolicy)),
		types.NewUserMessage(prompts.FormatTriageUser(item.Author, item.To, item.Subject, item.Body)),
	}
}

// buildAgentRequest 组装动作规划请求：系统提示词（含回信/日程偏好）+ 历史。
func buildAgentRequest(history []types.Message, responsePolicy, calendarPolicy string) []types.Message {
	request := make([]types.Message, 0, len(history)+1)
	request = append(request, types.NewSystemMessage(prompts.FormatAgentSystem(responsePolicy, calendarPolicy)))
	return append(request, history...)
}

// Triage 基于关键词的分诊，规则在组装后的分诊请求文本上匹配。
func (s *Static) Triage(ctx context.Context, item types.EmailInput, triagePolicy string) (*TriageDecision, error) {
	request := buildTriageRequest(item, triagePolicy)
	prompt := strings.ToLower(request[len(request)-1].Content)
	header := strings.ToLower(item.Author + " " + item.Subject)

	for _, marker := range bulkSenderMarkers {
		if strings.Contains(header, marker) {
			return &TriageDecision{
				Classification: types.ClassificationNotify,
				Reasoning:      "bulk sender detected; user may still want to see it",
			}, nil
		}
	}

	if strings.Contains(prompt, "?") ||
		strings.Contains(prompt, "meeting") || strings.Contains(prompt, "schedule") ||
		strings.Contains(prompt, "urgent") {
		return &TriageDecision{
			Classification: types.ClassificationRespond,
			Reasoning:      "direct question or meeting request requires a reply",
		}, nil
	}

	return &TriageDecision{
		Classification: types.ClassificationIgnore,
		Reasoning:      "no action item found",
	}, nil
}

// PlanAction 固定进程的动作规划：需要排会时先查日历再建会，
// 否则起草回信；已经执行过写邮件或建会后返回 Done。
// 会议时长与时段从规划请求的日程偏好段落里读取。
func (s *Static) PlanAction(ctx context.Context, history []types.Message, responsePolicy, calendarPolicy string) (*types.ToolCall, error) {
	request := buildAgentRequest(history, responsePolicy, calendarPolicy)
	system := strings.ToLower(request[0].Content)

	executed := make(map[string]bool)
	var firstUser string
	var lastFeedback string
	for _, msg := range request[1:] {
		if msg.Role == types.RoleTool && msg.Name != "" {
			executed[msg.Name] = true
			if strings.Contains(msg.Content, "feedback") || strings.Contains(msg.Content, "answered") {
				lastFeedback = msg.Content
			}
		}
		if msg.Role == types.RoleUser && firstUser == "" {
			firstUser = msg.Content
		}
	}

	if executed[tools.ToolWriteEmail] || executed[tools.ToolScheduleMeeting] {
		return newCall(tools.ToolDone, tools.DoneArgs{Done: true})
	}

	wantsMeeting := strings.Contains(strings.ToLower(firstUser), "meeting") ||
		strings.Contains(strings.ToLower(firstUser), "schedule")
	if wantsMeeting {
		duration := meetingDuration(system)
		if !executed[tools.ToolCheckCalendar] {
			return newCall(tools.ToolCheckCalendar, tools.CheckCalendarArgs{
				Attendees:       []string{extractSender(firstUser)},
				PreferredDay:    "next available weekday",
				DurationMinutes: duration,
			})
		}
		return newCall(tools.ToolScheduleMeeting, tools.ScheduleMeetingArgs{
			Attendees:       []string{extractSender(firstUser)},
			Subject:         "Meeting",
			DurationMinutes: duration,
			PreferredDay:    "next available weekday",
			StartTime:       meetingStartHour(system),
		})
	}

	content := "Thank you for your email. I will follow up with details shortly."
	if lastFeedback != "" {
		content += "\n\n(Revised per feedback.)"
	}
	return newCall(tools.ToolWriteEmail, tools.WriteEmailArgs{
		To:      extractSender(firstUser),
		Subject: "Re: " + extractSubject(firstUser),
		Content: content,
	})
}

// SummarizePreferences 把最近的人工纠正追加为策略条目。当前档案
// 从偏好合并指令里取回，与模型后端看到的输入一致。
func (s *Static) SummarizePreferences(ctx context.Context, namespace types.Namespace, currentPolicy string, observations []types.Message) (string, error) {
	instruction := prompts.FormatMemoryUpdate(currentPolicy)
	profile := promptSection(instruction, "Current Profile")
	if profile == "" {
		profile = currentPolicy
	}

	var note string
	for i := len(observations) - 1; i >= 0; i-- {
		if observations[i].Role != types.RoleSystem && observations[i].Content != "" {
			note = observations[i].Content
			break
		}
	}
	if note == "" {
		return profile, nil
	}
	if len(note) > 200 {
		note = note[:200]
	}
	return strings.TrimRight(profile, "\n") + "\n- " + note + "\n", nil
}

// meetingDuration 从规划请求里读取会议时长偏好。
func meetingDuration(systemPrompt string) int {
	if strings.Contains(systemPrompt, "15 minute meetings are preferred") {
		return 15
	}
	return 30
}

// meetingStartHour 偏好下午时排 14 点，否则排上午。
func meetingStartHour(systemPrompt string) int {
	if strings.Contains(systemPrompt, "afternoon") {
		return 14
	}
	return 10
}

// promptSection 取 "< name >" 与 "</ name >" 标记之间的文本。
func promptSection(text, name string) string {
	open := "< " + name + " >"
	end := "</ " + name + " >"
	i := strings.Index(text, open)
	if i < 0 {
		return ""
	}
	rest := text[i+len(open):]
	j := strings.Index(rest, end)
	if j < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:j])
}

func newCall(name string, args any) (*types.ToolCall, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s args: %w", name, err)
	}
	return &types.ToolCall{
		ID:        "call_" + uuid.NewString(),
		Name:      name,
		Arguments: raw,
	}, nil
}

// extractSender 从分诊阶段写入的 Markdown 里取发件人。
func extractSender(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		if strings.HasPrefix(line, "**From**: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "**From**: "))
		}
	}
	return "unknown@localhost"
}

// extractSubject 从分诊阶段写入的 Markdown 里取主题。
func extractSubject(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		if strings.HasPrefix(line, "**Subject**: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "**Subject**: "))
		}
	}
	return "your email"
}
