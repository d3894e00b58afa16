package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/inboxflow/types"
)

// =============================================================================
// 🔧 工具参数（每个工具一个带类型的变体，而不是不透明的 JSON）
// =============================================================================

// WriteEmailArgs 写邮件工具参数
type WriteEmailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// ScheduleMeetingArgs 安排会议工具参数
type ScheduleMeetingArgs struct {
	Attendees       []string `json:"attendees"`
	Subject         string   `json:"subject"`
	DurationMinutes int      `json:"duration_minutes"`
	PreferredDay    string   `json:"preferred_day"`
	StartTime       int      `json:"start_time"`
}

// CheckCalendarArgs 查询日历可用性工具参数
type CheckCalendarArgs struct {
	Attendees       []string `json:"attendees"`
	PreferredDay    string   `json:"preferred_day"`
	DurationMinutes int      `json:"duration_minutes"`
}

// QuestionArgs 向用户提问工具参数
type QuestionArgs struct {
	Content string `json:"content"`
}

// DoneArgs 终止动作参数
type DoneArgs struct {
	Done bool `json:"done"`
}

// decodeStrict 严格解码 JSON 参数，拒绝未知字段
func decodeStrict(raw json.RawMessage, dest any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return types.NewError(types.ErrInvalidInput, "malformed tool arguments").WithCause(err)
	}
	return nil
}

// ValidateArgs 按工具名校验参数是否能解码到对应的类型化结构。
// 编辑（edit）恢复路径用它保证人工替换的参数仍然符合工具的参数形状。
func ValidateArgs(name string, raw json.RawMessage) error {
	switch name {
	case ToolWriteEmail:
		var a WriteEmailArgs
		return decodeStrict(raw, &a)
	case ToolScheduleMeeting:
		var a ScheduleMeetingArgs
		return decodeStrict(raw, &a)
	case ToolCheckCalendar:
		var a CheckCalendarArgs
		return decodeStrict(raw, &a)
	case ToolQuestion:
		var a QuestionArgs
		return decodeStrict(raw, &a)
	case ToolDone:
		if len(raw) == 0 {
			return nil
		}
		var a DoneArgs
		return decodeStrict(raw, &a)
	default:
		return types.NewError(types.ErrInvalidInput, fmt.Sprintf("unknown tool: %s", name))
	}
}

// =============================================================================
// 🖥️ 展示格式化（中断描述里给人看的内容）
// =============================================================================

// FormatForDisplay 将工具调用渲染为 Markdown，用于中断描述。
func FormatForDisplay(call types.ToolCall) string {
	switch call.Name {
	case ToolWriteEmail:
		var a WriteEmailArgs
		if err := json.Unmarshal(call.Arguments, &a); err != nil {
			break
		}
		return fmt.Sprintf("# Email Draft\n\n**To**: %s\n**Subject**: %s\n\n%s\n", a.To, a.Subject, a.Content)
	case ToolScheduleMeeting:
		var a ScheduleMeetingArgs
		if err := json.Unmarshal(call.Arguments, &a); err != nil {
			break
		}
		return fmt.Sprintf("# Calendar Invite\n\n**Meeting**: %s\n**Attendees**: %s\n**Duration**: %d minutes\n**Day**: %s\n",
			a.Subject, strings.Join(a.Attendees, ", "), a.DurationMinutes, a.PreferredDay)
	case ToolQuestion:
		var a QuestionArgs
		if err := json.Unmarshal(call.Arguments, &a); err != nil {
			break
		}
		return fmt.Sprintf("# Question for User\n\n%s\n", a.Content)
	}
	return fmt.Sprintf("# Tool Call: %s\n\nArguments:\n%s\n", call.Name, string(call.Arguments))
}
