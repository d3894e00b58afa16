package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inboxflow/types"
)

// 工具名称（规划器产出的调用按名称分派）
const (
	ToolWriteEmail      = "write_email"
	ToolScheduleMeeting = "schedule_meeting"
	ToolCheckCalendar   = "check_calendar_availability"
	ToolQuestion        = "Question"
	ToolDone            = "Done"
)

// =============================================================================
// 🧰 工具注册表
// =============================================================================

// Spec 描述一个工具：执行函数、敏感性分类、允许的人工响应类型、
// 以及偏好学习时归属的命名空间。
type Spec struct {
	Name        string
	Description string

	// Sensitive 为 true 的工具必须经过人工审查才能执行
	Sensitive bool

	// Allowed 该工具的中断允许的人工响应类型（敏感工具才有意义）
	Allowed []types.ResponseType

	// Namespace edit/feedback 响应更新哪个偏好命名空间；空表示不更新
	Namespace types.Namespace

	// Execute 执行工具；Done 与 Question 没有执行语义，Execute 为 nil
	Execute func(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry 工具注册表，按名称分派执行并回答敏感性询问。
type Registry struct {
	specs  map[string]Spec
	logger *zap.Logger
}

// NewRegistry 创建包含默认邮件助手工具集的注册表。
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		specs:  make(map[string]Spec),
		logger: logger.With(zap.String("component", "tool_registry")),
	}
	for _, spec := range defaultSpecs() {
		r.specs[spec.Name] = spec
	}
	return r
}

// Lookup 按名称返回工具描述。
func (r *Registry) Lookup(name string) (Spec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Sensitive 报告工具是否需要人工审查。未知工具按敏感处理。
func (r *Registry) Sensitive(name string) bool {
	spec, ok := r.specs[name]
	if !ok {
		return true
	}
	return spec.Sensitive
}

// Execute 执行一次工具调用并返回结果文本。
func (r *Registry) Execute(ctx context.Context, call types.ToolCall) (string, error) {
	spec, ok := r.specs[call.Name]
	if !ok {
		return "", types.NewError(types.ErrInvalidInput, fmt.Sprintf("unknown tool: %s", call.Name))
	}
	if spec.Execute == nil {
		return "", types.NewError(types.ErrInvalidTransition, fmt.Sprintf("tool %s is not executable", call.Name))
	}
	if err := ValidateArgs(call.Name, call.Arguments); err != nil {
		return "", err
	}

	start := time.Now()
	result, err := spec.Execute(ctx, call.Arguments)
	r.logger.Debug("tool executed",
		zap.String("tool", call.Name),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return result, err
}

// =============================================================================
// 📬 默认工具集（side effect 为桩实现，真实投递属于外部协作方）
// =============================================================================

func defaultSpecs() []Spec {
	return []Spec{
		{
			Name:        ToolWriteEmail,
			Description: "Write and send an email.",
			Sensitive:   true,
			Allowed: []types.ResponseType{
				types.ResponseAccept, types.ResponseEdit,
				types.ResponseIgnore, types.ResponseFeedback,
			},
			Namespace: types.NamespaceResponse,
			Execute: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var a WriteEmailArgs
				if err := decodeStrict(raw, &a); err != nil {
					return "", err
				}
				return fmt.Sprintf("Email sent to %s with subject '%s' and content: %s", a.To, a.Subject, a.Content), nil
			},
		},
		{
			Name:        ToolScheduleMeeting,
			Description: "Schedule a calendar meeting.",
			Sensitive:   true,
			Allowed: []types.ResponseType{
				types.ResponseAccept, types.ResponseEdit,
				types.ResponseIgnore, types.ResponseFeedback,
			},
			Namespace: types.NamespaceCalendar,
			Execute: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var a ScheduleMeetingArgs
				if err := decodeStrict(raw, &a); err != nil {
					return "", err
				}
				return fmt.Sprintf("Meeting '%s' scheduled on %s at %d:00 for %d minutes",
					a.Subject, a.PreferredDay, a.StartTime, a.DurationMinutes), nil
			},
		},
		{
			Name:        ToolCheckCalendar,
			Description: "Check calendar availability for meeting attendees.",
			Sensitive:   false,
			Execute: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var a CheckCalendarArgs
				if err := decodeStrict(raw, &a); err != nil {
					return "", err
				}
				return fmt.Sprintf("All attendees available on %s between 9:00-17:00", a.PreferredDay), nil
			},
		},
		{
			// Question 只能由人工回答或忽略，没有机器执行语义
			Name:        ToolQuestion,
			Description: "Ask the user a clarifying question.",
			Sensitive:   true,
			Allowed: []types.ResponseType{
				types.ResponseIgnore, types.ResponseFeedback,
			},
		},
		{
			// Done 是终止标记，由控制器消费而不是执行
			Name:        ToolDone,
			Description: "Mark that the email processing is complete.",
			Sensitive:   false,
		},
	}
}
