package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/inboxflow/types"
)

func TestRegistrySensitivity(t *testing.T) {
	r := NewRegistry(nil)

	assert.True(t, r.Sensitive(ToolWriteEmail))
	assert.True(t, r.Sensitive(ToolScheduleMeeting))
	assert.True(t, r.Sensitive(ToolQuestion))
	assert.False(t, r.Sensitive(ToolCheckCalendar))
	assert.False(t, r.Sensitive(ToolDone))

	t.Run("unknown tools treated as sensitive", func(t *testing.T) {
		assert.True(t, r.Sensitive("delete_mailbox"))
	})
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	t.Run("write_email", func(t *testing.T) {
		result, err := r.Execute(ctx, types.ToolCall{
			ID:        "call_1",
			Name:      ToolWriteEmail,
			Arguments: json.RawMessage(`{"to":"alice@corp.com","subject":"Re: Sync","content":"Works for me."}`),
		})
		require.NoError(t, err)
		assert.Equal(t, "Email sent to alice@corp.com with subject 'Re: Sync' and content: Works for me.", result)
	})

	t.Run("check_calendar_availability", func(t *testing.T) {
		result, err := r.Execute(ctx, types.ToolCall{
			ID:        "call_2",
			Name:      ToolCheckCalendar,
			Arguments: json.RawMessage(`{"attendees":["alice@corp.com"],"preferred_day":"2026-09-01","duration_minutes":30}`),
		})
		require.NoError(t, err)
		assert.Contains(t, result, "2026-09-01")
	})

	t.Run("question is not executable", func(t *testing.T) {
		_, err := r.Execute(ctx, types.ToolCall{Name: ToolQuestion, Arguments: json.RawMessage(`{"content":"Which week?"}`)})
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := r.Execute(ctx, types.ToolCall{Name: "rm_rf"})
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
	})

	t.Run("malformed args rejected", func(t *testing.T) {
		_, err := r.Execute(ctx, types.ToolCall{
			Name:      ToolWriteEmail,
			Arguments: json.RawMessage(`{"to":"x","unexpected_field":1}`),
		})
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
	})
}

func TestValidateArgs(t *testing.T) {
	require.NoError(t, ValidateArgs(ToolScheduleMeeting, json.RawMessage(
		`{"attendees":["a@x.com"],"subject":"Sync","duration_minutes":30,"preferred_day":"2026-09-01","start_time":14}`)))
	require.NoError(t, ValidateArgs(ToolDone, nil))
	require.Error(t, ValidateArgs(ToolWriteEmail, json.RawMessage(`not json`)))
	require.Error(t, ValidateArgs("bogus", json.RawMessage(`{}`)))
}

func TestFormatForDisplay(t *testing.T) {
	display := FormatForDisplay(types.ToolCall{
		Name:      ToolWriteEmail,
		Arguments: json.RawMessage(`{"to":"bob@corp.com","subject":"Update","content":"All green."}`),
	})
	assert.Contains(t, display, "# Email Draft")
	assert.Contains(t, display, "**To**: bob@corp.com")
	assert.Contains(t, display, "All green.")

	display = FormatForDisplay(types.ToolCall{
		Name:      ToolScheduleMeeting,
		Arguments: json.RawMessage(`{"attendees":["a@x.com","b@x.com"],"subject":"Planning","duration_minutes":45,"preferred_day":"2026-09-02","start_time":15}`),
	})
	assert.Contains(t, display, "# Calendar Invite")
	assert.Contains(t, display, "a@x.com, b@x.com")

	t.Run("generic fallback", func(t *testing.T) {
		display := FormatForDisplay(types.ToolCall{Name: "custom", Arguments: json.RawMessage(`{"k":"v"}`)})
		assert.Contains(t, display, "# Tool Call: custom")
	})
}
