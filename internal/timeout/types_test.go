package timeout

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTimeoutEventJSON(t *testing.T) {
	event := TimeoutEvent{
		ToolName:      "execute_command",
		Timeout:       2 * time.Minute,
		ExecutionTime: 2*time.Minute + 50*time.Millisecond,
		TaskID:        "t1",
		Timestamp:     time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`"tool_name":"execute_command"`,
		`"timeout_ms":120000`,
		`"execution_time_ms":120050`,
		`"task_id":"t1"`,
	} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("encoded event missing %s: %s", want, raw)
		}
	}
}

func TestOperationKey(t *testing.T) {
	tests := []struct {
		toolName string
		taskID   string
		want     string
	}{
		{"execute_command", "t1", "execute_command:t1"},
		{"execute_command", "", "execute_command:default"},
		{"read_file", "t1", "read_file:t1"},
	}
	for _, tt := range tests {
		if got := operationKey(tt.toolName, tt.taskID); got != tt.want {
			t.Errorf("operationKey(%q, %q) = %q, want %q", tt.toolName, tt.taskID, got, tt.want)
		}
	}
}
