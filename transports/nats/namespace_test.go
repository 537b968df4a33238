package nats

import "testing"

func TestNamespace(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected string
	}{
		{"no values", nil, "cfx"},
		{"queue name", []string{"inbox"}, "cfx.inbox"},
		{"several tokens", []string{"line1", "events"}, "cfx.line1.events"},
		{"empty tokens skipped", []string{"line1", "", "events"}, "cfx.line1.events"},
		{"dotted target kept", []string{"plant.line1.events"}, "cfx.plant.line1.events"},
		{"wildcard kept", []string{"plant.>"}, "cfx.plant.>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := namespace(tt.input...); got != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestFormatForNamespace(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"heartbeat", "heartbeat"},
		{"workOrderEvents", "work-order-events"},
		{"WorkOrder", "Work-order"},
		{"work_order", "work-order"},
		{"line-1", "line-1"},
		{"queue 7", "queue7"},
		{"ev€nts!", "evnts"},
		{"plant.*", "plant.*"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := formatForNamespace(tt.input); got != tt.expected {
				t.Errorf("formatForNamespace(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}
