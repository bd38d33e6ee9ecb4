package job

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/crategate/crategate/internal/crate"
)

func TestIsTerminal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusScheduled, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()
	allowed := map[[2]Status]bool{
		{StatusScheduled, StatusRunning}: true,
		{StatusScheduled, StatusFailed}:  true,
		{StatusRunning, StatusCompleted}: true,
		{StatusRunning, StatusFailed}:    true,
	}
	all := []Status{StatusScheduled, StatusRunning, StatusCompleted, StatusFailed}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	a := New(KindExport, nil)
	b := New(KindExport, nil)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids %q and %q, want distinct non-empty", a.ID, b.ID)
	}
	if a.Status != StatusScheduled {
		t.Errorf("Status = %q, want %q", a.Status, StatusScheduled)
	}
}

func TestJobJSON(t *testing.T) {
	t.Parallel()
	j := New(KindValidate, []byte("secret payload"))
	j.Status = StatusCompleted
	j.ValidationResult = crate.NewReport(true, []string{"https://doi.org/10.1/a"}, nil)

	b, err := json.Marshal(j)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"jobId"`, `"status":"COMPLETED"`, `"validationResult"`, `"foundIdentifiers"`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}
	for _, unwanted := range []string{"secret payload", `"kind"`, `"downloadUrl"`, `"errors"`} {
		if strings.Contains(s, unwanted) {
			t.Errorf("JSON %s contains %s", s, unwanted)
		}
	}
}
