package scheduler

import "testing"

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("prune", "*/10 * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 job, got %d", s.Len())
	}
}

func TestSchedulerInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	tests := []string{"", "every minute", "* * * *", "61 * * * *"}
	for _, expr := range tests {
		if err := s.AddJob("bad", expr, func() {}); err == nil {
			t.Errorf("Expected error for %q", expr)
		}
	}
	if s.Len() != 0 {
		t.Errorf("Invalid jobs must not be scheduled, got %d", s.Len())
	}
}
