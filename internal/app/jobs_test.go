package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

type materializerStub struct {
	horizon int
	calls   int
	created int
	err     error
}

func (s *materializerStub) MaterializeWindow(ctx context.Context, horizonDays int) (int, error) {
	s.calls++
	s.horizon = horizonDays
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("expected a deadline on the job context")
	}
	return s.created, s.err
}

func TestMaterializeOccurrences_UsesConfiguredHorizon(t *testing.T) {
	stub := &materializerStub{created: 3}
	jobs := NewJobs(stub, testLogger(), 28, time.Minute)

	jobs.MaterializeOccurrences()

	if stub.calls != 1 {
		t.Fatalf("expected one materialization call, got %d", stub.calls)
	}
	if stub.horizon != 28 {
		t.Fatalf("expected horizon 28, got %d", stub.horizon)
	}
}

func TestMaterializeOccurrences_ErrorIsLogged(t *testing.T) {
	stub := &materializerStub{err: errors.New("db down")}
	jobs := NewJobs(stub, testLogger(), 7, 0)

	jobs.MaterializeOccurrences()

	if stub.calls != 1 {
		t.Fatalf("expected one call, got %d", stub.calls)
	}
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	jobs := NewJobs(&materializerStub{}, testLogger(), 7, time.Minute)
	scheduler := NewScheduler(jobs, testLogger(), "not a cron", time.UTC)

	if err := scheduler.Start(); err == nil {
		t.Fatal("expected invalid schedule to fail")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	jobs := NewJobs(&materializerStub{}, testLogger(), 7, time.Minute)
	scheduler := NewScheduler(jobs, testLogger(), "0 3 * * *", nil)

	if err := scheduler.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	<-scheduler.Stop().Done()
}
