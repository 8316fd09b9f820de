package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ShiftMonitor releases tables whose assignment outlived a shift.
type ShiftMonitor struct {
	Assignments *AssignmentService
	MaxDuration time.Duration
	Interval    time.Duration
	Log         *logrus.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewShiftMonitor(assignments *AssignmentService, maxDuration, interval time.Duration, log *logrus.Logger) *ShiftMonitor {
	return &ShiftMonitor{
		Assignments: assignments,
		MaxDuration: maxDuration,
		Interval:    interval,
		Log:         log,
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (m *ShiftMonitor) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Sweep(context.Background())
			case <-m.stopChan:
				return
			}
		}
	}()
}

// Stop ends the loop and waits for a running sweep to finish.
func (m *ShiftMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	<-m.done
}

// Sweep runs one pass and returns how many tables were released.
func (m *ShiftMonitor) Sweep(ctx context.Context) int {
	released, err := m.Assignments.ExpireShifts(ctx, m.MaxDuration)
	if err != nil {
		m.Log.WithError(err).Error("shift sweep failed")
	}
	if released > 0 {
		m.Log.WithField("released_tables", released).Info("released tables at end of shift")
	}
	return released
}
