// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartExpirySweep runs SweepExpired every interval until ctx is done.
func (l *Lifecycle) StartExpirySweep(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			moved, err := l.SweepExpired(ctx, 200)
			if err != nil {
				log.Printf("[Scheduler] expiry sweep failed: %v", err)
				return
			}
			if moved > 0 {
				log.Printf("✅ Expired %d overdue bount(ies)", moved)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}
	sched.Start()

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			log.Printf("[Scheduler] shutdown: %v", err)
		}
	}()
	return sched, nil
}
