package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	dig_container "github.com/trezcool/attendance/apps/api/di/dig"
)

// runJobs starts the periodic maintenance tasks. The returned channel is closed once they all stopped.
func runJobs(ctx context.Context, jobs dig_container.Jobs) <-chan struct{} {
	var wg sync.WaitGroup
	every := func(name string, interval time.Duration, task func(ctx context.Context) error) {
		if interval <= 0 {
			jobs.Logger.Warn(fmt.Sprintf("job %s disabled", name))
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := task(ctx); err != nil && ctx.Err() == nil {
						jobs.Logger.Error(fmt.Sprintf("job %s: %v", name, err), err)
					}
				}
			}
		}()
	}

	every("devices.sweep", jobs.Conf.Devices.SweepInterval, func(ctx context.Context) error {
		offline, err := jobs.Devices.SweepOffline(ctx)
		if err != nil {
			return err
		}
		for _, dev := range offline {
			jobs.Logger.Warn(fmt.Sprintf("device %q went offline", dev.Name))
		}

		summary, err := jobs.Devices.Summary(ctx)
		if err != nil {
			return err
		}
		jobs.Metrics.SetDevicesOnline(summary.Online)
		return nil
	})

	every("devices.purge-metrics", jobs.Conf.Attendance.PurgeInterval, func(ctx context.Context) error {
		n, err := jobs.Devices.PurgeMetrics(ctx)
		if err == nil && n > 0 {
			jobs.Logger.Info(fmt.Sprintf("purged %d device metric samples", n))
		}
		return err
	})

	every("attendance.purge", jobs.Conf.Attendance.PurgeInterval, func(ctx context.Context) error {
		n, err := jobs.Attendance.PurgeExpired(ctx)
		if err == nil && n > 0 {
			jobs.Logger.Info(fmt.Sprintf("purged %d expired attendance records", n))
		}
		return err
	})

	every("auth.purge-revoked", jobs.Conf.Attendance.PurgeInterval, func(ctx context.Context) error {
		_, err := jobs.Users.PurgeRevokedTokens(ctx)
		return err
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}
