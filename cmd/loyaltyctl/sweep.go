package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"loyaltyhub/internal/app"
	"loyaltyhub/internal/pkg/logger"
	notificationapp "loyaltyhub/internal/service/notification/application"
	"loyaltyhub/internal/zookeeper"
)

const (
	lockBirthdays   = "sweep-birthdays"
	lockExpirations = "sweep-expirations"
)

type sweepFunc func(ctx context.Context) (notificationapp.SweepResult, error)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sweep", Short: "Scheduled notification sweeps"}

	cmd.AddCommand(&cobra.Command{
		Use:   "birthdays",
		Short: "Send birthday greetings for today in each tenant's timezone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSweeper(cmd, func(ctx context.Context, c *app.Container, locker *zookeeper.Locker) error {
				return runLocked(ctx, locker, lockBirthdays, c.Sweeper.Birthdays)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "expirations",
		Short: "Remind customers about cards expiring within 7 days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSweeper(cmd, func(ctx context.Context, c *app.Container, locker *zookeeper.Locker) error {
				return runLocked(ctx, locker, lockExpirations, c.Sweeper.Expirations)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "daemon",
		Short: "Run sweeps on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSweeper(cmd, daemon)
		},
	})
	return cmd
}

// withSweeper 配置了 ZooKeeper 时同一时刻只有一个副本执行扫描
func withSweeper(cmd *cobra.Command, fn func(ctx context.Context, c *app.Container, locker *zookeeper.Locker) error) error {
	return withContainer(cmd, app.Options{}, func(ctx context.Context, c *app.Container) error {
		zkCfg := c.Config.Infra.Zookeeper
		if len(zkCfg.Servers) == 0 {
			return fn(ctx, c, nil)
		}
		conn, err := zookeeper.Connect(zkCfg.Servers, zkCfg.SessionTimeout)
		if err != nil {
			return err
		}
		defer conn.Close()
		return fn(ctx, c, zookeeper.NewLocker(conn))
	})
}

func runLocked(ctx context.Context, locker *zookeeper.Locker, resource string, sweep sweepFunc) error {
	run := func(ctx context.Context) error {
		res, err := sweep(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)
	}
	if locker == nil {
		return run(ctx)
	}
	err := locker.Run(ctx, resource, run)
	if errors.Is(err, zookeeper.ErrLockHeld) {
		logger.Ctx(ctx).Info().Str("resource", resource).Msg("sweep already running elsewhere, skipped")
		return nil
	}
	return err
}

// daemon 每个 interval 跑一次过期提醒；生日祝福每天只在 BirthdayHour 跑一次
func daemon(ctx context.Context, c *app.Container, locker *zookeeper.Locker) error {
	sweepCfg := c.Config.Sweep
	interval := sweepCfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	log := logger.Ctx(ctx)
	log.Info().Dur("interval", interval).Int("birthday_hour", sweepCfg.BirthdayHour).Msg("sweep daemon started")

	var lastBirthday string
	tick := func(now time.Time) {
		if err := runLocked(ctx, locker, lockExpirations, c.Sweeper.Expirations); err != nil {
			log.Error().Err(err).Msg("expiration sweep failed")
		}
		today := now.UTC().Format(time.DateOnly)
		if now.UTC().Hour() != sweepCfg.BirthdayHour || today == lastBirthday {
			return
		}
		if err := runLocked(ctx, locker, lockBirthdays, c.Sweeper.Birthdays); err != nil {
			log.Error().Err(err).Msg("birthday sweep failed")
			return
		}
		lastBirthday = today
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweep daemon stopped")
			return nil
		case now := <-ticker.C:
			tick(now)
		}
	}
}
