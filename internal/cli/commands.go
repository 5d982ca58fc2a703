package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"intelpipe/internal/report"
	"intelpipe/internal/scheduler"
	"intelpipe/internal/server"
	"intelpipe/internal/threat"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve reports over HTTP and gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			e, err := loadEnv(ctx, v)
			if err != nil {
				return err
			}
			defer e.Close()
			r, err := e.runner()
			if err != nil {
				return err
			}
			return server.New(r, e.store, server.LoadConfig()).ListenAndServe(ctx)
		},
	}
}

func newCollectCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Run one collection cycle and print the stored report key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			e, err := loadEnv(ctx, v)
			if err != nil {
				return err
			}
			defer e.Close()
			r, err := e.runner()
			if err != nil {
				return err
			}
			res, err := r.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Key)
			return nil
		},
	}
}

func newScheduleCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run collection cycles on the configured cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			e, err := loadEnv(ctx, v)
			if err != nil {
				return err
			}
			defer e.Close()
			r, err := e.runner()
			if err != nil {
				return err
			}

			spec := e.cfg.Schedule.Spec
			if s, _ := cmd.Flags().GetString("spec"); s != "" {
				spec = s
			}
			var lock scheduler.Lock = scheduler.NoopLock{}
			if addr := e.cfg.Schedule.RedisAddr; addr != "" {
				client := redis.NewClient(&redis.Options{Addr: addr})
				defer client.Close()
				lock = scheduler.NewRedisLock(client, e.cfg.Schedule.LockKey, e.cfg.Schedule.LockTTL)
			}

			s, err := scheduler.New(spec, r, scheduler.WithLock(lock), scheduler.WithTimeout(e.cfg.Schedule.LockTTL))
			if err != nil {
				return err
			}
			if now, _ := cmd.Flags().GetBool("now"); now {
				if err := s.RunOnce(ctx); err != nil {
					return err
				}
			}
			s.Run(ctx)
			return nil
		},
	}
	cmd.Flags().String("spec", "", "cron expression, overrides schedule.spec")
	cmd.Flags().Bool("now", false, "run once immediately before waiting for the schedule")
	return cmd
}

func newShowCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a stored report as a table, the latest by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := loadEnv(ctx, v)
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			if list, _ := cmd.Flags().GetBool("list"); list {
				names, err := e.store.List(ctx)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(out, name)
				}
				return nil
			}

			var doc *report.Document
			if key, _ := cmd.Flags().GetString("key"); key != "" {
				doc, err = e.store.Get(ctx, key)
			} else {
				doc, err = e.store.Latest(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s generated %s, %d indicators\n",
				doc.Name, doc.GeneratedAt.Format(time.RFC3339), len(doc.Items))
			renderReport(out, doc)
			return nil
		},
	}
	cmd.Flags().String("key", "", "report name or path to show, see --list")
	cmd.Flags().Bool("list", false, "list stored reports, oldest first")
	return cmd
}

func newSourcesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List available feed adapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range threat.DefaultRegistry.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
