package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/patient-flow/config"
	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/queue"
	"github.com/jwalitptl/patient-flow/internal/triage"
	"github.com/jwalitptl/patient-flow/internal/view"
	"github.com/jwalitptl/patient-flow/pkg/worker"
)

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <complaint>",
		Short: "Suggest a triage tier for a complaint",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := triage.PriorityOf(strings.Join(args, " "))
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p, p.Label())
			return nil
		},
	}
}

func loginCmd(configPath *string) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a bearer token for PATIENTFLOW_TOKEN",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			token, user, err := a.api.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "logged in as %s\n", user.Name)
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func queueCmd(configPath *string) *cobra.Command {
	var desk, physician string
	var watch bool
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Print a desk's waiting line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if physician == "" {
				physician = cfg.Session.Physician
			}
			d := queue.Desk(desk)
			if d != queue.DeskTriage && d != queue.DeskPhysician {
				return fmt.Errorf("unknown desk %q: use %q or %q", desk, queue.DeskTriage, queue.DeskPhysician)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			render := func(patients []model.Patient) {
				printDesk(out, d, patients, physician, time.Now())
			}

			if !watch {
				if err := a.syncer.Load(ctx); err != nil {
					return err
				}
				render(a.store.List())
				return nil
			}

			w := view.NewWatcher(a.store, a.syncer, a.metrics, a.log)
			unmount := w.Mount(ctx, render)
			defer unmount()

			tick := worker.NewTicker(worker.TickerConfig{Name: "queue-watch", Interval: cfg.Sync.TickInterval},
				func(ctx context.Context) error { return a.syncer.Refresh(ctx, true) }, a.log)
			tick.Start(ctx)
			return nil
		},
	}
	cmd.Flags().StringVar(&desk, "desk", string(queue.DeskPhysician), "desk to show: triage or physician")
	cmd.Flags().StringVar(&physician, "physician", "", "physician id for the physician desk")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep refreshing until interrupted")
	return cmd
}

func printDesk(out io.Writer, desk queue.Desk, patients []model.Patient, physician string, now time.Time) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	var rows []view.Row
	switch desk {
	case queue.DeskTriage:
		v := view.Triage(patients, now)
		fmt.Fprintf(tw, "TRIAGE\thigh %d\tmedium %d\tlow %d\n", v.Counts.High, v.Counts.Medium, v.Counts.Low)
		rows = v.Queue
	default:
		v := view.Physician(patients, physician, now)
		if v.Current != nil {
			fmt.Fprintf(tw, "IN CONSULTATION\t%s\t%s\t%s\n", v.Current.Name, v.Current.Elapsed, v.Current.ID)
		}
		rows = v.Queue
	}

	fmt.Fprintln(tw, "#\tNAME\tPRIORITY\tWAITING\tID")
	for i, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, r.Name, r.PriorityLabel, r.Elapsed, r.ID)
	}
	if len(rows) == 0 {
		fmt.Fprintln(tw, "-\tqueue is empty\t\t\t")
	}
}
