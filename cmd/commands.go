package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"event-payments/config"
	"event-payments/internal/services"
	"event-payments/internal/store"
	"event-payments/models"

	"github.com/pocketbase/pocketbase"
	"github.com/spf13/cobra"
)

// StaleLister lists pending payments created before a cutoff.
type StaleLister interface {
	ListStalePayments(ctx context.Context, before time.Time, limit int) ([]*models.Payment, error)
}

func registerCommands(app *pocketbase.PocketBase, cfg *config.Config) {
	app.RootCmd.AddCommand(
		newStaleCommand(app, cfg),
		newWatchCommand(app, cfg),
	)
}

func newStaleCommand(app *pocketbase.PocketBase, cfg *config.Config) *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)

	command := &cobra.Command{
		Use:   "payments:stale",
		Short: "List pending payments that never received a final status",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, args []string) error {
			return runStale(command.Context(), command.OutOrStdout(), store.NewPocketBase(app), time.Now().Add(-olderThan), limit)
		},
	}

	command.Flags().DurationVar(&olderThan, "older-than", cfg.StaleAfter, "report payments pending for longer than this")
	command.Flags().IntVar(&limit, "limit", 100, "maximum number of payments to list")

	return command
}

func runStale(ctx context.Context, w io.Writer, lister StaleLister, before time.Time, limit int) error {
	payments, err := lister.ListStalePayments(ctx, before, limit)
	if err != nil {
		return err
	}

	if len(payments) == 0 {
		fmt.Fprintf(w, "No pending payments created before %s\n", before.UTC().Format(time.RFC3339))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PAYMENT\tREGISTRATION\tAMOUNT\tTRANSACTION\tNETWORK\tCREATED")
	for _, p := range payments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID,
			p.RegistrationID,
			p.Amount.StringFixed(2),
			orDash(p.TransactionID),
			orDash(p.Network),
			p.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "%d pending payment(s)\n", len(payments))
	return nil
}

func newWatchCommand(app *pocketbase.PocketBase, cfg *config.Config) *cobra.Command {
	var (
		verifyURL string
		local     bool
		interval  time.Duration
		budget    time.Duration
	)

	command := &cobra.Command{
		Use:   "payments:watch <registration_id[:transaction_reference]>...",
		Short: "Poll payments until each is confirmed, declined or times out",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			logger := app.Logger()

			var checker services.StatusChecker
			if local {
				st := store.NewPocketBase(app)
				checker = &services.LocalStatusChecker{
					Service: services.NewStatusService(st, newProvider(cfg), services.NewReconciler(st, logger), nil, logger),
				}
			} else {
				checker = services.NewHTTPStatusChecker(verifyURL, cfg.Provider.Timeout)
			}

			ctx, stop := signal.NotifyContext(command.Context(), os.Interrupt)
			defer stop()

			tracker := services.NewPollTracker(services.NewPoller(checker, interval, budget, logger))
			return runWatch(ctx, command.OutOrStdout(), tracker, args)
		},
	}

	command.Flags().StringVar(&verifyURL, "url", cfg.Poller.VerifyURL, "status endpoint to poll")
	command.Flags().BoolVar(&local, "local", false, "check through this process instead of the HTTP endpoint")
	command.Flags().DurationVar(&interval, "interval", cfg.Poller.Interval, "time between checks")
	command.Flags().DurationVar(&budget, "budget", cfg.Poller.Budget, "total time to keep polling")

	return command
}

// runWatch polls every target concurrently. A registration named twice is
// polled once, for its last transaction reference.
func runWatch(ctx context.Context, w io.Writer, tracker *services.PollTracker, targets []string) error {
	var (
		order []string
		polls = map[string]*services.Poll{}
	)
	for _, target := range targets {
		registrationID, txRef, _ := strings.Cut(target, ":")
		if registrationID == "" {
			return fmt.Errorf("invalid target %q", target)
		}
		if _, ok := polls[registrationID]; !ok {
			order = append(order, registrationID)
		}
		polls[registrationID] = tracker.Start(ctx, registrationID, txRef)
	}

	fmt.Fprintf(w, "Watching %d registration(s), up to %d checks each\n", len(order), tracker.MaxAttempts())

	var errs []error
	for _, registrationID := range order {
		res := polls[registrationID].Wait()

		fmt.Fprintf(w, "%s: %s after %d check(s)", registrationID, res.State, res.Attempts)
		if res.Message != "" {
			fmt.Fprintf(w, ": %s", res.Message)
		}
		fmt.Fprintln(w)

		switch {
		case res.State == services.PollConfirmed:
		case res.State == services.PollDeclined:
			errs = append(errs, fmt.Errorf("%s: payment declined: %s", registrationID, res.Message))
		case res.Err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", registrationID, res.Err))
		default:
			errs = append(errs, fmt.Errorf("%s: payment not confirmed: %s", registrationID, res.State))
		}
	}
	return errors.Join(errs...)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
