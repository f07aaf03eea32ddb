package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/kevin07696/subscription-checkout/internal/adapters/pendingstore"
	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/services/returnpage"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
	"github.com/kevin07696/subscription-checkout/pkg/timeutil"
)

func verifyCmd(flags *globalFlags) *cobra.Command {
	var (
		attempts int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "verify [ORDER_NO]",
		Short: "Check an order with the settlement backend",
		Long: `Checks ORDER_NO once, the way the payment result page does. Without
ORDER_NO the order in the device's pending record is used. With --attempts
greater than one, pending and unreachable results are retried with backoff,
or every --interval when one is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			userID, err := e.requireUser()
			if err != nil {
				return err
			}
			if attempts < 1 {
				attempts = 1
			}
			var backoff resilience.Backoff = resilience.VerifyBackoff()
			if interval > 0 {
				backoff = resilience.Constant(interval)
			}

			files, err := pendingstore.NewFileBackend(e.cfg.Store.FileDir)
			if err != nil {
				return err
			}
			controller := returnpage.NewController(e.settlement, files,
				returnpage.Config{MaxRecordAge: e.cfg.Store.MaxRecordAge},
				resilience.DefaultTimeoutConfig(), e.portLogger)

			params := url.Values{}
			if len(args) == 1 {
				params.Set(returnpage.ParamOrderNo, args[0])
			}

			var result returnpage.Result
			ctx := cmd.Context()
			_ = resilience.Retry(ctx, backoff, attempts, func(attempt int) (bool, error) {
				result = controller.Verify(ctx, userID, params)
				if result.State == returnpage.StateSuccess || !result.Retryable() {
					return true, nil
				}
				if attempt < attempts-1 {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s Checking again...\n", domain.UserMessage(result.Err))
				}
				return false, result.Err
			})
			if err := ctx.Err(); err != nil {
				return err
			}

			if ok, err := e.printJSON(verifyView(result)); ok || err != nil {
				return err
			}
			if result.State != returnpage.StateSuccess {
				msg := domain.UserMessage(result.Err)
				if result.Outcome != nil && result.Outcome.Message() != "" {
					msg += " " + result.Outcome.Message()
				}
				return fmt.Errorf("order %s: %s", valueOr(result.OrderNo, "(none)"), msg)
			}
			fmt.Fprintf(e.out, "Payment confirmed for order %s\n", result.OrderNo)
			printSubscription(e, result.Subscription)
			return nil
		},
	}
	cmd.Flags().IntVarP(&attempts, "attempts", "n", 1, "Number of checks before giving up")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Fixed wait between checks instead of backoff")
	return cmd
}

func verifyView(result returnpage.Result) map[string]interface{} {
	view := map[string]interface{}{
		"state":     result.State.String(),
		"orderNo":   result.OrderNo,
		"source":    result.Source,
		"retryable": result.Retryable(),
	}
	if result.PlanID != "" {
		view["planId"] = result.PlanID
	}
	if result.Subscription != nil {
		view["subscription"] = result.Subscription
	}
	if result.Err != nil {
		view["error"] = map[string]interface{}{
			"code":    domain.GetErrorCode(result.Err),
			"message": domain.UserMessage(result.Err),
		}
	}
	return view
}

func pendingCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect or clear the device's pending payment record",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the pending payment record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			userID, err := e.requireUser()
			if err != nil {
				return err
			}
			files, err := pendingstore.NewFileBackend(e.cfg.Store.FileDir)
			if err != nil {
				return err
			}

			record, err := files.ForUser(userID).Read(cmd.Context())
			if err != nil {
				return err
			}
			if ok, err := e.printJSON(record); ok || err != nil {
				return err
			}
			if record == nil {
				fmt.Fprintln(e.out, "No pending payment")
				return nil
			}
			age := record.Age(timeutil.Now()).Truncate(time.Second)
			fmt.Fprintf(e.out, "Order:     %s\n", record.OrderNo)
			fmt.Fprintf(e.out, "Plan:      %s\n", record.PlanID)
			fmt.Fprintf(e.out, "Processor: %s\n", record.Processor)
			fmt.Fprintf(e.out, "Started:   %s (%s ago)\n", timeutil.FromMillis(record.StartedAtEpochMs).Format(time.RFC3339), age)
			if age > e.cfg.Store.MaxRecordAge {
				fmt.Fprintln(e.out, "This record is stale and will not be used for verification")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the pending payment record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			userID, err := e.requireUser()
			if err != nil {
				return err
			}
			files, err := pendingstore.NewFileBackend(e.cfg.Store.FileDir)
			if err != nil {
				return err
			}
			if err := files.ForUser(userID).Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(e.out, "Pending payment cleared")
			return nil
		},
	})

	return cmd
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
