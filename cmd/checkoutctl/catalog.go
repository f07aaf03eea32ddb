package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
	"github.com/kevin07696/subscription-checkout/pkg/timeutil"
)

func plansCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the subscription plan catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}

			ctx, cancel := resilience.DefaultTimeoutConfig().SettlementContext(cmd.Context())
			defer cancel()
			plans, err := e.settlement.GetPlans(ctx)
			if err != nil {
				return fmt.Errorf("%s (%w)", domain.UserMessage(err), err)
			}

			if ok, err := e.printJSON(plans); ok || err != nil {
				return err
			}
			if len(plans) == 0 {
				fmt.Fprintln(e.out, "No plans available")
				return nil
			}
			tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PLAN\tNAME\tPRICE\tDAYS")
			for _, p := range plans {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", p.PlanID, p.Name, p.Price.StringFixed(2), p.DurationDays)
			}
			return tw.Flush()
		},
	}
}

func statusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the user's subscription",
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

			ctx, cancel := resilience.DefaultTimeoutConfig().SettlementContext(cmd.Context())
			defer cancel()
			sub, err := e.settlement.GetSubscription(ctx, userID)
			if err != nil {
				return fmt.Errorf("%s (%w)", domain.UserMessage(err), err)
			}

			if ok, err := e.printJSON(sub); ok || err != nil {
				return err
			}
			printSubscription(e, sub)
			return nil
		},
	}
}

func cancelCmd(flags *globalFlags) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the user's active subscription",
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

			session := e.newOrchestrator(userID, nil, nil)
			defer session.Dispose()
			if err := session.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("%s (%w)", domain.UserMessage(err), err)
			}
			if err := session.CancelSubscription(cmd.Context(), reason); err != nil {
				return fmt.Errorf("%s (%w)", domain.UserMessage(err), err)
			}

			sub := session.Snapshot().Subscription
			if ok, err := e.printJSON(sub); ok || err != nil {
				return err
			}
			printSubscription(e, sub)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason sent to the backend")
	return cmd
}

func printSubscription(e *env, sub *domain.UserSubscription) {
	if sub == nil {
		fmt.Fprintln(e.out, "No subscription")
		return
	}
	fmt.Fprintf(e.out, "Plan:      %s\n", sub.PlanID)
	fmt.Fprintf(e.out, "Status:    %s\n", sub.Status)
	if !sub.EndDate.IsZero() {
		fmt.Fprintf(e.out, "Ends:      %s (%d days left)\n", sub.EndDate.Format("2006-01-02"), sub.DaysRemaining(timeutil.Now()))
	}
}
