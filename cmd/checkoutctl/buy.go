package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kevin07696/subscription-checkout/internal/adapters/pendingstore"
	"github.com/kevin07696/subscription-checkout/internal/adapters/surface"
	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
	"github.com/kevin07696/subscription-checkout/internal/services/purchase"
	"github.com/kevin07696/subscription-checkout/internal/services/reconciliation"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
)

func buyCmd(flags *globalFlags) *cobra.Command {
	var (
		processor string
		headless  bool
		chrome    string
	)
	cmd := &cobra.Command{
		Use:   "buy PLAN_ID",
		Short: "Purchase a plan, confirming the payment in a local browser",
		Long: `Starts a purchase for PLAN_ID with the chosen processor. Document
processors open their confirmation page in a new browser tab; redirect
processors navigate the first tab. The command waits until the payment
settles, fails, or the reconciliation ceiling passes.

Interrupting leaves the pending record in place; run "checkoutctl verify"
afterwards to check the order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			userID, err := e.requireUser()
			if err != nil {
				return err
			}
			planID := args[0]

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			files, err := pendingstore.NewFileBackend(e.cfg.Store.FileDir)
			if err != nil {
				return err
			}

			browserCfg := surface.DefaultBrowserConfig()
			browserCfg.Headless = headless
			browserCfg.ExecPath = chrome
			browser, err := surface.NewBrowser(ctx, browserCfg, e.portLogger)
			if err != nil {
				return fmt.Errorf("start browser: %w", err)
			}
			defer browser.Shutdown()

			session := e.newOrchestrator(userID, browser, files.ForUser(userID))
			defer session.Dispose()

			if err := session.Refresh(ctx); err != nil {
				return userError(err)
			}
			if err := session.RequestPurchase(ctx, planID); err != nil {
				return userError(err)
			}
			if err := session.ChoosePaymentMethod(ctx, planID, processor); err != nil {
				return userError(err)
			}

			watch := session.ActiveWatch()
			if watch == nil {
				if err := snapshotErr(session.Snapshot()); err != nil {
					return err
				}
				return errors.New("no payment is being reconciled")
			}
			fmt.Fprintf(e.out, "Waiting for payment of order %s (%s)\n", watch.OrderNo(), processor)

			select {
			case <-watch.Done():
			case <-ctx.Done():
				fmt.Fprintf(e.out, "Interrupted. Check the order later with: checkoutctl verify --user %s %s\n", userID, watch.OrderNo())
				return ctx.Err()
			}

			snap := session.Snapshot()
			if ok, err := e.printJSON(snap); ok || err != nil {
				return err
			}
			if err := snapshotErr(snap); err != nil {
				return err
			}
			fmt.Fprintln(e.out, "Payment confirmed")
			printSubscription(e, snap.Subscription)
			return nil
		},
	}
	cmd.Flags().StringVarP(&processor, "processor", "p", string(domain.ProcessorAlipay), "Payment processor (alipay, paypal)")
	cmd.Flags().BoolVar(&headless, "headless", false, "Run the browser without a window")
	cmd.Flags().StringVar(&chrome, "chrome", "", "Path to the Chrome executable")
	return cmd
}

// newOrchestrator builds a purchase session outside the server. A nil surface
// means the session never opens a payment window.
func (e *env) newOrchestrator(userID string, paymentSurface ports.ExternalPaymentSurface, store ports.PendingPaymentStore) *purchase.Orchestrator {
	timeouts := resilience.DefaultTimeoutConfig()
	if store == nil {
		store = pendingstore.NewMemoryBackend().ForUser(userID)
	}
	deps := purchase.Deps{
		Settlement: e.settlement,
		Store:      store,
		Surface:    paymentSurface,
		Timeouts:   timeouts,
		Logger:     e.portLogger,
	}
	if paymentSurface != nil {
		deps.Reconciler = reconciliation.NewPoller(e.settlement, paymentSurface, reconciliation.Config{
			CloseWatchInterval:  e.cfg.Poller.CloseWatchInterval,
			StatusWatchInterval: e.cfg.Poller.StatusWatchInterval,
			Ceiling:             e.cfg.Poller.Ceiling,
		}, timeouts, nil, e.portLogger)
	}
	return purchase.New(userID, deps)
}

// snapshotErr renders the session's last failure the way the checkout page shows it
func snapshotErr(snap purchase.Snapshot) error {
	if snap.Error == nil {
		return nil
	}
	msg := snap.Error.Message
	if snap.Error.Detail != "" {
		msg += " " + snap.Error.Detail
	}
	return fmt.Errorf("%s [%s]", msg, snap.Error.Code)
}

// userError prefixes err with the message a user would see
func userError(err error) error {
	msg := domain.UserMessage(err)
	if view := purchase.NewErrorView(err); view != nil && view.Detail != "" {
		msg += " " + view.Detail
	}
	return fmt.Errorf("%s (%w)", msg, err)
}
