package paytest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Prober interface {
	Probe(ctx context.Context) error
}

// IntegrationTest checks the store and the payment provider at startup and
// reports the result to the super admin.
type IntegrationTest struct {
	store    Pinger
	provider Prober
	timeout  time.Duration
	notifyFn func(message string)
}

// NewIntegrationTest accepts a nil provider when payments are not configured.
func NewIntegrationTest(store Pinger, provider Prober, timeout time.Duration, notifyFn func(string)) *IntegrationTest {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &IntegrationTest{
		store:    store,
		provider: provider,
		timeout:  timeout,
		notifyFn: notifyFn,
	}
}

// RunStartupTest never stops the bot; the returned error is for logging.
func (it *IntegrationTest) RunStartupTest(ctx context.Context) error {
	slog.Info("Starting startup integration test")

	var lines []string
	var errs []error

	if err := it.testStore(ctx); err != nil {
		lines = append(lines, fmt.Sprintf("❌ Database: %v", err))
		errs = append(errs, err)
	} else {
		lines = append(lines, "✅ Database reachable")
	}

	switch {
	case it.provider == nil:
		lines = append(lines, "⚠️ Razorpay not configured: /upgrade will report payments unavailable")
	default:
		if err := it.testProvider(ctx); err != nil {
			lines = append(lines, fmt.Sprintf("❌ Razorpay: %v", err))
			errs = append(errs, err)
		} else {
			lines = append(lines, "✅ Razorpay credentials accepted")
		}
	}

	err := errors.Join(errs...)
	title := "✅ Bot started"
	if err != nil {
		title = "🚨 Bot started with problems"
		slog.Error("Startup integration test failed", "error", err)
	} else {
		slog.Info("Startup integration test passed")
	}

	it.notifyFn(title + "\n\n" + strings.Join(lines, "\n"))
	return err
}

func (it *IntegrationTest) testStore(ctx context.Context) error {
	testCtx, cancel := context.WithTimeout(ctx, it.timeout)
	defer cancel()

	if err := it.store.Ping(testCtx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	return nil
}

func (it *IntegrationTest) testProvider(ctx context.Context) error {
	testCtx, cancel := context.WithTimeout(ctx, it.timeout)
	defer cancel()

	if err := it.provider.Probe(testCtx); err != nil {
		return fmt.Errorf("provider probe: %w", err)
	}
	return nil
}
