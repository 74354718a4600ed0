// Shared helpers for receiptctl commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/receipts/internal/authz"
	"github.com/mesh-intelligence/receipts/internal/events"
	"github.com/mesh-intelligence/receipts/internal/ledger"
	"github.com/mesh-intelligence/receipts/internal/lock"
	"github.com/mesh-intelligence/receipts/internal/logging"
	"github.com/mesh-intelligence/receipts/internal/metrics"
	"github.com/mesh-intelligence/receipts/internal/receipts"
	"github.com/mesh-intelligence/receipts/internal/telemetry"
	"github.com/mesh-intelligence/receipts/pkg/sqlite"
	"github.com/mesh-intelligence/receipts/pkg/types"
)

const devnetFileName = "devnet.json"

// app is one wired service plus the resources it holds.
type app struct {
	svc       *receipts.Service
	store     types.Store
	policy    *authz.Policy
	publisher events.Publisher
	registry  *prometheus.Registry
	redis     *redis.Client
	telemetry *telemetry.Telemetry
	logger    *zap.Logger
}

// openApp resolves configuration and wires the service. The caller must
// defer close.
func openApp() (*app, error) {
	dataDir, err := resolveDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	s, err := resolveSettings(cfg, dataDir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(s.LogLevel, s.LogFormat)
	if err != nil {
		return nil, err
	}

	a := &app{logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(a.registry)

	if a.telemetry, err = telemetry.New(context.Background(), s.Tracing, logger); err != nil {
		a.close()
		return nil, err
	}

	a.store, err = sqlite.Open(s.Store)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("attach store: %w", err)
	}

	dev, err := ledger.OpenDevnet(filepath.Join(dataDir, devnetFileName))
	if err != nil {
		a.close()
		return nil, err
	}
	breaker := ledger.DefaultBreakerSettings()
	breaker.ConsecutiveFailures = s.BreakerFails
	if s.BreakerTimeout > 0 {
		breaker.OpenTimeout = s.BreakerTimeout
	}
	client := ledger.NewInstrumented(
		ledger.NewBreaker(dev, breaker, logger),
		m,
		a.telemetry.Tracer(modulePath+"/ledger"),
	)

	var locker lock.Locker = lock.NewLocal()
	if s.LockDriver == driverRedis {
		a.redis = redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		if locker, err = lock.NewRedis(a.redis, s.Redis, logger); err != nil {
			a.close()
			return nil, err
		}
	}

	a.publisher = events.Nop{}
	if s.EventsDriver == driverKafka {
		if a.publisher, err = events.NewKafka(events.KafkaConfig{Brokers: s.EventsBrokers, Topic: s.EventsTopic}, logger); err != nil {
			a.close()
			return nil, err
		}
	}

	a.policy = authz.NewPolicy(s.Store.Administrators, s.Parties...)
	a.svc, err = receipts.New(a.store, client, a.policy,
		receipts.WithLogger(logger),
		receipts.WithMetrics(m),
		receipts.WithLocker(locker),
		receipts.WithPublisher(a.publisher),
		receipts.WithUnfreezePolicy(s.Store.UnfreezePolicy),
		receipts.WithStaleAfter(s.Store.StaleAfter),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// close releases everything openApp acquired and writes the metrics file
// if one was requested.
func (a *app) close() {
	if flagMetricsFile != "" {
		if err := prometheus.WriteToTextfile(flagMetricsFile, a.registry); err != nil {
			a.logger.Warn("write metrics file", zap.String("path", flagMetricsFile), zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("close publisher", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Detach()
	}
	if a.telemetry != nil {
		a.telemetry.Shutdown(context.Background())
	}
	_ = a.logger.Sync()
}

// withApp opens the service, runs fn and closes it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, a)
}

// party resolves a party id against the configured directory.
func (a *app) party(id string) (types.Party, error) {
	p, ok := a.policy.Party(id)
	if !ok {
		return types.Party{}, usageErr("party %q is not configured", id)
	}
	return p, nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}

// printResult writes the outcome of a mutating operation. A ledger failure
// is reported, not returned: the operation itself completed.
func printResult(w io.Writer, res receipts.Result) error {
	if flagJSON {
		return printJSON(w, res)
	}
	switch {
	case res.ReceiptID != "":
		fmt.Fprintf(w, "receipt %s: %s\n", res.ReceiptID, res.Status)
	case len(res.SourceIDs) > 0:
		fmt.Fprintf(w, "sources %s: %s\n", strings.Join(res.SourceIDs, ", "), res.Status)
	}
	if res.ApplicationID != "" {
		fmt.Fprintf(w, "application %s: %s\n", res.ApplicationID, res.ApplicationStatus)
	}
	if res.TxRef != "" {
		fmt.Fprintf(w, "tx %s block %s\n", res.TxRef, res.BlockRef)
	}
	for _, id := range res.ChildIDs {
		fmt.Fprintf(w, "child %s\n", id)
	}
	if res.MergedID != "" {
		fmt.Fprintf(w, "merged into %s\n", res.MergedID)
	}
	if res.FailedStep != "" {
		fmt.Fprintf(w, "ledger sync failed at %s: %s\n", res.FailedStep, res.Failure)
	}
	return nil
}

func printResults(w io.Writer, rs []receipts.Result, runErr error) error {
	if flagJSON {
		if err := printJSON(w, rs); err != nil {
			return err
		}
		return runErr
	}
	for _, r := range rs {
		if err := printResult(w, r); err != nil {
			return err
		}
	}
	if len(rs) == 0 && runErr == nil {
		fmt.Fprintln(w, "nothing to do")
	}
	return runErr
}

func printReceipt(w io.Writer, r *types.Receipt) error {
	if flagJSON {
		return printJSON(w, r)
	}
	l := r.Ledger()
	fmt.Fprintf(w, "%s  %s\n", r.Number, r.ID)
	fmt.Fprintf(w, "  status:    %s (sync %s)\n", r.Status(), l.Sync)
	fmt.Fprintf(w, "  owner:     %s  holder: %s  warehouse: %s\n", r.Owner.ID, r.Holder.ID, r.Warehouse.ID)
	fmt.Fprintf(w, "  goods:     %s %s %s @ %s = %s\n", r.Goods.Quantity, r.Goods.Unit, r.Goods.Name, r.Goods.UnitPrice, r.Goods.TotalValue)
	fmt.Fprintf(w, "  location:  %s\n", r.Goods.Location)
	if r.Goods.ExpiryDate != nil {
		fmt.Fprintf(w, "  expires:   %s\n", r.Goods.ExpiryDate.Format(time.DateOnly))
	}
	if l.TxRef != "" {
		fmt.Fprintf(w, "  tx:        %s block %s\n", l.TxRef, l.BlockRef)
	}
	if r.ParentID != "" {
		fmt.Fprintf(w, "  parent:    %s\n", r.ParentID)
	}
	if len(r.SourceIDs) > 0 {
		fmt.Fprintf(w, "  sources:   %s\n", strings.Join(r.SourceIDs, ", "))
	}
	return nil
}

func printReceipts(w io.Writer, rs []*types.Receipt) error {
	if flagJSON {
		return printJSON(w, rs)
	}
	for _, r := range rs {
		fmt.Fprintf(w, "%s  %-16s %s %s %s\n", r.ID, r.Status(), r.Number, r.Goods.Quantity, r.Goods.Unit)
	}
	return nil
}

func printApplications(w io.Writer, as []*types.Application) error {
	if flagJSON {
		return printJSON(w, as)
	}
	for _, a := range as {
		fmt.Fprintf(w, "%s  %-6s %-8s %s by %s\n", a.ID, a.Kind, a.Status, strings.Join(a.ReceiptIDs, ","), a.Applicant)
	}
	return nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(flag, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, types.NewValidationError(flag, fmt.Sprintf("%q is not a date (YYYY-MM-DD)", v))
}

func isNotFound(err error) bool { return errors.Is(err, types.ErrNotFound) }
