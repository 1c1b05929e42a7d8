package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"subscription-checkout/internal/config"
	"subscription-checkout/internal/database"
	"subscription-checkout/internal/domain"
	"subscription-checkout/internal/infrastructure/notify"
	"subscription-checkout/internal/infrastructure/payment"
	"subscription-checkout/internal/logger"
	"subscription-checkout/internal/repo"
	"subscription-checkout/internal/scheduler"
	"subscription-checkout/internal/service"
	"subscription-checkout/internal/webhook"
	"subscription-checkout/internal/worker"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
)

const purchases = 20

type notification struct {
	Type   string           `json:"type"`
	Event  string           `json:"event"`
	Object *payment.Payment `json:"object"`
}

func main() {
	log := logger.MustNew()
	defer func() { _ = log.Sync() }()
	ctx := context.Background()

	dbCfg, err := config.LoadDatabase()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}
	if err := database.RunMigrations(log, dbCfg.DSN()); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}
	db, err := database.New(ctx, log, dbCfg.DSN())
	if err != nil {
		log.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close()

	buyerID, productIDs, err := seed(ctx, db.DB())
	if err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}

	payments := repo.NewPaymentRepo(db.DB(), log)
	jobs := repo.NewJobRepo(db.DB(), log)
	// one in five creates times out after the charge went through
	gateway := payment.NewMockGateway("https://checkout.local/pay", 20)

	sched := scheduler.New(jobs, log, scheduler.Policy{
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
		JobTimeout:  5 * time.Second,
	})
	svc := service.NewPaymentService(
		log,
		repo.NewUserRepo(db.DB()),
		repo.NewProductRepo(db.DB()),
		payments,
		gateway,
		notify.NewLogNotifier(log),
		sched,
		nil,
		service.Options{
			ReturnURL:    "https://checkout.local/payment/success",
			RenewalDelay: 3 * time.Second,
			RetryDelay:   time.Second,
		},
	)
	sched.Handle(domain.JobRenewal, svc.Retry)
	sched.Handle(domain.JobRetry, svc.Retry)
	sched.OnAbandoned(svc.NotifyAbandoned)
	if err := sched.Start(ctx); err != nil {
		log.Fatal("scheduler start failed", zap.Error(err))
	}

	fmt.Printf("--- STARTING SIMULATION (%d PURCHASES) ---\n", purchases)
	for i := 0; i < purchases; i++ {
		items := []domain.LineItem{{ProductID: productIDs[rand.IntN(len(productIDs))], Quantity: int64(1 + rand.IntN(3))}}
		fmt.Printf("[%d] Purchasing %v ... ", i+1, items)

		url, err := svc.CreatePayment(ctx, buyerID, items, "")
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			continue
		}
		fmt.Printf("checkout at %s\n", url)
	}

	// the buyer pays (or the bank declines) and the gateway calls back, twice
	refunded := false
	for _, p := range gateway.Payments() {
		local, err := payments.FindById(ctx, p.ID)
		if err != nil || local == nil {
			fmt.Printf("    PHANTOM CHARGE %s: exists at the gateway, unknown locally\n", p.ID)
			continue
		}

		var settled *payment.Payment
		event := webhook.EventPaymentSucceeded
		switch roll := rand.IntN(5); {
		case roll == 0:
			// two-stage payment the operator voids before capture, no webhook follows
			if _, err := gateway.Authorize(p.ID); err != nil {
				log.Error("gateway authorize failed", zap.Error(err))
				continue
			}
			canceled, err := svc.Cancel(ctx, p.ID)
			if err != nil {
				fmt.Printf("    %s cancel FAILED: %v\n", p.ID, err)
				continue
			}
			fmt.Printf("    %s authorized then %s\n", p.ID, canceled.Status)
			continue
		case roll%2 == 1:
			settled, err = gateway.Settle(p.ID)
		default:
			settled, err = gateway.Decline(p.ID, "insufficient_funds")
			event = webhook.EventPaymentCanceled
		}
		if err != nil {
			log.Error("gateway transition failed", zap.Error(err))
			continue
		}

		body, _ := json.Marshal(notification{Type: "notification", Event: event, Object: settled})
		for delivery := 1; delivery <= 2; delivery++ {
			ack, err := svc.HandleNotification(ctx, body)
			if err != nil {
				fmt.Printf("    %s delivery %d FAILED: %v\n", p.ID, delivery, err)
				continue
			}
			fmt.Printf("    %s delivery %d -> %s (%s)\n", p.ID, delivery, ack.Message, ack.Amount)
		}

		if event == webhook.EventPaymentSucceeded && !refunded {
			refund, err := svc.Refund(ctx, p.ID)
			if err != nil {
				fmt.Printf("    %s refund FAILED: %v\n", p.ID, err)
				continue
			}
			refunded = true
			fmt.Printf("    %s refunded %s (%s)\n", p.ID, refund.Amount.Value, refund.Status)
		}
	}

	// retries fire after 1s, renewals after 3s; the sweeper catches anything late
	sweeper := worker.NewReconciliationWorker(jobs, sched, nil, worker.Options{Interval: time.Second, Grace: time.Second}, log)
	sweepCtx, stop := context.WithTimeout(ctx, 6*time.Second)
	defer stop()
	sweeper.Run(sweepCtx)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Warn("scheduler shutdown", zap.Error(err))
	}

	if err := report(ctx, db.DB(), len(gateway.Payments())); err != nil {
		log.Error("report failed", zap.Error(err))
	}
}

func seed(ctx context.Context, db *sql.DB) (int64, []int64, error) {
	var buyerID int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO users (tg_id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET tg_id = EXCLUDED.tg_id
		RETURNING id
	`, 100500, "simulator").Scan(&buyerID)
	if err != nil {
		return 0, nil, fmt.Errorf("seed user: %w", err)
	}

	var ids []int64
	for _, price := range []string{"99.90", "250.00", "1490.00"} {
		var id int64
		if err := db.QueryRowContext(ctx, `INSERT INTO products (price) VALUES ($1) RETURNING id`, price).Scan(&id); err != nil {
			return 0, nil, fmt.Errorf("seed product: %w", err)
		}
		ids = append(ids, id)
	}
	return buyerID, ids, nil
}

func report(ctx context.Context, db *sql.DB, remote int) error {
	var local int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM payments`).Scan(&local); err != nil {
		return err
	}
	fmt.Println("---------------------------------------------------")
	fmt.Printf("gateway payments: %d, local payments (all runs): %d\n", remote, local)

	rows, err := db.QueryContext(ctx, `SELECT kind, status, count(*) FROM scheduled_jobs GROUP BY kind, status ORDER BY kind, status`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var kind, status string
		var n int
		if err := rows.Scan(&kind, &status, &n); err != nil {
			return err
		}
		fmt.Printf("jobs %-8s %-10s %d\n", kind, status, n)
	}
	return rows.Err()
}
