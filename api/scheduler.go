/*
scheduler.go - Withdrawal digest scheduler

PURPOSE:
  On a cron schedule, lists the pending installments due LookaheadDays from
  today and logs a digest grouped by payment reference, so collection can
  be prepared before the withdrawal day.

DESIGN:
  - Uses robfig/cron with a standard 5-field spec (default "0 6 * * *")
  - Read-only: never changes installment status or outcome codes
  - RunNow exposes the same job to POST /api/admin/withdrawal-digest

USAGE:
  scheduler := NewWithdrawalScheduler(store, logger)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerWithdrawalDigest, ListWithdrawals
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/installments/installment"
)

// Digest summarises the withdrawals due on one day.
type Digest struct {
	Date       string           `json:"date"`
	Count      int              `json:"count"`
	Total      int64            `json:"total"`
	Sales      int              `json:"sales"`
	References []DigestLine     `json:"references"`
	Fallback   []InstallmentDTO `json:"fallback,omitempty"`
}

// DigestLine is the amount to collect through one reference code.
type DigestLine struct {
	SaleID      int64  `json:"sale_id"`
	ReferenceID int64  `json:"reference_id"`
	Code        string `json:"code"`
	Amount      int64  `json:"amount"`
}

// WithdrawalScheduler runs the digest job.
type WithdrawalScheduler struct {
	Reader        installment.Reader
	Logger        *zap.Logger
	Clock         installment.Clock
	Spec          string
	LookaheadDays int
	Enabled       bool

	cron *cron.Cron
	mu   sync.Mutex
}

// NewWithdrawalScheduler creates a scheduler with the default spec and a
// one-day lookahead.
func NewWithdrawalScheduler(reader installment.Reader, logger *zap.Logger) *WithdrawalScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WithdrawalScheduler{
		Reader:        reader,
		Logger:        logger.Named("scheduler"),
		Clock:         installment.SystemClock{},
		Spec:          "0 6 * * *",
		LookaheadDays: 1,
		Enabled:       true,
	}
}

// Start registers the job and starts the cron runner.
func (ws *WithdrawalScheduler) Start() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if !ws.Enabled {
		ws.Logger.Info("disabled, not starting")
		return nil
	}
	if ws.cron != nil {
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(ws.Spec, ws.run); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", ws.Spec, err)
	}
	c.Start()
	ws.cron = c

	ws.Logger.Info("started", zap.String("spec", ws.Spec), zap.Int("lookahead_days", ws.LookaheadDays))
	return nil
}

// Stop stops the runner and waits for a running job to finish.
func (ws *WithdrawalScheduler) Stop() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.cron == nil {
		return
	}
	<-ws.cron.Stop().Done()
	ws.cron = nil
	ws.Logger.Info("stopped")
}

func (ws *WithdrawalScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := ws.RunNow(ctx); err != nil {
		ws.Logger.Error("withdrawal digest failed", zap.Error(err))
	}
}

// RunNow builds and logs the digest for today + LookaheadDays.
func (ws *WithdrawalScheduler) RunNow(ctx context.Context) (*Digest, error) {
	now := ws.Clock.Now()
	day := installment.Date(now.Year(), now.Month(), now.Day()+ws.LookaheadDays)

	rows, err := ws.Reader.ListDueInstallments(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list due installments: %w", err)
	}

	digest := &Digest{Date: day.Format(dateLayout), References: []DigestLine{}}
	codes := make(map[installment.SaleID]map[installment.ReferenceID]string)

	for _, row := range rows {
		digest.Count++
		digest.Total += int64(row.Amount)

		if _, seen := codes[row.SaleID]; !seen {
			refs, err := ws.Reader.ListReferences(ctx, row.SaleID)
			if err != nil {
				return nil, fmt.Errorf("failed to list references of sale %d: %w", row.SaleID, err)
			}
			byID := make(map[installment.ReferenceID]string, len(refs))
			for _, ref := range refs {
				byID[ref.ID] = ref.Code
			}
			codes[row.SaleID] = byID
		}

		if row.ReferenceID == nil {
			digest.Fallback = append(digest.Fallback, toInstallmentDTOs([]installment.Installment{row})...)
			continue
		}
		digest.References = append(digest.References, DigestLine{
			SaleID:      int64(row.SaleID),
			ReferenceID: int64(*row.ReferenceID),
			Code:        codes[row.SaleID][*row.ReferenceID],
			Amount:      int64(row.Amount),
		})
	}
	digest.Sales = len(codes)

	ws.Logger.Info("withdrawal digest",
		zap.String("date", digest.Date),
		zap.Int("installments", digest.Count),
		zap.Int64("total", digest.Total),
		zap.Int("sales", digest.Sales),
	)
	for _, line := range digest.References {
		ws.Logger.Debug("withdrawal",
			zap.Int64("sale_id", line.SaleID),
			zap.String("code", line.Code),
			zap.Int64("amount", line.Amount),
		)
	}
	return digest, nil
}
