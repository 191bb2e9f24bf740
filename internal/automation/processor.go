// Package automation runs the recurring billing batch: it bills due contracts,
// renews or expires the ones past their end date and records every run.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/diewo77/go-contracts/internal/cadence"
	"github.com/diewo77/go-contracts/internal/models"
	"github.com/diewo77/go-contracts/internal/services"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entries is the part of the entry service the batch depends on.
type Entries interface {
	NextCycleNumber(tx *gorm.DB, contractID uint) (int, error)
	Generate(tx *gorm.DB, c *models.Contract, in services.GenerateInput) ([]models.FinancialEntry, error)
	MarkOverdue(ctx context.Context, asOf time.Time, companyID *uint, exclude ...uint) (int64, error)
}

// Options tunes a Processor.
type Options struct {
	// Concurrency bounds how many contracts are processed at once.
	Concurrency int
	// MaxCyclesPerRun bounds the steps taken for a single contract in one run.
	MaxCyclesPerRun int
}

const (
	defaultConcurrency     = 4
	defaultMaxCyclesPerRun = 60
	conflictAttempts       = 2
)

// Processor is the automation batch. It is safe to run concurrently with
// itself: every step re-reads the contract and guards its write on the state
// it read.
type Processor struct {
	db      *gorm.DB
	entries Entries
	opts    Options
	log     zerolog.Logger
	now     func() time.Time
}

func NewProcessor(db *gorm.DB, entries Entries, opts Options, log zerolog.Logger) *Processor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.MaxCyclesPerRun <= 0 {
		opts.MaxCyclesPerRun = defaultMaxCyclesPerRun
	}
	return &Processor{db: db, entries: entries, opts: opts, log: log, now: time.Now}
}

// RunRequest scopes one batch execution. A zero AsOf means today and a nil
// CompanyID covers every tenant except ExcludeCompanyIDs.
type RunRequest struct {
	AsOf              time.Time
	CompanyID         *uint
	ExcludeCompanyIDs []uint
	Trigger           models.RunTrigger
}

// EntryRef identifies an entry generated by a run.
type EntryRef struct {
	EntryID    uint            `json:"entry_id"`
	ContractID uint            `json:"contract_id"`
	Cycle      int             `json:"billing_cycle_number"`
	DueDate    time.Time       `json:"due_date"`
	Amount     decimal.Decimal `json:"amount"`
}

// ContractRef identifies a contract renewed or expired by a run.
type ContractRef struct {
	ContractID   uint                  `json:"contract_id"`
	Status       models.ContractStatus `json:"status"`
	EndDate      *time.Time            `json:"end_date,omitempty"`
	RenewalCount int                   `json:"renewal_count"`
}

// Result summarizes a run.
type Result struct {
	RunID            uuid.UUID                 `json:"run_id"`
	AsOf             time.Time                 `json:"as_of"`
	ContractsScanned int                       `json:"contracts_scanned"`
	GeneratedEntries []EntryRef                `json:"generated_entries"`
	RenewedContracts []ContractRef             `json:"renewed_contracts"`
	ExpiredContracts []ContractRef             `json:"expired_contracts"`
	OverdueEntries   int64                     `json:"overdue_entries"`
	Errors           []*services.ContractError `json:"errors"`
	ErrorCount       int                       `json:"error_count"`
}

// ProcessAll runs the batch for every tenant as of the given date.
func (p *Processor) ProcessAll(ctx context.Context, asOf time.Time) (*Result, error) {
	return p.Run(ctx, RunRequest{AsOf: asOf, Trigger: models.TriggerManual})
}

// Run executes one batch. Per-contract failures are collected in the result
// and never abort the batch; the returned error covers only failures to scan
// or a cancelled context. The run record is finished in every case.
func (p *Processor) Run(ctx context.Context, req RunRequest) (*Result, error) {
	asOf := cadence.Date(req.AsOf)
	if req.AsOf.IsZero() {
		asOf = cadence.Date(p.now())
	}
	if req.Trigger == "" {
		req.Trigger = models.TriggerManual
	}
	res := &Result{
		RunID:            uuid.New(),
		AsOf:             asOf,
		GeneratedEntries: []EntryRef{},
		RenewedContracts: []ContractRef{},
		ExpiredContracts: []ContractRef{},
		Errors:           []*services.ContractError{},
	}
	log := p.log.With().Str("run_id", res.RunID.String()).Str("as_of", asOf.Format(time.DateOnly)).
		Str("trigger", string(req.Trigger)).Logger()

	run := &models.AutomationRun{
		RunID:     res.RunID,
		AsOf:      asOf,
		CompanyID: req.CompanyID,
		Trigger:   req.Trigger,
		StartedAt: p.now().UTC(),
	}
	if err := p.db.WithContext(ctx).Create(run).Error; err != nil {
		log.Warn().Err(err).Msg("could not record automation run")
		run = nil
	}

	ids, err := p.candidates(ctx, asOf, req)
	if err != nil {
		err = fmt.Errorf("scan contracts: %w", err)
		p.finishRun(ctx, run, res, err, log)
		return nil, err
	}
	res.ContractsScanned = len(ids)
	log.Info().Int("contracts", len(ids)).Msg("automation run started")

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			out := p.processContract(ctx, id, asOf, log)
			mu.Lock()
			defer mu.Unlock()
			res.GeneratedEntries = append(res.GeneratedEntries, out.entries...)
			if out.renewed != nil {
				res.RenewedContracts = append(res.RenewedContracts, *out.renewed)
			}
			if out.expired != nil {
				res.ExpiredContracts = append(res.ExpiredContracts, *out.expired)
			}
			if out.err != nil {
				res.Errors = append(res.Errors, out.err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		res.sort()
		res.ErrorCount = len(res.Errors)
		p.finishRun(ctx, run, res, err, log)
		log.Warn().Err(err).Int("generated", len(res.GeneratedEntries)).Msg("automation run interrupted")
		return res, err
	}

	overdue, err := p.entries.MarkOverdue(ctx, asOf, req.CompanyID, req.ExcludeCompanyIDs...)
	if err != nil {
		log.Error().Err(err).Msg("marking overdue entries failed")
	}
	res.OverdueEntries = overdue

	res.sort()
	res.ErrorCount = len(res.Errors)
	p.finishRun(ctx, run, res, nil, log)
	log.Info().
		Int("generated", len(res.GeneratedEntries)).
		Int("renewed", len(res.RenewedContracts)).
		Int("expired", len(res.ExpiredContracts)).
		Int64("overdue", res.OverdueEntries).
		Int("errors", res.ErrorCount).
		Msg("automation run finished")
	return res, nil
}

// candidates lists the active contracts that are due or past their end date.
func (p *Processor) candidates(ctx context.Context, asOf time.Time, req RunRequest) ([]uint, error) {
	q := p.db.WithContext(ctx).Model(&models.Contract{}).
		Where("status = ?", models.ContractStatusActive).
		Where("(next_billing_date <= ? OR (end_date IS NOT NULL AND end_date < ?))", asOf, asOf)
	if req.CompanyID != nil {
		q = q.Where("company_id = ?", *req.CompanyID)
	}
	if len(req.ExcludeCompanyIDs) > 0 {
		q = q.Where("company_id NOT IN ?", req.ExcludeCompanyIDs)
	}
	var ids []uint
	err := q.Order("id").Pluck("id", &ids).Error
	return ids, err
}

type stepKind int

const (
	stepIdle stepKind = iota
	stepBilled
	stepRenewed
	stepExpired
)

type stepResult struct {
	kind    stepKind
	op      string
	entries []models.FinancialEntry
	ref     ContractRef
}

type contractOutcome struct {
	entries []EntryRef
	renewed *ContractRef
	expired *ContractRef
	err     *services.ContractError
}

// processContract advances one contract step by step until nothing is left
// to do as of asOf. Steps of a contract never run in parallel.
func (p *Processor) processContract(ctx context.Context, id uint, asOf time.Time, log zerolog.Logger) contractOutcome {
	var out contractOutcome
	for i := 0; i < p.opts.MaxCyclesPerRun; i++ {
		if ctx.Err() != nil {
			return out
		}
		var r stepResult
		var err error
		for attempt := 1; attempt <= conflictAttempts; attempt++ {
			r, err = p.step(ctx, id, asOf)
			if !errors.Is(err, services.ErrPersistenceConflict) {
				break
			}
			log.Debug().Uint("contract_id", id).Int("attempt", attempt).Msg("conflict, re-reading contract")
		}
		if err != nil {
			op := r.op
			if op == "" {
				op = "load"
			}
			out.err = &services.ContractError{ContractID: id, Op: op, Err: err}
			log.Warn().Err(err).Uint("contract_id", id).Str("op", op).Msg("contract processing failed")
			return out
		}
		switch r.kind {
		case stepIdle:
			return out
		case stepBilled:
			for _, e := range r.entries {
				out.entries = append(out.entries, EntryRef{
					EntryID:    e.ID,
					ContractID: id,
					Cycle:      e.BillingCycleNumber,
					DueDate:    e.DueDate,
					Amount:     e.Amount,
				})
			}
		case stepRenewed:
			ref := r.ref
			out.renewed = &ref
		case stepExpired:
			ref := r.ref
			out.expired = &ref
			return out
		}
	}
	log.Warn().Uint("contract_id", id).Int("max_cycles", p.opts.MaxCyclesPerRun).
		Msg("contract still due after max cycles, continuing next run")
	return out
}

// step applies the next action of a contract in its own transaction.
func (p *Processor) step(ctx context.Context, id uint, asOf time.Time) (stepResult, error) {
	var r stepResult
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Contract
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !c.IsActive() || c.NextBillingDate == nil {
			return nil
		}
		next := cadence.Date(*c.NextBillingDate)
		if c.EndDate != nil {
			end := cadence.Date(*c.EndDate)
			if next.After(end) && (!next.After(asOf) || end.Before(asOf)) {
				if c.AutomaticRenewal {
					r.op = "renew"
					return p.renew(tx, &c, end, asOf, &r)
				}
				r.op = "expire"
				return p.expire(tx, &c, &r)
			}
		}
		if next.After(asOf) {
			return nil
		}
		r.op = "bill"
		return p.bill(tx, &c, next, &r)
	})
	if err != nil {
		r.kind = stepIdle
		r.entries = nil
	}
	return r, err
}

func (p *Processor) bill(tx *gorm.DB, c *models.Contract, billingDate time.Time, r *stepResult) error {
	cycle, err := p.entries.NextCycleNumber(tx, c.ID)
	if err != nil {
		return err
	}
	entries, err := p.entries.Generate(tx, c, services.GenerateInput{BillingDate: billingDate, Cycle: cycle})
	if err != nil {
		return err
	}
	following, err := cadence.NextBillingDate(billingDate, c.BillingType, c.BillingDay)
	if err != nil {
		return err
	}
	res := tx.Model(&models.Contract{}).
		Where("id = ? AND status = ? AND next_billing_date = ?", c.ID, models.ContractStatusActive, billingDate).
		Updates(map[string]any{
			"next_billing_date":       following,
			"last_billing_date":       billingDate,
			"first_billing_processed": true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: next billing date of contract %d moved", services.ErrPersistenceConflict, c.ID)
	}
	r.kind = stepBilled
	r.entries = entries
	return nil
}

func (p *Processor) renew(tx *gorm.DB, c *models.Contract, end, asOf time.Time, r *stepResult) error {
	if err := c.Apply(models.EventRenew); err != nil {
		return err
	}
	newEnd := renewedEndDate(end, c.RenewalMonths())
	res := tx.Model(&models.Contract{}).
		Where("id = ? AND status = ? AND end_date = ?", c.ID, models.ContractStatusActive, end).
		Updates(map[string]any{
			"end_date":        newEnd,
			"renewal_count":   gorm.Expr("renewal_count + ?", 1),
			"last_renewed_at": asOf,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: end date of contract %d moved", services.ErrPersistenceConflict, c.ID)
	}
	r.kind = stepRenewed
	r.ref = ContractRef{ContractID: c.ID, Status: c.Status, EndDate: &newEnd, RenewalCount: c.RenewalCount + 1}
	return nil
}

// renewedEndDate moves end by months. An end date on the last day of its
// month stays on the last day of the target month.
func renewedEndDate(end time.Time, months int) time.Time {
	day := end.Day()
	if day == cadence.DaysIn(end.Year(), end.Month()) {
		day = 31
	}
	return cadence.AddMonths(end, months, day)
}

func (p *Processor) expire(tx *gorm.DB, c *models.Contract, r *stepResult) error {
	if err := c.Apply(models.EventExpire); err != nil {
		return err
	}
	res := tx.Model(&models.Contract{}).
		Where("id = ? AND status = ?", c.ID, models.ContractStatusActive).
		Update("status", c.Status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: status of contract %d moved", services.ErrPersistenceConflict, c.ID)
	}
	r.kind = stepExpired
	r.ref = ContractRef{ContractID: c.ID, Status: c.Status, EndDate: c.EndDate, RenewalCount: c.RenewalCount}
	return nil
}

// finishRun completes the audit record. abort is the error that stopped the
// run early, if any; it is stored alongside the per-contract failures.
func (p *Processor) finishRun(ctx context.Context, run *models.AutomationRun, res *Result, abort error, log zerolog.Logger) {
	if run == nil {
		return
	}
	failures := res.Errors
	if abort != nil {
		failures = append(append([]*services.ContractError{}, res.Errors...), &services.ContractError{Op: "run", Err: abort})
	}
	summary := ""
	if len(failures) > 0 {
		if b, err := json.Marshal(failures); err == nil {
			summary = string(b)
		}
	}
	// the record is written even when ctx was cancelled
	err := p.db.WithContext(context.WithoutCancel(ctx)).Model(run).Updates(map[string]any{
		"finished_at":       p.now().UTC(),
		"contracts_scanned": res.ContractsScanned,
		"entries_generated": len(res.GeneratedEntries),
		"renewed":           len(res.RenewedContracts),
		"expired":           len(res.ExpiredContracts),
		"entries_overdue":   res.OverdueEntries,
		"error_count":       len(failures),
		"error_summary":     summary,
	}).Error
	if err != nil {
		log.Warn().Err(err).Msg("could not finish automation run record")
	}
}

// RecentRuns lists the latest automation runs, newest first.
func (p *Processor) RecentRuns(ctx context.Context, companyID *uint, limit int) ([]models.AutomationRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := p.db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(limit)
	if companyID != nil {
		q = q.Where("company_id = ?", *companyID)
	}
	var runs []models.AutomationRun
	err := q.Find(&runs).Error
	return runs, err
}

func (r *Result) sort() {
	sort.Slice(r.GeneratedEntries, func(i, j int) bool {
		a, b := r.GeneratedEntries[i], r.GeneratedEntries[j]
		if a.ContractID != b.ContractID {
			return a.ContractID < b.ContractID
		}
		return a.Cycle < b.Cycle
	})
	sort.Slice(r.RenewedContracts, func(i, j int) bool {
		return r.RenewedContracts[i].ContractID < r.RenewedContracts[j].ContractID
	})
	sort.Slice(r.ExpiredContracts, func(i, j int) bool {
		return r.ExpiredContracts[i].ContractID < r.ExpiredContracts[j].ContractID
	})
	sort.Slice(r.Errors, func(i, j int) bool { return r.Errors[i].ContractID < r.Errors[j].ContractID })
}
