// Package tasks wires the automation batch to the asynq queue: a daily
// scheduler entry, a worker handler and an enqueuer for manual runs.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/diewo77/go-contracts/internal/automation"
	"github.com/diewo77/go-contracts/internal/cadence"
	"github.com/diewo77/go-contracts/internal/models"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TaskType defines the type of a background task.
const (
	TypeProcessContracts = "billing:contracts:process"
)

// QueueBilling is the queue billing runs are enqueued on.
const QueueBilling = "billing"

// ErrRunAlreadyQueued is returned when an identical run is still pending.
var ErrRunAlreadyQueued = errors.New("run_already_queued")

// ProcessContractsPayload is the payload of a billing run task. An empty AsOf
// means today in the billing time zone.
type ProcessContractsPayload struct {
	AsOf      string            `json:"as_of,omitempty"`
	CompanyID *uint             `json:"company_id,omitempty"`
	Trigger   models.RunTrigger `json:"trigger"`
}

// NewProcessContractsTask builds a billing run task.
func NewProcessContractsTask(p ProcessContractsPayload) (*asynq.Task, error) {
	if p.Trigger == "" {
		p.Trigger = models.TriggerSchedule
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessContracts, payload), nil
}

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClientFromRedisClient(rdb)
}

// Enqueuer submits billing runs. Identical runs collapse while one is pending.
type Enqueuer struct {
	client    *asynq.Client
	uniqueTTL time.Duration
}

func NewEnqueuer(client *asynq.Client, uniqueTTL time.Duration) *Enqueuer {
	if uniqueTTL <= 0 {
		uniqueTTL = time.Hour
	}
	return &Enqueuer{client: client, uniqueTTL: uniqueTTL}
}

// EnqueueRun queues a billing run and returns the queued task id.
func (e *Enqueuer) EnqueueRun(ctx context.Context, p ProcessContractsPayload) (string, error) {
	task, err := NewProcessContractsTask(p)
	if err != nil {
		return "", err
	}
	info, err := e.client.EnqueueContext(ctx, task, runOptions(e.uniqueTTL)...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", ErrRunAlreadyQueued
	}
	if err != nil {
		return "", fmt.Errorf("enqueue billing run: %w", err)
	}
	return info.ID, nil
}

func runOptions(uniqueTTL time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(QueueBilling),
		asynq.MaxRetry(3),
		asynq.Timeout(30 * time.Minute),
		asynq.Unique(uniqueTTL),
	}
}

// --- Task Server (Processing tasks) ---

// Runner executes billing runs; automation.Processor implements it.
type Runner interface {
	Run(ctx context.Context, req automation.RunRequest) (*automation.Result, error)
}

// TenantZones lists the companies billed in their own time zone;
// services.TenantService implements it.
type TenantZones interface {
	Locations(ctx context.Context) (map[uint]*time.Location, error)
}

// TaskProcessor handles the processing of tasks.
type TaskProcessor struct {
	runner Runner
	zones  TenantZones
	loc    *time.Location
	log    zerolog.Logger
	now    func() time.Time
}

// NewTaskProcessor builds the worker handler. loc decides "today" for runs
// without a date; zones may be nil when every tenant uses loc.
func NewTaskProcessor(runner Runner, zones TenantZones, loc *time.Location, log zerolog.Logger) *TaskProcessor {
	if loc == nil {
		loc = time.UTC
	}
	return &TaskProcessor{runner: runner, zones: zones, loc: loc, log: log, now: time.Now}
}

// HandleProcessContractsTask runs the billing batch. Malformed payloads are
// not retried. Per-contract failures are left to the next scheduled run.
//
// Without an explicit date each company is billed as of today in its own
// time zone: companies with a zone get their own run and are left out of
// the run for everyone else.
func (p *TaskProcessor) HandleProcessContractsTask(ctx context.Context, t *asynq.Task) error {
	var payload ProcessContractsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal billing run payload: %v: %w", err, asynq.SkipRetry)
	}
	trigger := payload.Trigger
	if trigger == "" {
		trigger = models.TriggerSchedule
	}
	if payload.AsOf != "" {
		d, err := time.Parse(time.DateOnly, payload.AsOf)
		if err != nil {
			return fmt.Errorf("invalid as_of %q: %w", payload.AsOf, asynq.SkipRetry)
		}
		return p.run(ctx, automation.RunRequest{AsOf: d, CompanyID: payload.CompanyID, Trigger: trigger})
	}

	zones, err := p.tenantZones(ctx)
	if err != nil {
		return fmt.Errorf("load tenant time zones: %w", err)
	}
	if payload.CompanyID != nil {
		loc := p.loc
		if z, ok := zones[*payload.CompanyID]; ok {
			loc = z
		}
		return p.run(ctx, automation.RunRequest{AsOf: p.today(loc), CompanyID: payload.CompanyID, Trigger: trigger})
	}

	zoned := make([]uint, 0, len(zones))
	for id := range zones {
		zoned = append(zoned, id)
	}
	slices.Sort(zoned)
	req := automation.RunRequest{AsOf: p.today(p.loc), Trigger: trigger}
	if len(zoned) > 0 {
		req.ExcludeCompanyIDs = zoned
	}
	errs := []error{p.run(ctx, req)}
	for _, id := range zoned {
		errs = append(errs, p.run(ctx, automation.RunRequest{AsOf: p.today(zones[id]), CompanyID: &id, Trigger: trigger}))
	}
	return errors.Join(errs...)
}

func (p *TaskProcessor) run(ctx context.Context, req automation.RunRequest) error {
	res, err := p.runner.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("billing run as of %s: %w", req.AsOf.Format(time.DateOnly), err)
	}
	if res.ErrorCount > 0 {
		p.log.Warn().Str("run_id", res.RunID.String()).Int("errors", res.ErrorCount).
			Msg("billing run finished with contract errors")
	}
	return nil
}

func (p *TaskProcessor) tenantZones(ctx context.Context) (map[uint]*time.Location, error) {
	if p.zones == nil {
		return nil, nil
	}
	return p.zones.Locations(ctx)
}

func (p *TaskProcessor) today(loc *time.Location) time.Time {
	return cadence.Date(p.now().In(loc))
}

// NewServeMux registers the task handlers.
func NewServeMux(p *TaskProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeProcessContracts, p.HandleProcessContractsTask)
	return mux
}

// NewServer configures an asynq worker on the billing queue.
func NewServer(rdb *redis.Client, concurrency int, log zerolog.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServerFromRedisClient(rdb, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueBilling: 1},
		Logger:      asynqLogger{log},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().Err(err).Str("task_type", task.Type()).Str("payload", string(task.Payload())).Msg("task failed")
		}),
	})
}

// NewScheduler registers the daily billing run at cronspec in loc.
func NewScheduler(rdb *redis.Client, cronspec string, loc *time.Location, uniqueTTL time.Duration, log zerolog.Logger) (*asynq.Scheduler, error) {
	scheduler := asynq.NewSchedulerFromRedisClient(rdb, &asynq.SchedulerOpts{
		Location: loc,
		Logger:   asynqLogger{log},
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
				log.Error().Err(err).Msg("scheduled billing run not enqueued")
				return
			}
			if info != nil {
				log.Info().Str("task_id", info.ID).Msg("scheduled billing run enqueued")
			}
		},
	})
	task, err := NewProcessContractsTask(ProcessContractsPayload{Trigger: models.TriggerSchedule})
	if err != nil {
		return nil, err
	}
	if uniqueTTL <= 0 {
		uniqueTTL = time.Hour
	}
	if _, err := scheduler.Register(cronspec, task, runOptions(uniqueTTL)...); err != nil {
		return nil, fmt.Errorf("register billing cron %q: %w", cronspec, err)
	}
	return scheduler, nil
}

// asynqLogger routes asynq's own logging through zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
