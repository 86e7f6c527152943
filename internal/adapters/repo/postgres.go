package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"quizpipe/internal/domain"
	"quizpipe/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.SlotRepo           = (*Postgres)(nil)
	_ domain.PublishJobRepo     = (*Postgres)(nil)
	_ domain.BatchRepo          = (*Postgres)(nil)
	_ domain.QuizRepo           = (*Postgres)(nil)
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
)

const (
	uniqueViolation = "23505"

	constraintJobScheduledAt = "publish_jobs_scheduled_at_live_key"
	constraintJobQuiz        = "publish_jobs_quiz_live_key"
	constraintJobQuizFK      = "publish_jobs_quiz_id_fkey"
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

const slotColumns = `id, day_of_week, time_of_day, is_active`

func scanSlot(row pgx.Row) (domain.RecurringSlot, error) {
	var (
		slot domain.RecurringSlot
		raw  string
	)
	if err := row.Scan(&slot.ID, &slot.DayOfWeek, &raw, &slot.IsActive); err != nil {
		return domain.RecurringSlot{}, err
	}
	tod, err := domain.ParseTimeOfDay(raw)
	if err != nil {
		return domain.RecurringSlot{}, err
	}
	slot.TimeOfDay = tod
	return slot, nil
}

func (p *Postgres) listSlots(ctx context.Context, op, query string) ([]domain.RecurringSlot, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query)
	metrics.ObserveNetworkRequest("postgres", op, "recurring_slots", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RecurringSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}

// ListSlots реализует domain.SlotRepo.
func (p *Postgres) ListSlots(ctx context.Context) ([]domain.RecurringSlot, error) {
	return p.listSlots(ctx, "slots_list", `SELECT `+slotColumns+` FROM recurring_slots ORDER BY day_of_week, time_of_day`)
}

// ListActiveSlots реализует domain.SlotRepo.
func (p *Postgres) ListActiveSlots(ctx context.Context) ([]domain.RecurringSlot, error) {
	return p.listSlots(ctx, "slots_list_active", `SELECT `+slotColumns+` FROM recurring_slots WHERE is_active ORDER BY day_of_week, time_of_day`)
}

// UpsertSlot реализует domain.SlotRepo.
func (p *Postgres) UpsertSlot(ctx context.Context, slot domain.RecurringSlot) (domain.RecurringSlot, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	stored, err := scanSlot(p.pool.QueryRow(ctx, `
INSERT INTO recurring_slots (day_of_week, time_of_day, is_active)
VALUES ($1, $2, $3)
ON CONFLICT (day_of_week, time_of_day) DO UPDATE SET is_active = EXCLUDED.is_active
RETURNING `+slotColumns, slot.DayOfWeek, slot.TimeOfDay.String(), slot.IsActive))
	metrics.ObserveNetworkRequest("postgres", "slots_upsert", "recurring_slots", start, err)
	return stored, err
}

// DeleteSlot реализует domain.SlotRepo.
func (p *Postgres) DeleteSlot(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM recurring_slots WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "slots_delete", "recurring_slots", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const jobColumns = `id, quiz_id, scheduled_at, status, remote_post_id, error_message, retry_count, last_retry_at, published_at, created_at, updated_at`

func scanJob(row pgx.Row) (domain.PublishJob, error) {
	var (
		job    domain.PublishJob
		status string
	)
	err := row.Scan(&job.ID, &job.QuizID, &job.ScheduledAt, &status, &job.RemotePostID, &job.ErrorMessage,
		&job.RetryCount, &job.LastRetryAt, &job.PublishedAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return domain.PublishJob{}, err
	}
	job.Status = domain.JobStatus(status)
	job.ScheduledAt = job.ScheduledAt.UTC()
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]domain.PublishJob, error) {
	defer rows.Close()
	out := make([]domain.PublishJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// CreateJobAtFreeSlot реализует domain.PublishJobRepo. Занятость слота проверяют частичные
// уникальные индексы, поэтому параллельные вставки на одно время не пройдут обе.
func (p *Postgres) CreateJobAtFreeSlot(ctx context.Context, quizID int64, scheduledAt time.Time) (domain.PublishJob, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	job, err := scanJob(p.pool.QueryRow(ctx, `
INSERT INTO publish_jobs (quiz_id, scheduled_at, status)
VALUES ($1, $2, 'PENDING')
RETURNING `+jobColumns, quizID, scheduledAt.UTC().Truncate(time.Minute)))
	metrics.ObserveNetworkRequest("postgres", "jobs_create_at_slot", "publish_jobs", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraintJobScheduledAt:
				// Порядок проверки индексов не определён: конфликт квиза важнее занятого времени.
				if p.quizHasLiveJob(ctx, quizID) {
					return domain.PublishJob{}, fmt.Errorf("%w: у квиза %d уже есть публикация", domain.ErrInvalidState, quizID)
				}
				return domain.PublishJob{}, domain.ErrSlotTaken
			case pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraintJobQuiz:
				return domain.PublishJob{}, fmt.Errorf("%w: у квиза %d уже есть публикация", domain.ErrInvalidState, quizID)
			case pgErr.ConstraintName == constraintJobQuizFK:
				return domain.PublishJob{}, domain.ErrNotFound
			}
		}
		return domain.PublishJob{}, err
	}
	return job, nil
}

func (p *Postgres) quizHasLiveJob(ctx context.Context, quizID int64) bool {
	start := time.Now()
	var exists bool
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM publish_jobs WHERE quiz_id = $1 AND status <> 'CANCELLED')`, quizID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "jobs_quiz_live", "publish_jobs", start, err)
	return err == nil && exists
}

// ListBookedTimes реализует domain.PublishJobRepo.
func (p *Postgres) ListBookedTimes(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT scheduled_at FROM publish_jobs
WHERE status <> 'CANCELLED' AND scheduled_at >= $1 AND scheduled_at < $2
ORDER BY scheduled_at`, from.UTC(), to.UTC())
	metrics.ObserveNetworkRequest("postgres", "jobs_list_booked", "publish_jobs", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts.UTC())
	}
	return out, rows.Err()
}

// GetJob реализует domain.PublishJobRepo.
func (p *Postgres) GetJob(ctx context.Context, id int64) (domain.PublishJob, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	job, err := scanJob(p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM publish_jobs WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "jobs_get", "publish_jobs", start, err)
	return job, notFound(err)
}

// ListJobs реализует domain.PublishJobRepo. Пустой статус возвращает все задачи.
func (p *Postgres) ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]domain.PublishJob, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+jobColumns+` FROM publish_jobs
WHERE ($1 = '' OR status = $1)
ORDER BY scheduled_at, id
LIMIT $2`, string(status), limitArg)
	metrics.ObserveNetworkRequest("postgres", "jobs_list", "publish_jobs", start, err)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// ClaimDueJobs реализует domain.PublishJobRepo. SKIP LOCKED не даёт двум тикам забрать одну задачу.
func (p *Postgres) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.PublishJob, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
WITH due AS (
    SELECT id FROM publish_jobs
    WHERE status = 'PENDING' AND scheduled_at <= $1
    ORDER BY scheduled_at, id
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE publish_jobs j SET status = 'PROCESSING', updated_at = now()
FROM due WHERE j.id = due.id
RETURNING j.id, j.quiz_id, j.scheduled_at, j.status, j.remote_post_id, j.error_message, j.retry_count, j.last_retry_at, j.published_at, j.created_at, j.updated_at`,
		now.UTC(), limit)
	metrics.ObserveNetworkRequest("postgres", "jobs_claim_due", "publish_jobs", start, err)
	if err != nil {
		return nil, err
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING не сохраняет порядок подзапроса
	sortJobs(jobs)
	return jobs, nil
}

// jobTransition выполняет условный UPDATE задачи. Если строка не изменилась,
// отличает отсутствие задачи от неподходящего статуса.
func (p *Postgres) jobTransition(ctx context.Context, op string, id int64, query string, args ...any) (domain.PublishJob, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	job, err := scanJob(p.pool.QueryRow(ctx, query, args...))
	metrics.ObserveNetworkRequest("postgres", op, "publish_jobs", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM publish_jobs WHERE id=$1)`, id).Scan(&exists); err != nil {
			return domain.PublishJob{}, err
		}
		if !exists {
			return domain.PublishJob{}, domain.ErrNotFound
		}
		return domain.PublishJob{}, domain.ErrInvalidState
	}
	return job, err
}

// MarkJobPublished реализует domain.PublishJobRepo.
func (p *Postgres) MarkJobPublished(ctx context.Context, id int64, remotePostID string, publishedAt time.Time) error {
	_, err := p.jobTransition(ctx, "jobs_mark_published", id, `
UPDATE publish_jobs SET status = 'PUBLISHED', remote_post_id = $2, error_message = NULL, published_at = $3, updated_at = now()
WHERE id = $1 AND status = 'PROCESSING'
RETURNING `+jobColumns, id, remotePostID, publishedAt.UTC())
	return err
}

// MarkJobFailed реализует domain.PublishJobRepo.
func (p *Postgres) MarkJobFailed(ctx context.Context, id int64, message string, at time.Time) error {
	_, err := p.jobTransition(ctx, "jobs_mark_failed", id, `
UPDATE publish_jobs SET status = 'FAILED', error_message = $2, retry_count = retry_count + 1, last_retry_at = $3, updated_at = now()
WHERE id = $1 AND status = 'PROCESSING'
RETURNING `+jobColumns, id, message, at.UTC())
	return err
}

// RearmJob реализует domain.PublishJobRepo.
func (p *Postgres) RearmJob(ctx context.Context, id int64, expectedRetryCount int, at time.Time) (domain.PublishJob, error) {
	return p.jobTransition(ctx, "jobs_rearm", id, `
UPDATE publish_jobs SET status = 'PENDING', error_message = NULL, retry_count = retry_count + 1, last_retry_at = $3, updated_at = now()
WHERE id = $1 AND status = 'FAILED' AND retry_count = $2
RETURNING `+jobColumns, id, expectedRetryCount, at.UTC())
}

// CancelJob реализует domain.PublishJobRepo.
func (p *Postgres) CancelJob(ctx context.Context, id int64) (domain.PublishJob, error) {
	return p.jobTransition(ctx, "jobs_cancel", id, `
UPDATE publish_jobs SET status = 'CANCELLED', updated_at = now()
WHERE id = $1 AND status = 'PENDING'
RETURNING `+jobColumns, id)
}

const batchColumns = `id, requested_count, completed_count, status, current_stage, error_message, completed_at, created_at`

func scanBatch(row pgx.Row) (domain.Batch, error) {
	var (
		batch  domain.Batch
		status string
	)
	err := row.Scan(&batch.ID, &batch.RequestedCount, &batch.CompletedCount, &status, &batch.CurrentStage,
		&batch.ErrorMessage, &batch.CompletedAt, &batch.CreatedAt)
	if err != nil {
		return domain.Batch{}, err
	}
	batch.Status = domain.BatchStatus(status)
	return batch, nil
}

// CreateBatch реализует domain.BatchRepo.
func (p *Postgres) CreateBatch(ctx context.Context, requestedCount int, stage string) (domain.Batch, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	batch, err := scanBatch(p.pool.QueryRow(ctx, `
INSERT INTO batches (requested_count, current_stage) VALUES ($1, $2)
RETURNING `+batchColumns, requestedCount, stage))
	metrics.ObserveNetworkRequest("postgres", "batches_create", "batches", start, err)
	return batch, err
}

// GetBatch реализует domain.BatchRepo.
func (p *Postgres) GetBatch(ctx context.Context, id int64) (domain.Batch, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	batch, err := scanBatch(p.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "batches_get", "batches", start, err)
	return batch, notFound(err)
}

// batchTransition выполняет условный UPDATE пакета и возвращает актуальное состояние
// вместе с признаком, что строка изменилась.
func (p *Postgres) batchTransition(ctx context.Context, op string, id int64, query string, args ...any) (domain.Batch, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	batch, err := scanBatch(p.pool.QueryRow(ctx, query, args...))
	metrics.ObserveNetworkRequest("postgres", op, "batches", start, err)
	if err == nil {
		return batch, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Batch{}, false, err
	}
	batch, err = scanBatch(p.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1`, id))
	return batch, false, notFound(err)
}

// IncrementCompleted реализует domain.BatchRepo.
func (p *Postgres) IncrementCompleted(ctx context.Context, id int64) (domain.Batch, error) {
	batch, _, err := p.batchTransition(ctx, "batches_increment", id, `
UPDATE batches SET completed_count = completed_count + 1
WHERE id = $1 AND status = 'RUNNING' AND completed_count < requested_count
RETURNING `+batchColumns, id)
	return batch, err
}

// CompleteBatch реализует domain.BatchRepo. Пакет и его черновики меняются в одной транзакции.
func (p *Postgres) CompleteBatch(ctx context.Context, id int64, at time.Time) (domain.Batch, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "batches", start, err)
	if err != nil {
		return domain.Batch{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	batch, err := scanBatch(tx.QueryRow(ctx, `
UPDATE batches SET status = 'COMPLETE', current_stage = $2, completed_at = $3
WHERE id = $1 AND status = 'RUNNING'
RETURNING `+batchColumns, id, domain.StageComplete, at.UTC()))
	metrics.ObserveNetworkRequest("postgres", "batches_complete", "batches", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		batch, err = scanBatch(tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1`, id))
		return batch, false, notFound(err)
	}
	if err != nil {
		return domain.Batch{}, false, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE quizzes SET status = 'READY', updated_at = $2
WHERE batch_id = $1 AND status = 'DRAFT'`, id, at.UTC())
	metrics.ObserveNetworkRequest("postgres", "quizzes_mark_ready", "quizzes", start, err)
	if err != nil {
		return domain.Batch{}, false, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "batches", start, err)
	if err != nil {
		return domain.Batch{}, false, err
	}
	return batch, true, nil
}

// FailBatch реализует domain.BatchRepo.
func (p *Postgres) FailBatch(ctx context.Context, id int64, reason string) (domain.Batch, bool, error) {
	return p.batchTransition(ctx, "batches_fail", id, `
UPDATE batches SET status = 'FAILED', current_stage = $2, error_message = $3
WHERE id = $1 AND status = 'RUNNING' AND completed_count = 0
RETURNING `+batchColumns, id, domain.StageFailed, reason)
}

// SetBatchStage реализует domain.BatchRepo.
func (p *Postgres) SetBatchStage(ctx context.Context, id int64, stage string) error {
	_, _, err := p.batchTransition(ctx, "batches_set_stage", id, `
UPDATE batches SET current_stage = $2
WHERE id = $1 AND status = 'RUNNING'
RETURNING `+batchColumns, id, stage)
	return err
}

const quizColumns = `id, batch_id, template_type, language, difficulty, theme, content, answer, image_url, caption, status, error_message, created_at, updated_at`

func scanQuiz(row pgx.Row) (domain.Quiz, error) {
	var (
		quiz   domain.Quiz
		status string
	)
	err := row.Scan(&quiz.ID, &quiz.BatchID, &quiz.Spec.TemplateType, &quiz.Spec.Language, &quiz.Spec.Difficulty,
		&quiz.Spec.Theme, &quiz.Content, &quiz.Answer, &quiz.ImageURL, &quiz.Caption, &status, &quiz.ErrorMessage,
		&quiz.CreatedAt, &quiz.UpdatedAt)
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz.Status = domain.QuizStatus(status)
	return quiz, nil
}

// CreateQuiz реализует domain.QuizRepo.
func (p *Postgres) CreateQuiz(ctx context.Context, quiz domain.Quiz) (domain.Quiz, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	status := quiz.Status
	if status == "" {
		status = domain.QuizStatusDraft
	}
	start := time.Now()
	stored, err := scanQuiz(p.pool.QueryRow(ctx, `
INSERT INTO quizzes (batch_id, template_type, language, difficulty, theme, content, answer, image_url, caption, status, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING `+quizColumns, quiz.BatchID, quiz.Spec.TemplateType, quiz.Spec.Language, quiz.Spec.Difficulty, quiz.Spec.Theme,
		quiz.Content, quiz.Answer, quiz.ImageURL, quiz.Caption, string(status), quiz.ErrorMessage))
	metrics.ObserveNetworkRequest("postgres", "quizzes_create", "quizzes", start, err)
	return stored, err
}

// GetQuiz реализует domain.QuizRepo.
func (p *Postgres) GetQuiz(ctx context.Context, id int64) (domain.Quiz, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	quiz, err := scanQuiz(p.pool.QueryRow(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "quizzes_get", "quizzes", start, err)
	return quiz, notFound(err)
}

// ListBatchQuizzes реализует domain.QuizRepo.
func (p *Postgres) ListBatchQuizzes(ctx context.Context, batchID int64) ([]domain.Quiz, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE batch_id=$1 ORDER BY id`, batchID)
	metrics.ObserveNetworkRequest("postgres", "quizzes_list_batch", "quizzes", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Quiz
	for rows.Next() {
		quiz, err := scanQuiz(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, quiz)
	}
	return out, rows.Err()
}

// SetQuizStatus реализует domain.QuizRepo.
func (p *Postgres) SetQuizStatus(ctx context.Context, id int64, status domain.QuizStatus, errorMessage *string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE quizzes SET status=$2, error_message=$3, updated_at=now() WHERE id=$1`,
		id, string(status), errorMessage)
	metrics.ObserveNetworkRequest("postgres", "quizzes_set_status", "quizzes", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, batch_id, job_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5)
`, metric.Event, metric.BatchID, metric.JobID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}
