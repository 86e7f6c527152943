package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"quizpipe/internal/domain"
)

// Memory реализует репозитории в памяти процесса. Используется в тестах и в dev-окружении без Postgres.
// Все операции выполняются под одной блокировкой, поэтому условные переходы атомарны.
type Memory struct {
	mu      sync.Mutex
	nextID  int64
	slots   map[int64]domain.RecurringSlot
	jobs    map[int64]domain.PublishJob
	batches map[int64]domain.Batch
	quizzes map[int64]domain.Quiz
	events  []domain.BusinessMetric
	now     func() time.Time
}

var (
	_ domain.SlotRepo           = (*Memory)(nil)
	_ domain.PublishJobRepo     = (*Memory)(nil)
	_ domain.BatchRepo          = (*Memory)(nil)
	_ domain.QuizRepo           = (*Memory)(nil)
	_ domain.BusinessMetricRepo = (*Memory)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		slots:   make(map[int64]domain.RecurringSlot),
		jobs:    make(map[int64]domain.PublishJob),
		batches: make(map[int64]domain.Batch),
		quizzes: make(map[int64]domain.Quiz),
		now:     time.Now,
	}
}

// SetClock подменяет источник времени для created_at/updated_at.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// ListSlots реализует domain.SlotRepo.
func (m *Memory) ListSlots(ctx context.Context) ([]domain.RecurringSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedSlots(false), nil
}

// ListActiveSlots реализует domain.SlotRepo.
func (m *Memory) ListActiveSlots(ctx context.Context) ([]domain.RecurringSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedSlots(true), nil
}

func (m *Memory) sortedSlots(activeOnly bool) []domain.RecurringSlot {
	out := make([]domain.RecurringSlot, 0, len(m.slots))
	for _, slot := range m.slots {
		if activeOnly && !slot.IsActive {
			continue
		}
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].TimeOfDay.Minutes() < out[j].TimeOfDay.Minutes()
	})
	return out
}

// UpsertSlot реализует domain.SlotRepo.
func (m *Memory) UpsertSlot(ctx context.Context, slot domain.RecurringSlot) (domain.RecurringSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.slots {
		if existing.DayOfWeek == slot.DayOfWeek && existing.TimeOfDay == slot.TimeOfDay {
			existing.IsActive = slot.IsActive
			m.slots[id] = existing
			return existing, nil
		}
	}
	slot.ID = m.id()
	m.slots[slot.ID] = slot
	return slot, nil
}

// DeleteSlot реализует domain.SlotRepo.
func (m *Memory) DeleteSlot(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.slots, id)
	return nil
}

// CreateJobAtFreeSlot реализует domain.PublishJobRepo.
func (m *Memory) CreateJobAtFreeSlot(ctx context.Context, quizID int64, scheduledAt time.Time) (domain.PublishJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quizzes[quizID]; !ok {
		return domain.PublishJob{}, domain.ErrNotFound
	}
	scheduledAt = scheduledAt.UTC().Truncate(time.Minute)
	slotTaken := false
	for _, job := range m.jobs {
		if job.Status == domain.JobStatusCancelled {
			continue
		}
		if job.QuizID == quizID {
			return domain.PublishJob{}, domain.ErrInvalidState
		}
		if job.ScheduledAt.Equal(scheduledAt) {
			slotTaken = true
		}
	}
	if slotTaken {
		return domain.PublishJob{}, domain.ErrSlotTaken
	}
	now := m.now().UTC()
	job := domain.PublishJob{
		ID:          m.id(),
		QuizID:      quizID,
		ScheduledAt: scheduledAt,
		Status:      domain.JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.jobs[job.ID] = job
	return job, nil
}

// PutJob сохраняет задачу как есть. Нужен для наполнения dev-окружения и тестов.
func (m *Memory) PutJob(job domain.PublishJob) domain.PublishJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == 0 {
		job.ID = m.id()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now().UTC()
		job.UpdatedAt = job.CreatedAt
	}
	m.jobs[job.ID] = job
	return job
}

// ListBookedTimes реализует domain.PublishJobRepo.
func (m *Memory) ListBookedTimes(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, job := range m.jobs {
		if job.Status == domain.JobStatusCancelled {
			continue
		}
		if job.ScheduledAt.Before(from) || !job.ScheduledAt.Before(to) {
			continue
		}
		out = append(out, job.ScheduledAt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// GetJob реализует domain.PublishJobRepo.
func (m *Memory) GetJob(ctx context.Context, id int64) (domain.PublishJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.PublishJob{}, domain.ErrNotFound
	}
	return job, nil
}

// ListJobs реализует domain.PublishJobRepo. Пустой статус возвращает все задачи.
func (m *Memory) ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]domain.PublishJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PublishJob, 0)
	for _, job := range m.jobs {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job)
	}
	sortJobs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimDueJobs реализует domain.PublishJobRepo.
func (m *Memory) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.PublishJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := make([]domain.PublishJob, 0)
	for _, job := range m.jobs {
		if job.Status == domain.JobStatusPending && !job.ScheduledAt.After(now) {
			due = append(due, job)
		}
	}
	sortJobs(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	updated := m.now().UTC()
	for i := range due {
		due[i].Status = domain.JobStatusProcessing
		due[i].UpdatedAt = updated
		m.jobs[due[i].ID] = due[i]
	}
	return due, nil
}

// MarkJobPublished реализует domain.PublishJobRepo.
func (m *Memory) MarkJobPublished(ctx context.Context, id int64, remotePostID string, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return domain.ErrInvalidState
	}
	job.Status = domain.JobStatusPublished
	job.RemotePostID = domain.StringPtr(remotePostID)
	job.ErrorMessage = nil
	ts := publishedAt.UTC()
	job.PublishedAt = &ts
	job.UpdatedAt = m.now().UTC()
	m.jobs[id] = job
	return nil
}

// MarkJobFailed реализует domain.PublishJobRepo.
func (m *Memory) MarkJobFailed(ctx context.Context, id int64, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return domain.ErrInvalidState
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = domain.StringPtr(message)
	job.RetryCount++
	ts := at.UTC()
	job.LastRetryAt = &ts
	job.UpdatedAt = m.now().UTC()
	m.jobs[id] = job
	return nil
}

// RearmJob реализует domain.PublishJobRepo.
func (m *Memory) RearmJob(ctx context.Context, id int64, expectedRetryCount int, at time.Time) (domain.PublishJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.PublishJob{}, domain.ErrNotFound
	}
	if job.Status != domain.JobStatusFailed || job.RetryCount != expectedRetryCount {
		return domain.PublishJob{}, domain.ErrInvalidState
	}
	job.Status = domain.JobStatusPending
	job.ErrorMessage = nil
	job.RetryCount++
	ts := at.UTC()
	job.LastRetryAt = &ts
	job.UpdatedAt = m.now().UTC()
	m.jobs[id] = job
	return job, nil
}

// CancelJob реализует domain.PublishJobRepo.
func (m *Memory) CancelJob(ctx context.Context, id int64) (domain.PublishJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.PublishJob{}, domain.ErrNotFound
	}
	if job.Status != domain.JobStatusPending {
		return domain.PublishJob{}, domain.ErrInvalidState
	}
	job.Status = domain.JobStatusCancelled
	job.UpdatedAt = m.now().UTC()
	m.jobs[id] = job
	return job, nil
}

// CreateBatch реализует domain.BatchRepo.
func (m *Memory) CreateBatch(ctx context.Context, requestedCount int, stage string) (domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := domain.Batch{
		ID:             m.id(),
		RequestedCount: requestedCount,
		Status:         domain.BatchStatusRunning,
		CurrentStage:   stage,
		CreatedAt:      m.now().UTC(),
	}
	m.batches[batch.ID] = batch
	return batch, nil
}

// GetBatch реализует domain.BatchRepo.
func (m *Memory) GetBatch(ctx context.Context, id int64) (domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[id]
	if !ok {
		return domain.Batch{}, domain.ErrNotFound
	}
	return batch, nil
}

// IncrementCompleted реализует domain.BatchRepo.
func (m *Memory) IncrementCompleted(ctx context.Context, id int64) (domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[id]
	if !ok {
		return domain.Batch{}, domain.ErrNotFound
	}
	if batch.Status == domain.BatchStatusRunning && batch.CompletedCount < batch.RequestedCount {
		batch.CompletedCount++
		m.batches[id] = batch
	}
	return batch, nil
}

// CompleteBatch реализует domain.BatchRepo.
func (m *Memory) CompleteBatch(ctx context.Context, id int64, at time.Time) (domain.Batch, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[id]
	if !ok {
		return domain.Batch{}, false, domain.ErrNotFound
	}
	if batch.Status != domain.BatchStatusRunning {
		return batch, false, nil
	}
	ts := at.UTC()
	batch.Status = domain.BatchStatusComplete
	batch.CurrentStage = domain.StageComplete
	batch.CompletedAt = &ts
	m.batches[id] = batch
	for qid, quiz := range m.quizzes {
		if quiz.BatchID != nil && *quiz.BatchID == id && quiz.Status == domain.QuizStatusDraft {
			quiz.Status = domain.QuizStatusReady
			quiz.UpdatedAt = ts
			m.quizzes[qid] = quiz
		}
	}
	return batch, true, nil
}

// FailBatch реализует domain.BatchRepo.
func (m *Memory) FailBatch(ctx context.Context, id int64, reason string) (domain.Batch, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[id]
	if !ok {
		return domain.Batch{}, false, domain.ErrNotFound
	}
	if batch.Status != domain.BatchStatusRunning || batch.CompletedCount > 0 {
		return batch, false, nil
	}
	batch.Status = domain.BatchStatusFailed
	batch.CurrentStage = domain.StageFailed
	batch.ErrorMessage = domain.StringPtr(reason)
	m.batches[id] = batch
	return batch, true, nil
}

// SetBatchStage реализует domain.BatchRepo.
func (m *Memory) SetBatchStage(ctx context.Context, id int64, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	if batch.Status == domain.BatchStatusRunning {
		batch.CurrentStage = stage
		m.batches[id] = batch
	}
	return nil
}

// CreateQuiz реализует domain.QuizRepo.
func (m *Memory) CreateQuiz(ctx context.Context, quiz domain.Quiz) (domain.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	quiz.ID = m.id()
	if quiz.Status == "" {
		quiz.Status = domain.QuizStatusDraft
	}
	quiz.CreatedAt = now
	quiz.UpdatedAt = now
	m.quizzes[quiz.ID] = quiz
	return quiz, nil
}

// GetQuiz реализует domain.QuizRepo.
func (m *Memory) GetQuiz(ctx context.Context, id int64) (domain.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	quiz, ok := m.quizzes[id]
	if !ok {
		return domain.Quiz{}, domain.ErrNotFound
	}
	return quiz, nil
}

// ListBatchQuizzes реализует domain.QuizRepo.
func (m *Memory) ListBatchQuizzes(ctx context.Context, batchID int64) ([]domain.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Quiz
	for _, quiz := range m.quizzes {
		if quiz.BatchID != nil && *quiz.BatchID == batchID {
			out = append(out, quiz)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetQuizStatus реализует domain.QuizRepo.
func (m *Memory) SetQuizStatus(ctx context.Context, id int64, status domain.QuizStatus, errorMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	quiz, ok := m.quizzes[id]
	if !ok {
		return domain.ErrNotFound
	}
	quiz.Status = status
	quiz.ErrorMessage = errorMessage
	quiz.UpdatedAt = m.now().UTC()
	m.quizzes[id] = quiz
	return nil
}

// RecordBusinessMetric реализует domain.BusinessMetricRepo.
func (m *Memory) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = m.now().UTC()
	}
	m.events = append(m.events, metric)
	return nil
}

// BusinessMetrics возвращает копию записанных событий.
func (m *Memory) BusinessMetrics() []domain.BusinessMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.BusinessMetric(nil), m.events...)
}

func sortJobs(jobs []domain.PublishJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].ScheduledAt.Equal(jobs[j].ScheduledAt) {
			return jobs[i].ScheduledAt.Before(jobs[j].ScheduledAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}
