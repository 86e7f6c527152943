package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quizpipe/internal/domain"
	"quizpipe/internal/infra/metrics"
	"quizpipe/internal/infra/retry"
	"quizpipe/internal/usecase/batch"
)

// DefaultMaxBatch ограничивает размер одного пакета по умолчанию.
const DefaultMaxBatch = 50

// Request описывает запрос на генерацию пакета квизов.
type Request struct {
	Count        int             `json:"count"`
	Spec         domain.QuizSpec `json:"spec"`
	AutoSchedule bool            `json:"auto_schedule"`
}

// Booker бронирует ближайший свободный слот для квиза.
type Booker interface {
	BookNext(ctx context.Context, quizID int64) (domain.PublishJob, error)
}

// Service создаёт пакеты и обрабатывает задачи генерации по одному квизу.
type Service struct {
	tracker   *batch.Tracker
	quizzes   domain.QuizRepo
	generator domain.QuizGenerator
	renderer  domain.ImageRenderer
	booker    Booker
	queue     domain.GenerationQueue
	log       zerolog.Logger
	maxBatch  int
	now       func() time.Time
}

// NewService создаёт сервис генерации. booker может быть nil, тогда автопланирование недоступно.
func NewService(tracker *batch.Tracker, quizzes domain.QuizRepo, generator domain.QuizGenerator, renderer domain.ImageRenderer, booker Booker, queue domain.GenerationQueue, logger zerolog.Logger, maxBatch int) *Service {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Service{
		tracker:   tracker,
		quizzes:   quizzes,
		generator: generator,
		renderer:  renderer,
		booker:    booker,
		queue:     queue,
		log:       logger,
		maxBatch:  maxBatch,
		now:       time.Now,
	}
}

// Submit регистрирует пакет и ставит в очередь по задаче на каждый квиз.
func (s *Service) Submit(ctx context.Context, req Request) (domain.Batch, error) {
	if req.Count < 1 || req.Count > s.maxBatch {
		return domain.Batch{}, fmt.Errorf("%w: размер пакета должен быть от 1 до %d", domain.ErrValidation, s.maxBatch)
	}
	if strings.TrimSpace(req.Spec.TemplateType) == "" {
		return domain.Batch{}, fmt.Errorf("%w: не указан шаблон", domain.ErrValidation)
	}
	if req.AutoSchedule && s.booker == nil {
		return domain.Batch{}, fmt.Errorf("%w: автопланирование не настроено", domain.ErrValidation)
	}

	b, err := s.tracker.Create(ctx, req.Count)
	if err != nil {
		return domain.Batch{}, err
	}
	requestedAt := s.now().UTC()
	for i := 0; i < req.Count; i++ {
		task := domain.GenerationTask{
			ID:           uuid.NewString(),
			BatchID:      b.ID,
			Index:        i,
			Spec:         req.Spec,
			AutoSchedule: req.AutoSchedule,
			RequestedAt:  requestedAt,
		}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			reason := fmt.Sprintf("не удалось поставить задачу %d/%d в очередь: %v", i+1, req.Count, err)
			if _, failErr := s.tracker.Fail(ctx, b.ID, reason); failErr != nil {
				s.log.Error().Err(failErr).Int64("batch", b.ID).Msg("generation: не удалось пометить пакет ошибкой")
			}
			return domain.Batch{}, fmt.Errorf("постановка задач пакета %d: %w", b.ID, err)
		}
	}
	s.log.Info().Int64("batch", b.ID).Int("count", req.Count).Str("template", req.Spec.TemplateType).Bool("auto_schedule", req.AutoSchedule).Msg("generation: пакет поставлен в очередь")
	return b, nil
}

// Process генерирует один квиз пакета. Ошибка отдельного элемента сохраняется в самом квизе,
// а возвращаемая ошибка означает сбой инфраструктуры, после которого задачу стоит повторить.
func (s *Service) Process(ctx context.Context, task domain.GenerationTask) error {
	status, err := s.tracker.GetStatus(ctx, task.BatchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warn().Int64("batch", task.BatchID).Str("task_id", task.ID).Msg("generation: пакет не найден, задача пропущена")
			return nil
		}
		return err
	}
	if status.Status != domain.BatchStatusRunning {
		s.log.Info().Int64("batch", task.BatchID).Str("status", string(status.Status)).Msg("generation: пакет уже завершён, задача пропущена")
		return nil
	}
	if err := s.tracker.SetStage(ctx, task.BatchID, fmt.Sprintf("%s %d/%d", domain.StageGenerating, task.Index+1, status.RequestedCount)); err != nil {
		return err
	}

	start := time.Now()
	generated, err := s.generator.Generate(ctx, task.Spec)
	if err != nil {
		if errors.Is(err, domain.ErrGeneratorUnavailable) {
			b, failErr := s.tracker.Fail(ctx, task.BatchID, err.Error())
			if failErr != nil {
				return failErr
			}
			if b.Status == domain.BatchStatusFailed {
				metrics.GenerationItems.WithLabelValues("batch_failed").Inc()
				return nil
			}
		}
		return s.itemFailed(ctx, task, domain.Quiz{Spec: task.Spec}, fmt.Sprintf("генерация: %v", err))
	}

	quiz := domain.Quiz{
		BatchID: &task.BatchID,
		Spec:    task.Spec,
		Content: generated.Content,
		Answer:  generated.Answer,
		Caption: buildCaption(task.Spec, generated),
		Status:  domain.QuizStatusDraft,
	}
	imageURL, err := s.renderer.Render(ctx, quiz)
	if err != nil {
		return s.itemFailed(ctx, task, quiz, fmt.Sprintf("рендер: %v", err))
	}
	quiz.ImageURL = imageURL

	saved, err := retry.Value(ctx, "quizzes_create", func(ctx context.Context) (domain.Quiz, error) {
		return s.quizzes.CreateQuiz(ctx, quiz)
	})
	if err != nil {
		return fmt.Errorf("сохранение квиза: %w", err)
	}
	metrics.GenerationItems.WithLabelValues("ok").Inc()
	s.log.Info().Int64("batch", task.BatchID).Int64("quiz", saved.ID).Int("index", task.Index).Dur("took", time.Since(start)).Msg("generation: квиз готов")

	if task.AutoSchedule && s.booker != nil {
		if job, err := s.booker.BookNext(ctx, saved.ID); err != nil {
			s.log.Warn().Err(err).Int64("quiz", saved.ID).Msg("generation: не удалось запланировать квиз")
		} else {
			s.log.Info().Int64("quiz", saved.ID).Int64("job", job.ID).Time("scheduled_at", job.ScheduledAt).Msg("generation: квиз запланирован")
		}
	}
	return s.complete(ctx, task.BatchID)
}

func (s *Service) itemFailed(ctx context.Context, task domain.GenerationTask, quiz domain.Quiz, reason string) error {
	quiz.BatchID = &task.BatchID
	quiz.Status = domain.QuizStatusFailed
	quiz.ErrorMessage = &reason
	if _, err := retry.Value(ctx, "quizzes_create", func(ctx context.Context) (domain.Quiz, error) {
		return s.quizzes.CreateQuiz(ctx, quiz)
	}); err != nil {
		return fmt.Errorf("сохранение ошибки квиза: %w", err)
	}
	metrics.GenerationItems.WithLabelValues("failed").Inc()
	s.log.Warn().Int64("batch", task.BatchID).Int("index", task.Index).Str("reason", reason).Msg("generation: элемент пакета не удался")
	return s.complete(ctx, task.BatchID)
}

func (s *Service) complete(ctx context.Context, batchID int64) error {
	b, err := s.tracker.RecordItemComplete(ctx, batchID)
	if err != nil {
		return err
	}
	if !b.Eligible() {
		return nil
	}
	if _, err := s.tracker.Finalize(ctx, batchID); err != nil && !errors.Is(err, domain.ErrInvalidState) {
		return err
	}
	return nil
}

// Consume читает задачи из очереди до отмены ctx.
func (s *Service) Consume(ctx context.Context) {
	for {
		task, ack, err := s.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error().Err(err).Msg("generation: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		taskLog := s.log.With().Str("task_id", task.ID).Int64("batch", task.BatchID).Int("index", task.Index).Logger()
		if task.BatchID == 0 {
			taskLog.Error().Msg("generation: задача без пакета, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				taskLog.Error().Err(err).Msg("generation: не удалось подтвердить задачу")
			}
			continue
		}
		err = s.Process(ctx, task)
		if err != nil {
			taskLog.Error().Err(err).Msg("generation: задача завершилась ошибкой, вернём в очередь")
		}
		if ackErr := ack(err == nil); ackErr != nil {
			taskLog.Error().Err(ackErr).Msg("generation: не удалось подтвердить задачу")
		}
	}
}

func buildCaption(spec domain.QuizSpec, quiz domain.GeneratedQuiz) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(quiz.Content))
	tags := make([]string, 0, 3)
	for _, raw := range []string{"quiz", spec.Theme, spec.Difficulty} {
		tag := strings.ToLower(strings.Join(strings.Fields(raw), ""))
		if tag != "" {
			tags = append(tags, "#"+tag)
		}
	}
	if len(tags) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(tags, " "))
	}
	return b.String()
}
