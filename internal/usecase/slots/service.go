package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quizpipe/internal/domain"
	"quizpipe/internal/infra/metrics"
	"quizpipe/internal/infra/retry"
)

const maxBookingAttempts = 5

// Service бронирует время публикации и управляет сеткой слотов.
type Service struct {
	slots       domain.SlotRepo
	jobs        domain.PublishJobRepo
	quizzes     domain.QuizRepo
	log         zerolog.Logger
	horizonDays int
	now         func() time.Time
}

// NewService создаёт сервис слотов.
func NewService(slots domain.SlotRepo, jobs domain.PublishJobRepo, quizzes domain.QuizRepo, logger zerolog.Logger, horizonDays int) *Service {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return &Service{slots: slots, jobs: jobs, quizzes: quizzes, log: logger, horizonDays: horizonDays, now: time.Now}
}

// NextAvailable возвращает ближайшее свободное время без бронирования.
func (s *Service) NextAvailable(ctx context.Context) (time.Time, error) {
	now := s.now().UTC()
	active, booked, err := s.loadGrid(ctx, now)
	if err != nil {
		return time.Time{}, err
	}
	return FindNextAvailable(active, booked, now, s.horizonDays)
}

// BookNext выбирает ближайший свободный слот и атомарно создаёт на него задачу публикации.
// Если слот успели занять между выбором и записью, выбор повторяется с учётом новой брони.
func (s *Service) BookNext(ctx context.Context, quizID int64) (domain.PublishJob, error) {
	var conflicts []time.Time
	for attempt := 0; attempt < maxBookingAttempts; attempt++ {
		now := s.now().UTC()
		active, booked, err := s.loadGrid(ctx, now)
		if err != nil {
			return domain.PublishJob{}, err
		}
		booked = append(booked, conflicts...)
		at, err := FindNextAvailable(active, booked, now, s.horizonDays)
		if err != nil {
			metrics.SlotBookings.WithLabelValues("no_slot").Inc()
			return domain.PublishJob{}, err
		}
		job, err := s.createJob(ctx, quizID, at)
		if errors.Is(err, domain.ErrSlotTaken) {
			metrics.SlotBookings.WithLabelValues("conflict").Inc()
			s.log.Debug().Int64("quiz", quizID).Time("slot", at).Int("attempt", attempt+1).Msg("slots: слот занят параллельно, ищем следующий")
			conflicts = append(conflicts, at)
			continue
		}
		if err != nil {
			return domain.PublishJob{}, err
		}
		return job, nil
	}
	metrics.SlotBookings.WithLabelValues("contention").Inc()
	return domain.PublishJob{}, fmt.Errorf("бронирование слота для квиза %d: %w", quizID, domain.ErrNoSlotAvailable)
}

// BookAt создаёт задачу публикации на конкретное время, выбранное вручную.
func (s *Service) BookAt(ctx context.Context, quizID int64, at time.Time) (domain.PublishJob, error) {
	at = at.UTC().Truncate(time.Minute)
	if !at.After(s.now().UTC()) {
		return domain.PublishJob{}, fmt.Errorf("%w: время публикации %s уже прошло", domain.ErrValidation, at.Format(time.RFC3339))
	}
	job, err := s.createJob(ctx, quizID, at)
	if errors.Is(err, domain.ErrSlotTaken) {
		metrics.SlotBookings.WithLabelValues("conflict").Inc()
	}
	return job, err
}

// FreeTimes возвращает свободные часы рабочей сетки на указанный день.
func (s *Service) FreeTimes(ctx context.Context, day time.Time) ([]domain.TimeOfDay, error) {
	y, m, d := day.UTC().Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	booked, err := retry.Value(ctx, "jobs_list_booked", func(ctx context.Context) ([]time.Time, error) {
		return s.jobs.ListBookedTimes(ctx, from, from.AddDate(0, 0, 1))
	})
	if err != nil {
		return nil, fmt.Errorf("занятые слоты: %w", err)
	}
	return ListFreeTimesForDay(booked, from), nil
}

// ListSlots возвращает всю сетку слотов.
func (s *Service) ListSlots(ctx context.Context) ([]domain.RecurringSlot, error) {
	return retry.Value(ctx, "slots_list", s.slots.ListSlots)
}

// SaveSlot проверяет и сохраняет слот.
func (s *Service) SaveSlot(ctx context.Context, slot domain.RecurringSlot) (domain.RecurringSlot, error) {
	if err := slot.Validate(); err != nil {
		return domain.RecurringSlot{}, err
	}
	return retry.Value(ctx, "slots_upsert", func(ctx context.Context) (domain.RecurringSlot, error) {
		return s.slots.UpsertSlot(ctx, slot)
	})
}

// ImportSlots сохраняет набор слотов; при ошибке валидации ничего не записывается.
func (s *Service) ImportSlots(ctx context.Context, slots []domain.RecurringSlot) ([]domain.RecurringSlot, error) {
	for i, slot := range slots {
		if err := slot.Validate(); err != nil {
			return nil, fmt.Errorf("слот #%d: %w", i+1, err)
		}
	}
	saved := make([]domain.RecurringSlot, 0, len(slots))
	for _, slot := range slots {
		stored, err := s.SaveSlot(ctx, slot)
		if err != nil {
			return saved, err
		}
		saved = append(saved, stored)
	}
	s.log.Info().Int("count", len(saved)).Msg("slots: сетка обновлена")
	return saved, nil
}

// DeleteSlot удаляет слот. Уже созданные задачи не затрагиваются.
func (s *Service) DeleteSlot(ctx context.Context, id int64) error {
	return retry.Do(ctx, "slots_delete", func(ctx context.Context) error {
		return s.slots.DeleteSlot(ctx, id)
	})
}

func (s *Service) loadGrid(ctx context.Context, now time.Time) ([]domain.RecurringSlot, []time.Time, error) {
	active, err := retry.Value(ctx, "slots_list_active", s.slots.ListActiveSlots)
	if err != nil {
		return nil, nil, fmt.Errorf("активные слоты: %w", err)
	}
	booked, err := retry.Value(ctx, "jobs_list_booked", func(ctx context.Context) ([]time.Time, error) {
		return s.jobs.ListBookedTimes(ctx, now, now.AddDate(0, 0, s.horizonDays+1))
	})
	if err != nil {
		return nil, nil, fmt.Errorf("занятые слоты: %w", err)
	}
	return active, booked, nil
}

func (s *Service) createJob(ctx context.Context, quizID int64, at time.Time) (domain.PublishJob, error) {
	job, err := retry.Value(ctx, "jobs_create_at_slot", func(ctx context.Context) (domain.PublishJob, error) {
		return s.jobs.CreateJobAtFreeSlot(ctx, quizID, at)
	})
	if err != nil {
		return domain.PublishJob{}, err
	}
	metrics.SlotBookings.WithLabelValues("booked").Inc()
	if err := retry.Do(ctx, "quizzes_set_status", func(ctx context.Context) error {
		return s.quizzes.SetQuizStatus(ctx, quizID, domain.QuizStatusScheduled, nil)
	}); err != nil {
		s.log.Warn().Err(err).Int64("quiz", quizID).Msg("slots: не удалось отметить квиз запланированным")
	}
	s.log.Info().Int64("quiz", quizID).Int64("job", job.ID).Time("scheduled_at", job.ScheduledAt).Msg("slots: публикация запланирована")
	return job, nil
}
