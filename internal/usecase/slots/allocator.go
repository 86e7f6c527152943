package slots

import (
	"sort"
	"time"

	"quizpipe/internal/domain"
)

// DefaultHorizonDays задаёт глубину поиска свободного слота по умолчанию.
const DefaultHorizonDays = 30

// Границы сетки для ручного выбора времени в интерфейсе (включительно, шаг час).
const (
	businessHoursStart = 9
	businessHoursEnd   = 21
)

// FindNextAvailable возвращает ближайший свободный момент по сетке активных слотов.
// Кандидат должен быть строго позже now и не совпадать до минуты ни с одной бронью.
// Возвращает domain.ErrNoSlotAvailable, если в горизонте ничего нет.
func FindNextAvailable(activeSlots []domain.RecurringSlot, booked []time.Time, now time.Time, horizonDays int) (time.Time, error) {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	ordered := sortedActive(activeSlots)
	if len(ordered) == 0 {
		return time.Time{}, domain.ErrNoSlotAvailable
	}
	byDay := make(map[time.Weekday][]domain.RecurringSlot, 7)
	for _, slot := range ordered {
		day := time.Weekday(slot.DayOfWeek)
		byDay[day] = append(byDay[day], slot)
	}
	taken := bookedSet(booked)

	now = now.UTC()
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for offset := 0; offset < horizonDays; offset++ {
		day := start.AddDate(0, 0, offset)
		for _, slot := range byDay[day.Weekday()] {
			candidate := slot.TimeOfDay.On(day)
			if !candidate.After(now) {
				continue
			}
			if _, ok := taken[minuteKey(candidate)]; ok {
				continue
			}
			return candidate, nil
		}
	}
	return time.Time{}, domain.ErrNoSlotAvailable
}

// ListFreeTimesForDay перечисляет свободные часы рабочей сетки 09:00–21:00 за день (UTC).
// Эта сетка не связана с еженедельными слотами и нужна для разового планирования.
func ListFreeTimesForDay(booked []time.Time, day time.Time) []domain.TimeOfDay {
	taken := bookedSet(booked)
	free := make([]domain.TimeOfDay, 0, businessHoursEnd-businessHoursStart+1)
	for hour := businessHoursStart; hour <= businessHoursEnd; hour++ {
		t := domain.TimeOfDay{Hour: hour}
		if _, ok := taken[minuteKey(t.On(day))]; ok {
			continue
		}
		free = append(free, t)
	}
	return free
}

func sortedActive(slots []domain.RecurringSlot) []domain.RecurringSlot {
	out := make([]domain.RecurringSlot, 0, len(slots))
	for _, slot := range slots {
		if !slot.IsActive || slot.Validate() != nil {
			continue
		}
		out = append(out, slot)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].TimeOfDay.Minutes() < out[j].TimeOfDay.Minutes()
	})
	return out
}

func bookedSet(booked []time.Time) map[int64]struct{} {
	set := make(map[int64]struct{}, len(booked))
	for _, ts := range booked {
		set[minuteKey(ts)] = struct{}{}
	}
	return set
}

func minuteKey(ts time.Time) int64 {
	return ts.UTC().Truncate(time.Minute).Unix()
}
