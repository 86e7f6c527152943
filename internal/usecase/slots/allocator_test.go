package slots

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"quizpipe/internal/domain"
)

// 1 января 2024 года был понедельником.
var monday = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func slot(day int, at string) domain.RecurringSlot {
	return domain.RecurringSlot{DayOfWeek: day, TimeOfDay: domain.MustTimeOfDay(at), IsActive: true}
}

func TestFindNextAvailableSameDay(t *testing.T) {
	now := monday.Add(8 * time.Hour)
	got, err := FindNextAvailable([]domain.RecurringSlot{slot(1, "09:00")}, nil, now, 30)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := monday.Add(9 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("ожидали %v, получили %v", want, got)
	}
}

func TestFindNextAvailableExcludesCurrentMinute(t *testing.T) {
	now := monday.Add(9 * time.Hour)
	got, err := FindNextAvailable([]domain.RecurringSlot{slot(1, "09:00")}, nil, now, 30)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := monday.AddDate(0, 0, 7).Add(9 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("ожидали следующий понедельник %v, получили %v", want, got)
	}
}

func TestFindNextAvailableSkipsBooked(t *testing.T) {
	now := monday.Add(8 * time.Hour)
	grid := []domain.RecurringSlot{slot(1, "09:00"), slot(1, "18:00")}
	booked := []time.Time{monday.Add(9*time.Hour + 30*time.Second)}
	got, err := FindNextAvailable(grid, booked, now, 30)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if want := monday.Add(18 * time.Hour); !got.Equal(want) {
		t.Fatalf("ожидали %v, получили %v", want, got)
	}
}

func TestFindNextAvailableSortsSlotsWithinDay(t *testing.T) {
	now := monday.Add(8 * time.Hour)
	grid := []domain.RecurringSlot{slot(1, "20:00"), slot(2, "07:00"), slot(1, "10:00")}
	got, err := FindNextAvailable(grid, nil, now, 30)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if want := monday.Add(10 * time.Hour); !got.Equal(want) {
		t.Fatalf("ожидали %v, получили %v", want, got)
	}
}

func TestFindNextAvailableIgnoresInactive(t *testing.T) {
	now := monday.Add(8 * time.Hour)
	inactive := slot(1, "09:00")
	inactive.IsActive = false
	got, err := FindNextAvailable([]domain.RecurringSlot{inactive, slot(3, "12:00")}, nil, now, 30)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if want := monday.AddDate(0, 0, 2).Add(12 * time.Hour); !got.Equal(want) {
		t.Fatalf("ожидали среду %v, получили %v", want, got)
	}
}

func TestFindNextAvailableNotFound(t *testing.T) {
	now := monday.Add(8 * time.Hour)
	if _, err := FindNextAvailable(nil, nil, now, 30); !errors.Is(err, domain.ErrNoSlotAvailable) {
		t.Fatalf("ожидали ErrNoSlotAvailable для пустой сетки, получили %v", err)
	}

	// горизонт в 7 дней покрывает только один понедельник
	booked := []time.Time{monday.Add(9 * time.Hour)}
	if _, err := FindNextAvailable([]domain.RecurringSlot{slot(1, "09:00")}, booked, now, 7); !errors.Is(err, domain.ErrNoSlotAvailable) {
		t.Fatalf("ожидали ErrNoSlotAvailable при занятом горизонте, получили %v", err)
	}
}

func TestFindNextAvailableDefaultsHorizon(t *testing.T) {
	now := monday.Add(8 * time.Hour)
	got, err := FindNextAvailable([]domain.RecurringSlot{slot(1, "09:00")}, nil, now, 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !got.Equal(monday.Add(9 * time.Hour)) {
		t.Fatalf("неожиданный результат: %v", got)
	}
}

func TestFindNextAvailableNonUTCNow(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	// понедельник 23:00 UTC == понедельник 18:00 UTC-5
	now := time.Date(2024, time.January, 1, 18, 0, 0, 0, loc)
	got, err := FindNextAvailable([]domain.RecurringSlot{slot(2, "00:30")}, nil, now, 30)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := monday.AddDate(0, 0, 1).Add(30 * time.Minute)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("ожидали %v в UTC, получили %v", want, got)
	}
}

func TestRepeatedAllocationIsStrictlyIncreasing(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		var grid []domain.RecurringSlot
		size := 1 + rng.Intn(6)
		for i := 0; i < size; i++ {
			grid = append(grid, domain.RecurringSlot{
				DayOfWeek: rng.Intn(7),
				TimeOfDay: domain.TimeOfDay{Hour: rng.Intn(24), Minute: rng.Intn(60)},
				IsActive:  true,
			})
		}
		now := monday.Add(time.Duration(rng.Intn(7*24*60)) * time.Minute)
		horizon := 1 + rng.Intn(21)

		var booked []time.Time
		var prev time.Time
		for i := 0; ; i++ {
			if i > 7*len(grid)*horizon+10 {
				t.Fatalf("раунд %d: аллокатор не исчерпал горизонт", round)
			}
			got, err := FindNextAvailable(grid, booked, now, horizon)
			if errors.Is(err, domain.ErrNoSlotAvailable) {
				break
			}
			if err != nil {
				t.Fatalf("раунд %d: неожиданная ошибка: %v", round, err)
			}
			if !got.After(now) {
				t.Fatalf("раунд %d: слот %v не позже now %v", round, got, now)
			}
			if !prev.IsZero() && !got.After(prev) {
				t.Fatalf("раунд %d: последовательность не возрастает: %v после %v", round, got, prev)
			}
			for _, b := range booked {
				if b.Equal(got) {
					t.Fatalf("раунд %d: слот %v уже занят", round, got)
				}
			}
			booked = append(booked, got)
			prev = got
		}
	}
}

func TestListFreeTimesForDay(t *testing.T) {
	day := monday.AddDate(0, 0, 3)
	all := ListFreeTimesForDay(nil, day)
	if len(all) != 13 {
		t.Fatalf("ожидали 13 часов с 09:00 до 21:00, получили %d", len(all))
	}
	if all[0].String() != "09:00" || all[len(all)-1].String() != "21:00" {
		t.Fatalf("неожиданные границы: %v .. %v", all[0], all[len(all)-1])
	}

	booked := []time.Time{
		day.Add(10 * time.Hour),
		day.Add(15*time.Hour + 30*time.Minute),   // не на сетке
		day.AddDate(0, 0, 1).Add(11 * time.Hour), // другой день
	}
	free := ListFreeTimesForDay(booked, day)
	if len(free) != 12 {
		t.Fatalf("ожидали 12 свободных часов, получили %d", len(free))
	}
	for _, ft := range free {
		if ft.String() == "10:00" {
			t.Fatalf("10:00 должен быть занят")
		}
	}
}
