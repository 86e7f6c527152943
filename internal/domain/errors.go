package domain

import "errors"

var (
	// ErrNotFound возвращается, когда сущность не найдена в хранилище.
	ErrNotFound = errors.New("not found")

	// ErrInvalidSlot возвращается для некорректного дня недели или времени слота.
	ErrInvalidSlot = errors.New("invalid slot")

	// ErrValidation возвращается для прочих некорректных входных данных.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState возвращается при недопустимом переходе состояния.
	ErrInvalidState = errors.New("invalid state")

	// ErrRetryLimitExceeded возвращается, когда лимит повторов задачи исчерпан.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrNoSlotAvailable возвращается, если в горизонте поиска нет свободного слота.
	ErrNoSlotAvailable = errors.New("no slot available")

	// ErrSlotTaken возвращается хранилищем, если на это время уже есть публикация.
	ErrSlotTaken = errors.New("slot already booked")

	// ErrUnavailable возвращается, когда инфраструктура недоступна после всех повторов.
	ErrUnavailable = errors.New("service unavailable")

	// ErrPublishRejected: внешний API отклонил публикацию, повтор не поможет.
	ErrPublishRejected = errors.New("publish rejected")

	// ErrPublishTransient: временная ошибка внешнего API публикации.
	ErrPublishTransient = errors.New("publish temporarily failed")

	// ErrGeneratorUnavailable: сервис генерации контента недоступен целиком.
	ErrGeneratorUnavailable = errors.New("content generator unavailable")

	// ErrLockHeld возвращается, если блокировка уже захвачена другим процессом.
	ErrLockHeld = errors.New("lock is held")
)
