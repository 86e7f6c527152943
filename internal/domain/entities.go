package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay хранит время суток с точностью до минуты.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay разбирает строку формата HH:MM.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return TimeOfDay{}, fmt.Errorf("%w: время %q должно быть в формате HH:MM", ErrInvalidSlot, raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: час %q", ErrInvalidSlot, parts[0])
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: минуты %q", ErrInvalidSlot, parts[1])
	}
	t := TimeOfDay{Hour: hour, Minute: minute}
	if err := t.Validate(); err != nil {
		return TimeOfDay{}, err
	}
	return t, nil
}

// MustTimeOfDay паникует на некорректной строке; предназначен для констант и тестов.
func MustTimeOfDay(raw string) TimeOfDay {
	t, err := ParseTimeOfDay(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate проверяет диапазоны часов и минут.
func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("%w: время %02d:%02d вне диапазона", ErrInvalidSlot, t.Hour, t.Minute)
	}
	return nil
}

// Minutes возвращает количество минут от начала суток.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// On возвращает момент времени в указанный день (UTC, без секунд).
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.UTC().Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, time.UTC)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalText позволяет сериализовать время в JSON и YAML как "HH:MM".
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText разбирает "HH:MM".
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// RecurringSlot описывает еженедельный слот публикации.
type RecurringSlot struct {
	ID        int64     `json:"id"`
	DayOfWeek int       `json:"day_of_week"`
	TimeOfDay TimeOfDay `json:"time_of_day"`
	IsActive  bool      `json:"is_active"`
}

// Validate проверяет день недели (0 = воскресенье) и время.
func (s RecurringSlot) Validate() error {
	if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
		return fmt.Errorf("%w: день недели %d вне диапазона 0-6", ErrInvalidSlot, s.DayOfWeek)
	}
	return s.TimeOfDay.Validate()
}

// JobStatus: состояние задачи публикации.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusPublished  JobStatus = "PUBLISHED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// Valid сообщает, известен ли статус.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusPublished, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// MaxRetryAttempts: общий лимит автоматических и ручных повторов задачи.
const MaxRetryAttempts = 3

// PublishJob описывает одну запланированную публикацию квиза.
type PublishJob struct {
	ID           int64      `json:"id"`
	QuizID       int64      `json:"quiz_id"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	Status       JobStatus  `json:"status"`
	RemotePostID *string    `json:"remote_post_id,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	LastRetryAt  *time.Time `json:"last_retry_at,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Terminal сообщает, что задача больше не будет обработана воркером без ручного вмешательства.
func (j PublishJob) Terminal() bool {
	switch j.Status {
	case JobStatusPublished, JobStatusCancelled:
		return true
	case JobStatusFailed:
		return j.RetryCount >= MaxRetryAttempts
	}
	return false
}

// BatchStatus: состояние пакетной генерации.
type BatchStatus string

const (
	BatchStatusRunning  BatchStatus = "RUNNING"
	BatchStatusComplete BatchStatus = "COMPLETE"
	BatchStatusFailed   BatchStatus = "FAILED"
)

// Стадии пакета, которые выставляет пайплайн генерации.
const (
	StageQueued     = "queued"
	StageGenerating = "generating"
	StageComplete   = "complete"
	StageFailed     = "failed"
)

// Batch отслеживает прогресс генерации нескольких квизов.
type Batch struct {
	ID             int64       `json:"id"`
	RequestedCount int         `json:"requested_count"`
	CompletedCount int         `json:"completed_count"`
	Status         BatchStatus `json:"status"`
	CurrentStage   string      `json:"current_stage"`
	ErrorMessage   *string     `json:"error_message,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Terminal сообщает, что пакет больше не меняет состояние.
func (b Batch) Terminal() bool {
	return b.Status == BatchStatusComplete || b.Status == BatchStatusFailed
}

// Eligible сообщает, что все элементы готовы и пакет можно финализировать.
func (b Batch) Eligible() bool {
	return b.Status == BatchStatusRunning && b.CompletedCount >= b.RequestedCount
}

// BatchStatusView: снимок состояния пакета для опроса из дашборда.
type BatchStatusView struct {
	ID             int64       `json:"id"`
	Status         BatchStatus `json:"status"`
	CompletedCount int         `json:"completed_count"`
	RequestedCount int         `json:"requested_count"`
	CurrentStage   string      `json:"current_stage"`
	ErrorMessage   *string     `json:"error_message,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// View строит снимок состояния.
func (b Batch) View() BatchStatusView {
	return BatchStatusView{
		ID:             b.ID,
		Status:         b.Status,
		CompletedCount: b.CompletedCount,
		RequestedCount: b.RequestedCount,
		CurrentStage:   b.CurrentStage,
		ErrorMessage:   b.ErrorMessage,
		CompletedAt:    b.CompletedAt,
	}
}

// QuizStatus: состояние сгенерированного квиза.
type QuizStatus string

const (
	QuizStatusDraft     QuizStatus = "DRAFT"
	QuizStatusReady     QuizStatus = "READY"
	QuizStatusScheduled QuizStatus = "SCHEDULED"
	QuizStatusPublished QuizStatus = "PUBLISHED"
	QuizStatusFailed    QuizStatus = "FAILED"
)

// QuizSpec задаёт параметры генерации одного квиза.
type QuizSpec struct {
	TemplateType string `json:"template_type"`
	Language     string `json:"language"`
	Difficulty   string `json:"difficulty"`
	Theme        string `json:"theme"`
}

// Quiz: единица контента, которую публикует воркер.
type Quiz struct {
	ID           int64      `json:"id"`
	BatchID      *int64     `json:"batch_id,omitempty"`
	Spec         QuizSpec   `json:"spec"`
	Content      string     `json:"content"`
	Answer       string     `json:"answer"`
	ImageURL     string     `json:"image_url"`
	Caption      string     `json:"caption"`
	Status       QuizStatus `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// GeneratedQuiz: ответ сервиса генерации контента.
type GeneratedQuiz struct {
	Content string
	Answer  string
}

// PublishRequest: данные для внешнего API публикации.
type PublishRequest struct {
	ImageURL    string
	Caption     string
	ScheduledAt *time.Time
}

// StringPtr возвращает указатель на копию строки.
func StringPtr(s string) *string {
	return &s
}
