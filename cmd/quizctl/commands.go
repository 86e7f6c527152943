package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"quizpipe/internal/domain"
	"quizpipe/internal/usecase/publish"
	"quizpipe/internal/usecase/slots"
)

type services struct {
	slots  *slots.Service
	worker *publish.Worker
}

// opener подключает сервисы; publisher нужен только для прохода воркера.
type opener func(ctx context.Context, withPublisher bool) (*services, func(), error)

func newRootCmd(out io.Writer, open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "quizctl",
		Short:         "Управление расписанием публикаций квизов",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	with := func(withPublisher bool, fn func(cmd *cobra.Command, svc *services, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := open(cmd.Context(), withPublisher)
			if err != nil {
				return err
			}
			defer closeFn()
			return fn(cmd, svc, args)
		}
	}

	slotsCmd := &cobra.Command{Use: "slots", Short: "Сетка еженедельных слотов"}
	slotsCmd.AddCommand(
		&cobra.Command{
			Use:   "import <file.yaml>",
			Short: "Загрузить слоты из YAML-файла",
			Args:  cobra.ExactArgs(1),
			RunE: with(false, func(cmd *cobra.Command, svc *services, args []string) error {
				raw, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				grid, err := parseSlotFile(raw)
				if err != nil {
					return err
				}
				saved, err := svc.slots.ImportSlots(cmd.Context(), grid)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "сохранено слотов: %d\n", len(saved))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "Показать сетку слотов",
			Args:  cobra.NoArgs,
			RunE: with(false, func(cmd *cobra.Command, svc *services, _ []string) error {
				list, err := svc.slots.ListSlots(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tДЕНЬ\tВРЕМЯ\tАКТИВЕН")
				for _, s := range list {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%t\n", s.ID, time.Weekday(s.DayOfWeek), s.TimeOfDay, s.IsActive)
				}
				return tw.Flush()
			}),
		},
	)

	jobsCmd := &cobra.Command{Use: "jobs", Short: "Задачи публикации"}
	var listStatus string
	var listLimit int
	jobsList := &cobra.Command{
		Use:   "list",
		Short: "Показать задачи",
		Args:  cobra.NoArgs,
		RunE: with(false, func(cmd *cobra.Command, svc *services, _ []string) error {
			jobs, err := svc.worker.ListJobs(cmd.Context(), domain.JobStatus(strings.ToUpper(listStatus)), listLimit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tКВИЗ\tВРЕМЯ\tСТАТУС\tПОВТОРЫ\tОШИБКА")
			for _, j := range jobs {
				errMsg := ""
				if j.ErrorMessage != nil {
					errMsg = *j.ErrorMessage
				}
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%s\n", j.ID, j.QuizID, j.ScheduledAt.Format(time.RFC3339), j.Status, j.RetryCount, errMsg)
			}
			return tw.Flush()
		}),
	}
	jobsList.Flags().StringVar(&listStatus, "status", "", "фильтр по статусу")
	jobsList.Flags().IntVar(&listLimit, "limit", 50, "максимум строк")

	jobsCmd.AddCommand(
		jobsList,
		&cobra.Command{
			Use:   "retry <id>",
			Short: "Повторить упавшую публикацию",
			Args:  cobra.ExactArgs(1),
			RunE: with(false, func(cmd *cobra.Command, svc *services, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				job, err := svc.worker.RetryJob(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "задача %d: %s, попыток %d из %d\n", job.ID, job.Status, job.RetryCount, domain.MaxRetryAttempts)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "cancel <id>",
			Short: "Отменить ожидающую публикацию",
			Args:  cobra.ExactArgs(1),
			RunE: with(false, func(cmd *cobra.Command, svc *services, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				job, err := svc.worker.CancelJob(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "задача %d: %s\n", job.ID, job.Status)
				return nil
			}),
		},
	)

	var batchSize int
	tickCmd := &cobra.Command{
		Use:   "tick",
		Short: "Выполнить один проход воркера публикаций",
		Args:  cobra.NoArgs,
		RunE: with(true, func(cmd *cobra.Command, svc *services, _ []string) error {
			report, err := svc.worker.Tick(cmd.Context(), batchSize)
			if err != nil {
				return err
			}
			if report.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "проход уже выполняется другим процессом")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "захвачено %d, опубликовано %d, ошибок %d\n", report.Claimed, report.Published, report.Failed)
			for _, o := range report.Outcomes {
				fmt.Fprintf(cmd.OutOrStdout(), "  задача %d: %s %s%s\n", o.JobID, o.Status, o.RemoteID, o.Error)
			}
			return nil
		}),
	}
	tickCmd.Flags().IntVar(&batchSize, "batch-size", 10, "сколько задач захватить за проход")

	root.AddCommand(slotsCmd, jobsCmd, tickCmd)
	return root
}

type slotFile struct {
	Slots []slotEntry `yaml:"slots"`
}

type slotEntry struct {
	Day    string `yaml:"day"`
	Time   string `yaml:"time"`
	Active *bool  `yaml:"active"`
}

// parseSlotFile разбирает YAML с сеткой слотов. День задаётся числом 0-6 (0 = воскресенье)
// или английским названием; active по умолчанию true.
func parseSlotFile(raw []byte) ([]domain.RecurringSlot, error) {
	var file slotFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: разбор YAML: %v", domain.ErrValidation, err)
	}
	out := make([]domain.RecurringSlot, 0, len(file.Slots))
	for i, entry := range file.Slots {
		day, err := parseWeekday(entry.Day)
		if err != nil {
			return nil, fmt.Errorf("слот #%d: %w", i+1, err)
		}
		tod, err := domain.ParseTimeOfDay(entry.Time)
		if err != nil {
			return nil, fmt.Errorf("слот #%d: %w", i+1, err)
		}
		active := true
		if entry.Active != nil {
			active = *entry.Active
		}
		out = append(out, domain.RecurringSlot{DayOfWeek: day, TimeOfDay: tod, IsActive: active})
	}
	return out, nil
}

func parseWeekday(raw string) (int, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if raw == name || raw == name[:3] {
			return int(d), nil
		}
	}
	return 0, fmt.Errorf("%w: неизвестный день недели %q", domain.ErrInvalidSlot, raw)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: некорректный id %q", domain.ErrValidation, raw)
	}
	return id, nil
}
