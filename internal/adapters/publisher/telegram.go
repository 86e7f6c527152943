package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"quizpipe/internal/domain"
	"quizpipe/internal/infra/metrics"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram публикует квизы фотографией с подписью в канал Telegram.
type Telegram struct {
	bot      sender
	chatID   int64
	username string
	log      zerolog.Logger
}

// NewTelegram создаёт публикатор. target задаётся как числовой chat_id или @username канала.
func NewTelegram(bot sender, target string, logger zerolog.Logger) (*Telegram, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("telegram: не указан канал публикации")
	}
	p := &Telegram{bot: bot, log: logger}
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		p.chatID = id
	} else {
		if !strings.HasPrefix(target, "@") {
			target = "@" + target
		}
		p.username = target
	}
	return p, nil
}

// Publish отправляет фото. Текст сверх лимита подписи уходит следующими сообщениями.
// Telegram не поддерживает отложенную отправку ботом, поэтому ScheduledAt игнорируется.
func (p *Telegram) Publish(ctx context.Context, req domain.PublishRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrPublishTransient, err)
	}
	caption, rest := clipCaption(req.Caption)

	var photo tgbotapi.PhotoConfig
	if p.username != "" {
		photo = tgbotapi.NewPhotoToChannel(p.username, tgbotapi.FileURL(req.ImageURL))
	} else {
		photo = tgbotapi.NewPhoto(p.chatID, tgbotapi.FileURL(req.ImageURL))
	}
	photo.Caption = caption

	msg, err := p.send(ctx, "send_photo", photo)
	if err != nil {
		return "", err
	}
	remoteID := strconv.Itoa(msg.MessageID)
	if msg.Chat != nil {
		remoteID = fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID)
	}

	for i, part := range rest {
		var text tgbotapi.MessageConfig
		if p.username != "" {
			text = tgbotapi.NewMessageToChannel(p.username, part)
		} else {
			text = tgbotapi.NewMessage(p.chatID, part)
		}
		text.ReplyToMessageID = msg.MessageID
		if _, err := p.send(ctx, "send_message", text); err != nil {
			// основной пост уже опубликован, поэтому ошибку продолжения не возвращаем
			p.log.Warn().Err(err).Str("remote_id", remoteID).Int("part", i+2).Msg("publisher: не удалось отправить продолжение подписи")
			break
		}
	}
	return remoteID, nil
}

// send вызывает Bot API. Библиотека не принимает контекст, поэтому отмена ctx
// прерывает ожидание, но не сам HTTP-запрос.
func (p *Telegram) send(ctx context.Context, op string, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	type result struct {
		msg tgbotapi.Message
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		msg, err := p.bot.Send(c)
		done <- result{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		metrics.ObserveNetworkRequest("telegram", op, p.target(), start, ctx.Err())
		return tgbotapi.Message{}, fmt.Errorf("%w: telegram %s: %v", domain.ErrPublishTransient, op, ctx.Err())
	case res := <-done:
		metrics.ObserveNetworkRequest("telegram", op, p.target(), start, res.err)
		if res.err != nil {
			return tgbotapi.Message{}, classifyTelegram(op, res.err)
		}
		return res.msg, nil
	}
}

func (p *Telegram) target() string {
	if p.username != "" {
		return p.username
	}
	return strconv.FormatInt(p.chatID, 10)
}

func classifyTelegram(op string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return fmt.Errorf("%w: telegram %s: %d %s", domain.ErrPublishTransient, op, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("%w: telegram %s: %d %s", domain.ErrPublishRejected, op, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: telegram %s: %v", domain.ErrPublishTransient, op, err)
}

var _ domain.Publisher = (*Telegram)(nil)
