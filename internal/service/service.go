// Package service: ядро чата: членство, сообщения, реакции и прочтения, закрепы, опросы,
// индикаторы набора, отложенные сообщения и файлы. Каждая операция проверяет права через
// Authorize, выполняет запись в storage и передаёт события в dispatch.Dispatcher.
package service

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/moderation"
	"github.com/chatcore/internal/push"
	"github.com/chatcore/internal/storage"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=../mocks/mock_collaborators.go -package=mocks

// Notifier: внешний триггер уведомлений (push/email форматирует получатель).
type Notifier interface {
	Notify(ctx context.Context, n push.Notification)
}

// BlobStore: внешнее хранилище вложений. Ядро не знает, где лежат байты.
type BlobStore interface {
	Store(ctx context.Context, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
	URL(path string) string
}

type Options struct {
	TypingTTL      time.Duration
	TypingSweep    time.Duration
	SchedulerTick  time.Duration
	SchedulerBatch int
	PollCloserCron string

	MessagePageSize      int
	MaxMessagePageSize   int
	ConversationPageSize int

	MaxUploadSize   int64
	AllowedMimeType []string
	BlobDisk        string
}

func (o Options) withDefaults() Options {
	if o.TypingTTL <= 0 {
		o.TypingTTL = 3 * time.Second
	}
	if o.TypingSweep <= 0 {
		o.TypingSweep = 500 * time.Millisecond
	}
	if o.SchedulerTick <= 0 {
		o.SchedulerTick = time.Second
	}
	if o.SchedulerBatch <= 0 {
		o.SchedulerBatch = 100
	}
	if o.PollCloserCron == "" {
		o.PollCloserCron = "* * * * *"
	}
	if o.MessagePageSize <= 0 {
		o.MessagePageSize = 50
	}
	if o.MaxMessagePageSize <= 0 {
		o.MaxMessagePageSize = 100
	}
	if o.ConversationPageSize <= 0 {
		o.ConversationPageSize = 20
	}
	if o.MaxUploadSize <= 0 {
		o.MaxUploadSize = 10 << 20
	}
	if len(o.AllowedMimeType) == 0 {
		o.AllowedMimeType = DefaultAllowedMimeTypes
	}
	if o.BlobDisk == "" {
		o.BlobDisk = "local"
	}
	return o
}

// Deps: зависимости ядра, собираются один раз в services/api/main.go.
type Deps struct {
	Store    storage.Store
	Typing   storage.TypingStore
	Dispatch *dispatch.Dispatcher
	Policy   moderation.Policy
	Notifier Notifier
	Blobs    BlobStore
}

type Service struct {
	store    storage.Store
	typing   storage.TypingStore
	hub      *dispatch.Dispatcher
	policy   moderation.Policy
	notifier Notifier
	blobs    BlobStore
	opts     Options

	validate *validator.Validate
	now      func() time.Time
	wake     chan struct{}
}

func New(d Deps, o Options) *Service {
	s := &Service{
		store:    d.Store,
		typing:   d.Typing,
		hub:      d.Dispatch,
		policy:   d.Policy,
		notifier: d.Notifier,
		blobs:    d.Blobs,
		opts:     o.withDefaults(),
		validate: newValidator(),
		now:      func() time.Time { return time.Now().UTC() },
		wake:     make(chan struct{}, 1),
	}
	if s.policy == nil {
		s.policy = moderation.Nop{}
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.hub == nil {
		s.hub = dispatch.New(0, 0)
	}
	return s
}

// Dispatcher отдаёт диспетчер для транспортного слоя (ws).
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.hub }

// clock: текущее время с точностью Postgres timestamptz.
func (s *Service) clock() time.Time { return s.now().UTC().Truncate(time.Microsecond) }

func newID() string { return uuid.Must(uuid.NewV7()).String() }

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	return v
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, push.Notification) {}
