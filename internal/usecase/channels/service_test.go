package channels

import (
	"context"
	"errors"
	"testing"

	"tg-autoposter/internal/adapters/repo"
	"tg-autoposter/internal/domain"
)

type capturedEvents struct {
	kinds []domain.EventKind
}

func (c *capturedEvents) Publish(ctx context.Context, event domain.ChangeEvent) error {
	c.kinds = append(c.kinds, event.Kind)
	return nil
}

func validParams() Params {
	return Params{
		Title:    "Новости",
		BotToken: "123456789:ABC-DEF1234ghIkl-zyx57W2v1u123ew11",
		ChatID:   "@news_channel",
		IsActive: true,
	}
}

func TestCreateChannel(t *testing.T) {
	store := repo.NewMemory()
	events := &capturedEvents{}
	service := NewService(store, events)

	ch, err := service.Create(context.Background(), validParams())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if ch.ID == 0 {
		t.Fatalf("канал должен получить идентификатор")
	}
	if len(ch.Schedule) != 0 {
		t.Fatalf("новый канал создаётся с пустым расписанием")
	}
	if len(events.kinds) != 1 || events.kinds[0] != domain.EventChannelUpdated {
		t.Fatalf("ожидали одно событие channel.updated, получили %v", events.kinds)
	}
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	service := NewService(repo.NewMemory(), nil)
	params := validParams()
	params.Title = "   "
	if _, err := service.Create(context.Background(), params); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("ожидали ErrEmptyTitle, получили %v", err)
	}
}

func TestCreateRejectsBadCredentials(t *testing.T) {
	service := NewService(repo.NewMemory(), nil)

	params := validParams()
	params.BotToken = "not-a-token"
	if _, err := service.Create(context.Background(), params); !domain.IsKind(err, domain.KindCredentialInvalid) {
		t.Fatalf("плохой токен: ожидали credential_invalid, получили %v", err)
	}

	params = validParams()
	params.ChatID = "канал"
	if _, err := service.Create(context.Background(), params); !domain.IsKind(err, domain.KindCredentialInvalid) {
		t.Fatalf("плохой чат: ожидали credential_invalid, получили %v", err)
	}
}

func TestUpdateChannel(t *testing.T) {
	store := repo.NewMemory()
	service := NewService(store, nil)
	ch, err := service.Create(context.Background(), validParams())
	if err != nil {
		t.Fatalf("создание: %v", err)
	}

	params := validParams()
	params.Title = "Переименованный"
	params.IsActive = false
	updated, err := service.Update(context.Background(), ch.ID, params)
	if err != nil {
		t.Fatalf("обновление: %v", err)
	}
	if updated.Title != "Переименованный" || updated.IsActive {
		t.Fatalf("поля должны обновиться: %+v", updated)
	}
}

func TestUpdateUnknownChannel(t *testing.T) {
	service := NewService(repo.NewMemory(), nil)
	if _, err := service.Update(context.Background(), 404, validParams()); !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("ожидали not_found, получили %v", err)
	}
}

func TestDeleteCascadesPosts(t *testing.T) {
	store := repo.NewMemory()
	service := NewService(store, nil)
	ch, err := service.Create(context.Background(), validParams())
	if err != nil {
		t.Fatalf("создание: %v", err)
	}
	post, err := store.CreatePost(context.Background(), domain.Post{ChannelID: ch.ID, Text: "пост", Status: domain.PostStatusGenerated})
	if err != nil {
		t.Fatalf("создание поста: %v", err)
	}

	if err := service.Delete(context.Background(), ch.ID); err != nil {
		t.Fatalf("удаление: %v", err)
	}
	if _, err := store.GetPost(context.Background(), post.ID); !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("посты канала должны удаляться каскадом, получили %v", err)
	}
}

func TestSetActive(t *testing.T) {
	store := repo.NewMemory()
	service := NewService(store, nil)
	ch, err := service.Create(context.Background(), validParams())
	if err != nil {
		t.Fatalf("создание: %v", err)
	}

	if err := service.SetActive(context.Background(), ch.ID, false); err != nil {
		t.Fatalf("деактивация: %v", err)
	}
	got, _ := service.Get(context.Background(), ch.ID)
	if got.IsActive {
		t.Fatalf("канал должен стать неактивным")
	}
}
