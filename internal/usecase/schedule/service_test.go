package schedule

import (
	"context"
	"errors"
	"testing"

	"tg-autoposter/internal/adapters/repo"
	"tg-autoposter/internal/domain"
)

func newChannel(t *testing.T, store *repo.Memory) domain.Channel {
	t.Helper()
	ch, err := store.CreateChannel(context.Background(), domain.Channel{
		Title:    "Тестовый",
		BotToken: "123:abc",
		ChatID:   "@test_channel",
	})
	if err != nil {
		t.Fatalf("создание канала: %v", err)
	}
	return ch
}

func TestAddSlotKeepsScheduleSorted(t *testing.T) {
	store := repo.NewMemory()
	ch := newChannel(t, store)
	service := NewService(store)

	for _, slot := range [][2]int{{21, 0}, {9, 0}, {15, 30}} {
		if _, err := service.AddSlot(context.Background(), ch.ID, slot[0], slot[1]); err != nil {
			t.Fatalf("добавление слота %02d:%02d: %v", slot[0], slot[1], err)
		}
	}

	got, err := store.GetChannel(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("получение канала: %v", err)
	}
	want := []domain.SlotKey{{Hour: 9}, {Hour: 15, Minute: 30}, {Hour: 21}}
	if len(got.Schedule) != len(want) {
		t.Fatalf("ожидали %d слота, получили %d", len(want), len(got.Schedule))
	}
	for i, key := range want {
		if got.Schedule[i].Key() != key {
			t.Fatalf("позиция %d: получили %02d:%02d, ожидали %02d:%02d",
				i, got.Schedule[i].Hour, got.Schedule[i].Minute, key.Hour, key.Minute)
		}
	}
}

func TestAddSlotRejectsDuplicate(t *testing.T) {
	store := repo.NewMemory()
	ch := newChannel(t, store)
	service := NewService(store)

	if _, err := service.AddSlot(context.Background(), ch.ID, 9, 0); err != nil {
		t.Fatalf("первый слот: %v", err)
	}
	if _, err := service.AddSlot(context.Background(), ch.ID, 9, 0); !errors.Is(err, domain.ErrDuplicateSlot) {
		t.Fatalf("ожидали ErrDuplicateSlot, получили %v", err)
	}

	got, _ := store.GetChannel(context.Background(), ch.ID)
	if len(got.Schedule) != 1 {
		t.Fatalf("дубликат не должен менять расписание, слотов: %d", len(got.Schedule))
	}
}

func TestAddSlotRejectsOutOfRange(t *testing.T) {
	store := repo.NewMemory()
	ch := newChannel(t, store)
	service := NewService(store)

	for _, slot := range [][2]int{{24, 0}, {-1, 0}, {9, 60}, {9, -5}} {
		if _, err := service.AddSlot(context.Background(), ch.ID, slot[0], slot[1]); !errors.Is(err, ErrSlotOutOfRange) {
			t.Fatalf("слот %d:%d: ожидали ErrSlotOutOfRange, получили %v", slot[0], slot[1], err)
		}
	}
}

func TestAddSlotUnknownChannel(t *testing.T) {
	service := NewService(repo.NewMemory())
	if _, err := service.AddSlot(context.Background(), 404, 9, 0); !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("ожидали not_found, получили %v", err)
	}
}

func TestDistributeTwoPerDay(t *testing.T) {
	slots := Distribute(2, DefaultStartHour)
	if len(slots) != 2 {
		t.Fatalf("ожидали 2 слота, получили %d", len(slots))
	}
	if slots[0].Key() != (domain.SlotKey{Hour: 9}) || slots[1].Key() != (domain.SlotKey{Hour: 21}) {
		t.Fatalf("ожидали 09:00 и 21:00, получили %02d:%02d и %02d:%02d",
			slots[0].Hour, slots[0].Minute, slots[1].Hour, slots[1].Minute)
	}
}

func TestDistributeSortedAndUnique(t *testing.T) {
	for _, n := range []int{1, 3, 5, 7, 12, 24} {
		slots := Distribute(n, DefaultStartHour)
		if len(slots) != n {
			t.Fatalf("n=%d: ожидали %d слотов, получили %d", n, n, len(slots))
		}
		seen := make(map[domain.SlotKey]struct{}, n)
		for i, slot := range slots {
			if slot.Hour < 0 || slot.Hour > 23 || slot.Minute < 0 || slot.Minute > 59 {
				t.Fatalf("n=%d: слот %02d:%02d вне суток", n, slot.Hour, slot.Minute)
			}
			if _, ok := seen[slot.Key()]; ok {
				t.Fatalf("n=%d: дубликат слота %02d:%02d", n, slot.Hour, slot.Minute)
			}
			seen[slot.Key()] = struct{}{}
			if i > 0 && !slots[i-1].Before(slot) {
				t.Fatalf("n=%d: расписание не отсортировано на позиции %d", n, i)
			}
		}
	}
}

func TestDistributeFractionalStep(t *testing.T) {
	// 7 постов — шаг 205.71 минуты, округление до целых минут.
	slots := Distribute(7, 0)
	if slots[0].Key() != (domain.SlotKey{}) {
		t.Fatalf("первый слот должен быть 00:00, получили %02d:%02d", slots[0].Hour, slots[0].Minute)
	}
	if slots[1].Key() != (domain.SlotKey{Hour: 3, Minute: 26}) {
		t.Fatalf("второй слот должен быть 03:26, получили %02d:%02d", slots[1].Hour, slots[1].Minute)
	}
}

func TestAutoGenerateReplacesSchedule(t *testing.T) {
	store := repo.NewMemory()
	ch := newChannel(t, store)
	service := NewService(store)

	if _, err := service.AddSlot(context.Background(), ch.ID, 12, 45); err != nil {
		t.Fatalf("добавление слота: %v", err)
	}
	replaced, err := service.AutoGenerate(context.Background(), ch.ID, 3, DefaultStartHour)
	if err != nil {
		t.Fatalf("автогенерация: %v", err)
	}
	if len(replaced) != 3 {
		t.Fatalf("ожидали 3 слота, получили %d", len(replaced))
	}

	got, _ := store.GetChannel(context.Background(), ch.ID)
	if len(got.Schedule) != 3 {
		t.Fatalf("старое расписание должно быть заменено, слотов: %d", len(got.Schedule))
	}
	for _, slot := range got.Schedule {
		if slot.Key() == (domain.SlotKey{Hour: 12, Minute: 45}) {
			t.Fatalf("старый слот 12:45 должен исчезнуть после замены")
		}
	}
}

func TestAutoGenerateValidation(t *testing.T) {
	store := repo.NewMemory()
	ch := newChannel(t, store)
	service := NewService(store)

	if _, err := service.AutoGenerate(context.Background(), ch.ID, 0, DefaultStartHour); !errors.Is(err, ErrNoPostsPerDay) {
		t.Fatalf("ожидали ErrNoPostsPerDay, получили %v", err)
	}
	if _, err := service.AutoGenerate(context.Background(), ch.ID, 2, 24); !errors.Is(err, ErrSlotOutOfRange) {
		t.Fatalf("ожидали ErrSlotOutOfRange, получили %v", err)
	}
}
