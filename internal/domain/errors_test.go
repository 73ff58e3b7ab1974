package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsKindThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("получение поста: %w", ErrNotFound)
	if !IsKind(wrapped, KindNotFound) {
		t.Fatalf("ожидали распознавание вида сквозь fmt.Errorf")
	}
	if IsKind(wrapped, KindPublishFailed) {
		t.Fatalf("чужой вид не должен совпадать")
	}
	if IsKind(errors.New("обычная ошибка"), KindNotFound) {
		t.Fatalf("ошибка без вида не должна совпадать")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("сеть недоступна")
	err := WrapError(KindPublishFailed, "публикация", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("ожидали доступ к причине через errors.Is")
	}
	if err.Error() != "публикация: сеть недоступна" {
		t.Fatalf("неожиданный текст ошибки: %q", err.Error())
	}
}

func TestHasImage(t *testing.T) {
	if (Post{}).HasImage() {
		t.Fatalf("пост без картинки не должен отправляться как фото")
	}
	if (Post{ImageURL: PlaceholderImagePrefix + "?text=x"}).HasImage() {
		t.Fatalf("заглушка не должна отправляться как фото")
	}
	if !(Post{ImageURL: "https://cdn.example.com/img.png"}).HasImage() {
		t.Fatalf("пост с настоящей картинкой должен отправляться как фото")
	}
}

func TestSortSchedule(t *testing.T) {
	slots := []ScheduleSlot{{Hour: 21, Minute: 0}, {Hour: 9, Minute: 30}, {Hour: 9, Minute: 0}}
	SortSchedule(slots)
	want := []SlotKey{{9, 0}, {9, 30}, {21, 0}}
	for i, key := range want {
		if slots[i].Key() != key {
			t.Fatalf("позиция %d: получили %02d:%02d, ожидали %02d:%02d",
				i, slots[i].Hour, slots[i].Minute, key.Hour, key.Minute)
		}
	}
}
