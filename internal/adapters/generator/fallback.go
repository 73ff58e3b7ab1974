package generator

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"tg-autoposter/internal/domain"
)

// Шаблоны фолбэка. Выбор детерминирован хэшем (шаблон, день, номер),
// без генератора случайных чисел: систему можно гонять без внешнего
// сервиса и получать воспроизводимый результат.
var fallbackPatterns = []string{
	"<b>%s</b>\n\nКоротко о главном по теме. Подробности — в следующих постах.",
	"Сегодня в фокусе: <i>%s</i>.\n\nОставайтесь с нами, впереди ещё больше.",
	"<b>Тема дня:</b> %s.\n\nДелитесь мнением в комментариях.",
	"Немного о том, что нас занимает: %s.",
}

// Fallback — детерминированный генератор контента из шаблона канала.
type Fallback struct{}

// NewFallback создаёт фолбэк-генератор.
func NewFallback() *Fallback {
	return &Fallback{}
}

var _ domain.Generator = (*Fallback)(nil)

// Generate строит текст из шаблона канала и подставляет заглушку картинки.
func (f *Fallback) Generate(ctx context.Context, ch domain.Channel, seq int) (domain.Content, error) {
	topic := topicFromTemplate(ch.PromptTemplate)
	day := time.Now().Format("2006-01-02")
	idx := pickIndex(ch.PromptTemplate, day, seq)
	text := fmt.Sprintf(fallbackPatterns[idx], topic)
	return domain.Content{Text: text, ImageURL: PlaceholderImageURL(text)}, nil
}

// topicFromTemplate сводит шаблон промпта к короткой формулировке темы.
func topicFromTemplate(template string) string {
	cleaned := strings.ReplaceAll(template, VariationPlaceholder, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return "новости канала"
	}
	return clipRunes(cleaned, 120)
}

func pickIndex(template, day string, seq int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(template))
	_, _ = h.Write([]byte(day))
	_, _ = fmt.Fprintf(h, "%d", seq)
	return int(h.Sum32() % uint32(len(fallbackPatterns)))
}
