package domain

import "regexp"

var (
	botTokenRegex   = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)
	numericChatID   = regexp.MustCompile(`^-?\d+$`)
	publicChatAlias = regexp.MustCompile(`^@[A-Za-z0-9_]+$`)
)

// ValidBotToken проверяет синтаксис токена бота без сетевых вызовов.
func ValidBotToken(token string) bool {
	return botTokenRegex.MatchString(token)
}

// ValidChatID принимает числовой идентификатор чата (возможно отрицательный)
// либо публичный алиас вида @name.
func ValidChatID(chatID string) bool {
	return numericChatID.MatchString(chatID) || publicChatAlias.MatchString(chatID)
}

// ValidCredentials проверяет пару токен+чат. Отрицательный результат — жёсткое
// предусловие: вызывающий не идёт в сеть.
func ValidCredentials(token, chatID string) bool {
	return ValidBotToken(token) && ValidChatID(chatID)
}
