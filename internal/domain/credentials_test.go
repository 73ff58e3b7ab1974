package domain

import "testing"

func TestValidCredentials(t *testing.T) {
	cases := []struct {
		name   string
		token  string
		chatID string
		want   bool
	}{
		{"полный токен и числовой чат", "123456789:ABC-DEF1234ghIkl-zyx57W2v1u123ew11", "-1001234567890", true},
		{"короткий токен и публичный алиас", "123:abc", "@user_name", true},
		{"токен без двоеточия", "not-a-token", "@mychannel", false},
		{"пустой токен", "", "-100123", false},
		{"токен без числового префикса", "abc:def", "-100123", false},
		{"чат с пробелом", "123:abc", "my channel", false},
		{"алиас без собаки", "123:abc", "user_name", false},
		{"пустой чат", "123:abc", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidCredentials(tc.token, tc.chatID); got != tc.want {
				t.Fatalf("ValidCredentials(%q, %q) = %v, ожидали %v", tc.token, tc.chatID, got, tc.want)
			}
		})
	}
}

func TestValidChatID(t *testing.T) {
	if !ValidChatID("42") {
		t.Fatalf("положительный числовой идентификатор должен приниматься")
	}
	if !ValidChatID("-42") {
		t.Fatalf("отрицательный числовой идентификатор должен приниматься")
	}
	if ValidChatID("@") {
		t.Fatalf("пустой алиас не должен приниматься")
	}
	if ValidChatID("@имя") {
		t.Fatalf("алиас с кириллицей не должен приниматься")
	}
}
