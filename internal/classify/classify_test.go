package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		text string
		want TaskType
	}{
		{name: "empty", text: "", want: Other},
		{name: "whitespace", text: "   \n\t", want: Other},
		{name: "short", text: "aa", want: Other},
		{name: "accounts", text: "Создавал аккаунты сегодня", want: Accounts},
		{name: "accounts latin", text: "made 5 HAPPN profiles", want: Accounts},
		{name: "chat", text: "Весь день писал в чате", want: Chat},
		{name: "transfers", text: "перевел троих в инсту", want: Transfers},
		{name: "transfers latin", text: "moved them to Instagram", want: Transfers},
		{name: "skip", text: "Сегодня ничего", want: Skip},
		{name: "account before chat", text: "писал в чат и создал аккаунт", want: Accounts},
		{name: "chat before transfer", text: "ответ в инсте", want: Chat},
		{name: "transfer before skip", text: "перевел, больше нет", want: Transfers},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.text))
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	texts := []string{"", "aa", "АККАУНТ", "чатинг весь день", "random words about nothing"}
	for _, text := range texts {
		first := Classify(text)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, Classify(text), text)
		}
	}
}

func TestLabels(t *testing.T) {
	assert.Equal(t, []TaskType{Accounts, Chat, Transfers, Skip, Other}, Labels())
}

func TestIsSuspicious(t *testing.T) {
	testCases := []struct {
		name string
		text string
		want bool
	}{
		{name: "empty", text: "", want: true},
		{name: "two chars", text: "aa", want: true},
		{name: "fourteen chars", text: strings.Repeat("x", 14), want: true},
		{name: "padded short", text: "   short one   ", want: true},
		{name: "fifteen chars", text: strings.Repeat("x", 15), want: false},
		{name: "cyrillic long", text: "Создавал аккаунты сегодня", want: false},
		{name: "boilerplate accounts", text: "Сегодня делал аккаунты весь день", want: true},
		{name: "boilerplate checked", text: "Проверял всё что было нужно", want: true},
		{name: "boilerplate messaged", text: "Писал людям до самого вечера", want: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsSuspicious(tc.text))
		})
	}
}

func TestSuspiciousCustomThreshold(t *testing.T) {
	assert.False(t, Suspicious("abcde", 5))
	assert.True(t, Suspicious("abcd", 5))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "создавал аккаунты сегодня", Normalize("  Создавал\t аккаунты\n\nСегодня "))
	assert.Equal(t, "", Normalize("   "))
}

func TestLength(t *testing.T) {
	assert.Equal(t, 2, Length("aa"))
	assert.Equal(t, 25, Length("Создавал аккаунты сегодня"))
}
