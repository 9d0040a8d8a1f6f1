package placeholder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raaihank/safedom/internal/privacy"
)

func TestReinject(t *testing.T) {
	t.Run("ReplacesEveryOccurrence", func(t *testing.T) {
		got := Reinject("Hello __A_1__, again __A_1__.", []privacy.Redaction{
			{Placeholder: "__A_1__", Original: "Bob", Type: "x"},
		})
		assert.Equal(t, "Hello Bob, again Bob.", got)
	})

	t.Run("MultipleRecords", func(t *testing.T) {
		text := "Hello __EMAIL_1__, we masked your card __CARD_2__. Again, __EMAIL_1__ is hidden."
		got := Reinject(text, []privacy.Redaction{
			{Placeholder: "__EMAIL_1__", Original: "person@example.com", Type: "email"},
			{Placeholder: "__CARD_2__", Original: "4111 1111 1111 1111", Type: "creditcard"},
		})

		assert.Equal(t, 2, strings.Count(got, "person@example.com"))
		assert.Contains(t, got, "4111 1111 1111 1111")
	})

	t.Run("NoRedactions", func(t *testing.T) {
		assert.Equal(t, "No placeholders here.", Reinject("No placeholders here.", nil))
		assert.Equal(t, "No placeholders here.", Reinject("No placeholders here.", []privacy.Redaction{}))
	})

	t.Run("EmptyText", func(t *testing.T) {
		assert.Equal(t, "", Reinject("", []privacy.Redaction{{Placeholder: "__A_1__", Original: "x"}}))
	})

	t.Run("OriginalsAreLiteral", func(t *testing.T) {
		got := Reinject("__A_1__ and __B_2__", []privacy.Redaction{
			{Placeholder: "__A_1__", Original: "$1 (.*)", Type: "a"},
			{Placeholder: "__B_2__", Original: "", Type: "b"},
		})
		assert.Equal(t, "$1 (.*) and ", got)
	})

	t.Run("EmptyPlaceholderSkipped", func(t *testing.T) {
		assert.Equal(t, "abc", Reinject("abc", []privacy.Redaction{{Placeholder: "", Original: "zzz"}}))
	})
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"Contact a@x.com and b@y.com.",
		"Reach me at test@example.com or +1 555-123-4567.",
		"IBAN NL91ABNA0417164300, card 4111 1111 1111 1111, SSN 123-45-6789.",
		"nothing sensitive",
	}

	for _, input := range inputs {
		res, err := privacy.ApplyRedactions(input, privacy.DefaultRules(), 1)
		assert.NoError(t, err)
		assert.Equal(t, input, Reinject(res.Text, res.Redactions))
	}
}

func TestFindUnknown(t *testing.T) {
	t.Run("Scenario", func(t *testing.T) {
		assert.Equal(t, []string{"__FOO_1__"}, FindUnknown("See __FOO_1__ and __EMAIL_1__", []string{"__EMAIL_1__"}))
	})

	t.Run("UniqueFirstSeen", func(t *testing.T) {
		got := FindUnknown("__B_2__ __A_1__ __B_2__ __IBAN_NL_3__", nil)
		assert.Equal(t, []string{"__B_2__", "__A_1__", "__IBAN_NL_3__"}, got)
	})

	t.Run("DigitsInPrefix", func(t *testing.T) {
		got := FindUnknown("__V2_1__ __2FA_4__ __ID_2_7__ __12_3__", nil)
		assert.Equal(t, []string{"__V2_1__", "__2FA_4__", "__ID_2_7__"}, got)
	})

	t.Run("DerivedPrefixes", func(t *testing.T) {
		for _, ruleType := range []string{"v2", "2fa", "order id", "iban-nl"} {
			token := privacy.DefaultPrefix(ruleType) + "9" + privacy.PlaceholderSuffix
			assert.Equal(t, []string{token}, FindUnknown("x "+token+" y", nil), ruleType)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, FindUnknown("", []string{"__A_1__"}))
		assert.Empty(t, FindUnknown("plain text __not_a_token__", nil))
	})

	t.Run("KnownFromRedactions", func(t *testing.T) {
		res, err := privacy.ApplyRedactions("mail a@x.com", privacy.DefaultRules(), 1)
		assert.NoError(t, err)
		assert.Empty(t, FindUnknown(res.Text, Known(res.Redactions)))
	})
}
