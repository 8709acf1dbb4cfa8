package mail_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/basket/asis/internal/mail"
)

func TestValidateAddress(t *testing.T) {
	valid := []string{"ana@example.com", "first.last+tag@sub.example.ro", " bob_99@mail.co "}
	invalid := []string{"", "ana", "ana@", "@example.com", "ana@example", "Ana <ana@example.com>", "ana@exa mple.com", "ana@example.c"}
	for _, addr := range valid {
		assert.True(t, mail.ValidateAddress(addr), addr)
	}
	for _, addr := range invalid {
		assert.False(t, mail.ValidateAddress(addr), addr)
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "scurt", mail.Preview("  scurt \n", 200))
	assert.Equal(t, "ăîșț...", mail.Preview("ăîșțâ", 4))
	assert.Equal(t, "abcd", mail.Preview("abcd", 4))
}
