package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "abcd****wxyz", MaskAPIKey("abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, "****", MaskAPIKey("short"))
	assert.Equal(t, "****", MaskAPIKey("12345678"))
	assert.Equal(t, "****", MaskAPIKey(""))
}

func TestSanitizeDetailsMasksSecrets(t *testing.T) {
	in := map[string]any{
		"symbol":     "BTCUSDT",
		"api_secret": "supersecretvalue123",
		"Signature":  "deadbeefcafe0123",
		"nested": map[string]any{
			"passphrase": "hunter2hunter2",
			"qty":        0.5,
		},
	}

	out := SanitizeDetails(in)

	assert.Equal(t, "BTCUSDT", out["symbol"])
	assert.Equal(t, "supe****e123", out["api_secret"])
	assert.Equal(t, "dead****0123", out["Signature"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "hunt****ter2", nested["passphrase"])
	assert.Equal(t, 0.5, nested["qty"])

	// Original map stays intact.
	assert.Equal(t, "supersecretvalue123", in["api_secret"])
}

func TestSanitizeDetailsNil(t *testing.T) {
	assert.Nil(t, SanitizeDetails(nil))
}
