package policy

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenylistBlocksConversationalAgents(t *testing.T) {
	denylist := MustDenylist("")

	for _, name := range []string{"chat", "Chat-Assistant", "site-concierge", "CONVERSATION-memory", "livechat"} {
		assert.ErrorIs(t, denylist.EnsureDispatchable(name), ErrAgentForbidden, name)
	}
	for _, name := range []string{"copywriter", "offer-pathway", "welcome-email", "lead-digest"} {
		assert.NoError(t, denylist.EnsureDispatchable(name), name)
	}
}

func TestDenylistCustomPattern(t *testing.T) {
	denylist, err := NewDenylist("^internal-")
	require.NoError(t, err)
	assert.True(t, denylist.Blocks("Internal-Billing"))
	assert.False(t, denylist.Blocks("chat"))

	_, err = NewDenylist("(")
	assert.Error(t, err)
}

func TestDenylistCaseInsensitiveProperty(t *testing.T) {
	denylist := MustDenylist("")
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("any name embedding a blocked word is forbidden", prop.ForAll(
		func(prefix, suffix string, word string, upper bool) bool {
			if upper {
				word = strings.ToUpper(word)
			}
			return denylist.Blocks(prefix + word + suffix)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.OneConstOf("chat", "concierge", "conversation"),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestMaskPIIJSONMasksCommonPatterns(t *testing.T) {
	payload := json.RawMessage(`{"email":"user@example.com","phone":"+1 415 555-0134","card":"4111 1111 1111 1111","score":12}`)
	raw := string(MaskPIIJSON(payload))

	assert.NotContains(t, raw, "user@example.com")
	assert.NotContains(t, raw, "555-0134")
	assert.Contains(t, raw, "**** **** **** 1111")
	assert.Contains(t, raw, `"score":12`)
}

func TestDigestInputTruncatesAndMasks(t *testing.T) {
	digest := DigestInput(map[string]any{"email": "lead@example.com", "notes": strings.Repeat("x", 400)})
	assert.NotContains(t, digest, "lead@example.com")
	assert.LessOrEqual(t, len(digest), maxDigestLength+3)
	assert.True(t, strings.HasSuffix(digest, "..."))

	assert.Empty(t, DigestInput(nil))
	assert.Equal(t, `{"a":1}`, DigestInput(json.RawMessage(`{"a":1}`)))
}

func TestDigestInputKeepsRunesWhole(t *testing.T) {
	// The odd prefix puts the byte limit in the middle of a two-byte rune.
	digest := DigestInput(json.RawMessage(`{"notes":"x` + strings.Repeat("é", 300) + `"}`))
	assert.True(t, utf8.ValidString(digest))
	assert.True(t, strings.HasSuffix(digest, "é..."))

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("digest is valid UTF-8 within the limit", prop.ForAll(
		func(text string) bool {
			digest := DigestInput(map[string]string{"text": text})
			return utf8.ValidString(digest) && len(digest) <= maxDigestLength+len("...")
		},
		gen.UnicodeString(unicode.L),
	))
	properties.TestingRun(t)
}
