package utils_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"story-engine/internal/utils"
)

func TestStripCodeFences(t *testing.T) {
	t.Run("json fence", func(t *testing.T) {
		raw := "Here you go:\n```json\n{\"a\": 1}\n```\nthanks"
		assert.Equal(t, `{"a": 1}`, utils.StripCodeFences(raw))
	})
	t.Run("plain fence", func(t *testing.T) {
		raw := "```\n{\"a\": 2}\n```"
		assert.Equal(t, `{"a": 2}`, utils.StripCodeFences(raw))
	})
	t.Run("no fence", func(t *testing.T) {
		assert.Equal(t, `{"a": 3}`, utils.StripCodeFences("  {\"a\": 3}\n"))
	})
}

func TestFirstJSONObject(t *testing.T) {
	t.Run("trailing data dropped", func(t *testing.T) {
		assert.Equal(t, `{"a": {"b": 1}}`, utils.FirstJSONObject(`noise {"a": {"b": 1}} trailing {"x":2}`))
	})
	t.Run("braces inside strings ignored", func(t *testing.T) {
		in := `{"text": "a } tricky { value \" }"}`
		assert.Equal(t, in, utils.FirstJSONObject(in+" extra"))
	})
	t.Run("no object", func(t *testing.T) {
		assert.Equal(t, "", utils.FirstJSONObject("plain text"))
	})
	t.Run("unterminated returns tail", func(t *testing.T) {
		assert.Equal(t, `{"a": 1`, utils.FirstJSONObject(`x {"a": 1`))
	})
}

func TestEscapeControlChars(t *testing.T) {
	raw := "{\"narrative\": \"line one\nline two\t!\"}"
	fixed := utils.EscapeControlChars(raw)
	assert.True(t, json.Valid([]byte(fixed)))
	assert.False(t, json.Valid([]byte(raw)))
	assert.Equal(t, `{"narrative": "line one\nline two\t!"}`, fixed)
}

func TestFencedBlocks(t *testing.T) {
	raw := "```json\n{\"a\":1}\n```\ntext\n```markdown\nStory body\n```"
	blocks := utils.FencedBlocks(raw)
	require.Len(t, blocks, 2)
	assert.Equal(t, "json", blocks[0].Lang)
	assert.Equal(t, "markdown", blocks[1].Lang)
	assert.Equal(t, "Story body", blocks[1].Body)
}

func TestFencedBlocks_InlineFenceKeepsFirstWord(t *testing.T) {
	blocks := utils.FencedBlocks("```Mara turned the key.```")
	require.Len(t, blocks, 1)
	assert.Empty(t, blocks[0].Lang)
	assert.Equal(t, "Mara turned the key.", blocks[0].Body)
}

func TestOutsideFences(t *testing.T) {
	assert.Equal(t, "Before.\n\nAfter.", utils.OutsideFences("Before.\n```json\n{\"a\":1}\n```\nAfter."))
	assert.Equal(t, "never closed", utils.OutsideFences("```\nnever closed"))
}

func TestLastN(t *testing.T) {
	assert.Equal(t, []int{3, 4}, utils.LastN([]int{1, 2, 3, 4}, 2))
	assert.Equal(t, []int{1}, utils.LastN([]int{1}, 5))
	assert.Nil(t, utils.LastN([]int{1}, 0))
}

func TestStringShort(t *testing.T) {
	assert.Equal(t, "abc", utils.StringShort("abc", 5))
	assert.Equal(t, "ab...", utils.StringShort("abcdefgh", 5))
}

func TestReadSecret(t *testing.T) {
	dir := t.TempDir()
	old := utils.SecretsDir
	utils.SecretsDir = dir
	t.Cleanup(func() { utils.SecretsDir = old })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "api_key"), []byte("  secret\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), []byte("   "), 0o600))

	v, err := utils.ReadSecret("api_key")
	require.NoError(t, err)
	assert.Equal(t, "secret", v)

	_, err = utils.ReadSecret("empty")
	assert.Error(t, err)

	_, err = utils.ReadSecret("missing")
	assert.Error(t, err)
}
