package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
)

const legacyFile = `{
    "111": {
        "chat_xp": 40,
        "chat_level": 3,
        "voice_xp": 0,
        "voice_level": 1
    },
    "222": {
        "chat_xp": 0,
        "voice_xp": 50
    }
}`

func TestDecodeTable_LegacyLayout(t *testing.T) {
	table, err := DecodeTable([]byte(legacyFile))
	require.NoError(t, err)
	require.Len(t, table, 2)

	assert.Equal(t, progression.Record{
		Chat:  progression.Track{Level: 3, XP: 40},
		Voice: progression.Track{Level: 1, XP: 0},
	}, table["111"])

	// Missing levels default to 1.
	assert.Equal(t, 1, table["222"].Chat.Level)
	assert.Equal(t, progression.Track{Level: 1, XP: 50}, table["222"].Voice)
}

func TestDecodeTable_Empty(t *testing.T) {
	for _, in := range []string{"", "  \n", "{}"} {
		table, err := DecodeTable([]byte(in))
		require.NoError(t, err, "input %q", in)
		assert.Empty(t, table)
		assert.NotNil(t, table)
	}
}

func TestDecodeTable_Corrupt(t *testing.T) {
	_, err := DecodeTable([]byte(`{"111": {"chat_xp": "lots"}`))
	assert.Error(t, err)
}

func TestEncodeTable_Stable(t *testing.T) {
	table := progression.Table{
		"b": progression.DefaultRecord(),
		"a": {Chat: progression.Track{Level: 2, XP: 10}, Voice: progression.DefaultTrack()},
	}

	first, err := EncodeTable(table)
	require.NoError(t, err)
	second, err := EncodeTable(table.Clone())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Contains(t, string(first), "\n    \"a\": {\n        \"chat_xp\": 10,")

	back, err := DecodeTable(first)
	require.NoError(t, err)
	assert.Equal(t, table, back)
}

func TestRecordCodec(t *testing.T) {
	rec := progression.Record{
		Chat:  progression.Track{Level: 4, XP: 5},
		Voice: progression.Track{Level: 2, XP: 150},
	}
	data, err := EncodeRecord(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"chat_xp":5,"chat_level":4,"voice_xp":150,"voice_level":2}`, string(data))

	back, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec, back)

	_, err = DecodeRecord([]byte("nope"))
	assert.Error(t, err)
}
