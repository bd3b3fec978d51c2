// Package codec holds the JSON shape of a progression record shared by the
// file and Redis stores. The layout matches the legacy data.json written by
// the first version of the bot, so old files load without conversion:
//
//	{"123": {"chat_xp": 0, "chat_level": 1, "voice_xp": 0, "voice_level": 1}}
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
)

// RecordDTO is the serialized form of one member's progress.
type RecordDTO struct {
	ChatXP     int `json:"chat_xp"`
	ChatLevel  int `json:"chat_level"`
	VoiceXP    int `json:"voice_xp"`
	VoiceLevel int `json:"voice_level"`
}

// FromRecord converts a domain record.
func FromRecord(r progression.Record) RecordDTO {
	return RecordDTO{
		ChatXP:     r.Chat.XP,
		ChatLevel:  r.Chat.Level,
		VoiceXP:    r.Voice.XP,
		VoiceLevel: r.Voice.Level,
	}
}

// ToRecord converts back to a domain record. Missing levels (0) become 1.
func (d RecordDTO) ToRecord() progression.Record {
	rec := progression.Record{
		Chat:  progression.Track{Level: d.ChatLevel, XP: d.ChatXP},
		Voice: progression.Track{Level: d.VoiceLevel, XP: d.VoiceXP},
	}
	if rec.Chat.Level == 0 {
		rec.Chat.Level = 1
	}
	if rec.Voice.Level == 0 {
		rec.Voice.Level = 1
	}
	return rec
}

// EncodeRecord marshals a single record.
func EncodeRecord(r progression.Record) ([]byte, error) {
	return json.Marshal(FromRecord(r))
}

// DecodeRecord unmarshals a single record.
func DecodeRecord(data []byte) (progression.Record, error) {
	var dto RecordDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return progression.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return dto.ToRecord(), nil
}

// EncodeTable marshals a whole table with four-space indentation.
// Keys come out sorted, so identical tables produce identical bytes.
func EncodeTable(t progression.Table) ([]byte, error) {
	out := make(map[string]RecordDTO, len(t))
	for id, rec := range t {
		out[id] = FromRecord(rec)
	}
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode table: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeTable unmarshals a whole table. Empty input is an empty table.
func DecodeTable(data []byte) (progression.Table, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return progression.Table{}, nil
	}

	var in map[string]RecordDTO
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}

	table := make(progression.Table, len(in))
	for id, dto := range in {
		table[id] = dto.ToRecord()
	}
	return table, nil
}
