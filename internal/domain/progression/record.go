package progression

import (
	"strings"

	"github.com/melon-hub/melon-rank/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// KIND
// ══════════════════════════════════════════════════════════════════════════════

// Kind - вид активности, за который начисляется XP.
type Kind string

const (
	// KindChat - сообщения в текстовых каналах.
	KindChat Kind = "chat"

	// KindVoice - присутствие в голосовых каналах.
	KindVoice Kind = "voice"
)

// Kinds возвращает все виды активности в порядке отображения.
func Kinds() []Kind {
	return []Kind{KindChat, KindVoice}
}

// IsValid проверяет, что вид активности известен.
func (k Kind) IsValid() bool {
	return k == KindChat || k == KindVoice
}

// String возвращает строковое представление.
func (k Kind) String() string {
	return string(k)
}

// DisplayName возвращает название для пользователей сервера.
func (k Kind) DisplayName() string {
	switch k {
	case KindChat:
		return "채팅"
	case KindVoice:
		return "음성"
	default:
		return string(k)
	}
}

// ParseKind разбирает вид активности из пользовательского ввода.
// Принимает английские и корейские названия.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chat", "text", "채팅":
		return KindChat, nil
	case "voice", "음성":
		return KindVoice, nil
	default:
		return "", shared.ErrInvalidKind
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRACK & RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Track - прогресс по одному виду активности.
type Track struct {
	// Level - текущий уровень, всегда >= 1.
	Level int

	// XP - опыт, набранный на текущем уровне.
	XP int
}

// MaxLevel - верхняя граница уровня. Вместе с Rules.Validate она гарантирует,
// что Level*XPPerLevelUnit помещается в int.
const MaxLevel = 1_000_000

// DefaultTrack возвращает прогресс нового участника: L1/X0.
func DefaultTrack() Track {
	return Track{Level: 1, XP: 0}
}

// Valid проверяет инвариант 0 <= XP < Level*unit.
func (t Track) Valid(unit int) bool {
	return t.Level >= 1 && t.Level <= MaxLevel && t.XP >= 0 && t.XP < t.Level*unit
}

// normalize приводит трек к инварианту.
// Используется при загрузке снапшота, где данные могли быть изменены вручную.
func (t Track) normalize(unit int) Track {
	if t.Level < 1 {
		t.Level = 1
	}
	if t.Level > MaxLevel {
		t.Level, t.XP = MaxLevel, 0
	}
	if t.XP < 0 {
		t.XP = 0
	}
	if t.XP >= t.Level*unit {
		if t.Level < MaxLevel {
			t.Level++
		}
		t.XP = 0
	}
	return t
}

// Record - запись прогресса одного участника.
type Record struct {
	Chat  Track
	Voice Track
}

// DefaultRecord возвращает запись для участника, которого ещё нет в таблице.
func DefaultRecord() Record {
	return Record{Chat: DefaultTrack(), Voice: DefaultTrack()}
}

// Track возвращает прогресс по указанному виду активности.
func (r Record) Track(kind Kind) Track {
	if kind == KindVoice {
		return r.Voice
	}
	return r.Chat
}

// withTrack возвращает копию записи с заменённым треком.
func (r Record) withTrack(kind Kind, t Track) Record {
	if kind == KindVoice {
		r.Voice = t
	} else {
		r.Chat = t
	}
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// TABLE
// ══════════════════════════════════════════════════════════════════════════════

// Table - снапшот прогресса: member ID -> Record.
// Порядок ключей для хранения не важен.
type Table map[string]Record

// Clone возвращает независимую копию таблицы.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for id, rec := range t {
		out[id] = rec
	}
	return out
}
