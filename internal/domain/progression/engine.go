package progression

import (
	"sort"
	"sync"

	"github.com/melon-hub/melon-rank/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine владеет таблицей прогресса в памяти и применяет правила уровней.
// Таблица в памяти - источник истины, хранилище лишь отстающее зеркало.
type Engine struct {
	rules Rules

	mu      sync.RWMutex
	records map[string]Record
	// seq - порядок вставки, используется для стабильной сортировки при равенстве.
	seq  map[string]uint64
	next uint64
}

// NewEngine создаёт движок с пустой таблицей.
func NewEngine(rules Rules) *Engine {
	return &Engine{
		rules:   rules,
		records: make(map[string]Record),
		seq:     make(map[string]uint64),
	}
}

// Rules возвращает правила движка.
func (e *Engine) Rules() Rules {
	return e.rules
}

// Advancement - результат одного начисления.
type Advancement struct {
	MemberID     string
	Kind         Kind
	Amount       int
	FromLevel    int
	ToLevel      int
	LevelsGained int

	// Track - прогресс после начисления.
	Track Track
}

// LeveledUp возвращает true, если начисление подняло уровень.
func (a Advancement) LeveledUp() bool {
	return a.LevelsGained > 0
}

// Award начисляет amount XP участнику по виду активности kind.
//
// Пока xp >= level*unit, уровень растёт на 1, а xp сбрасывается в 0.
// Неположительная сумма отклоняется с ErrInvalidAmount, запись не меняется.
func (e *Engine) Award(memberID string, kind Kind, amount int) (Advancement, error) {
	if amount <= 0 {
		return Advancement{}, shared.ErrInvalidAmount
	}
	if !kind.IsValid() {
		return Advancement{}, shared.ErrInvalidKind
	}
	id, err := shared.NewMemberID(memberID)
	if err != nil {
		return Advancement{}, err
	}
	key := id.String()

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[key]
	if !ok {
		rec = DefaultRecord()
		e.seq[key] = e.next
		e.next++
	}

	before := rec.Track(kind)
	after := e.apply(before, amount)
	e.records[key] = rec.withTrack(kind, after)

	return Advancement{
		MemberID:     key,
		Kind:         kind,
		Amount:       amount,
		FromLevel:    before.Level,
		ToLevel:      after.Level,
		LevelsGained: after.Level - before.Level,
		Track:        after,
	}, nil
}

// apply добавляет XP и поднимает уровень. Излишек сверх порога отбрасывается,
// поэтому за одно начисление уровень растёт не больше чем на единицу.
// Сравнение идёт с остатком до порога, чтобы сложение не переполнялось.
func (e *Engine) apply(t Track, amount int) Track {
	if amount < e.rules.Required(t.Level)-t.XP {
		t.XP += amount
		return t
	}
	if t.Level < MaxLevel {
		t.Level++
	}
	t.XP = 0
	return t
}

// Record возвращает запись участника или запись по умолчанию.
// Таблица при этом не изменяется.
func (e *Engine) Record(memberID string) Record {
	id, err := shared.NewMemberID(memberID)
	if err != nil {
		return DefaultRecord()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if rec, ok := e.records[id.String()]; ok {
		return rec
	}
	return DefaultRecord()
}

// Contains проверяет, есть ли участник в таблице.
func (e *Engine) Contains(memberID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.records[memberID]
	return ok
}

// Len возвращает количество записей.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.records)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

// Standing - позиция участника в лидерборде.
type Standing struct {
	MemberID string
	Level    int
	XP       int
}

// PresentFilter решает, участвует ли member в лидерборде.
// nil означает "все участники".
type PresentFilter func(memberID string) bool

// Leaderboard возвращает до limit участников, отсортированных по уровню,
// затем по XP (по убыванию). При равенстве сохраняется порядок вставки.
//
// Фильтр применяется до усечения, поэтому limit считает только
// прошедших фильтр участников. Фильтр вызывается без удержания блокировки.
func (e *Engine) Leaderboard(kind Kind, limit int, present PresentFilter) []Standing {
	if limit <= 0 || !kind.IsValid() {
		return []Standing{}
	}

	type row struct {
		Standing
		seq uint64
	}

	e.mu.RLock()
	rows := make([]row, 0, len(e.records))
	for id, rec := range e.records {
		t := rec.Track(kind)
		rows = append(rows, row{
			Standing: Standing{MemberID: id, Level: t.Level, XP: t.XP},
			seq:      e.seq[id],
		})
	}
	e.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.XP != b.XP {
			return a.XP > b.XP
		}
		return a.seq < b.seq
	})

	out := make([]Standing, 0, min(limit, len(rows)))
	for _, r := range rows {
		if len(out) == limit {
			break
		}
		if present != nil && !present(r.MemberID) {
			continue
		}
		out = append(out, r.Standing)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot возвращает копию таблицы для сохранения.
func (e *Engine) Snapshot() Table {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(Table, len(e.records))
	for id, rec := range e.records {
		out[id] = rec
	}
	return out
}

// RestoreStats - итог восстановления таблицы из хранилища.
type RestoreStats struct {
	// Loaded - количество принятых записей.
	Loaded int

	// Repaired - записи, нарушавшие инвариант и приведённые к нему.
	Repaired int

	// Dropped - записи с некорректным member ID.
	Dropped int
}

// Restore заменяет таблицу снапшотом из хранилища.
// Каждая запись приводится к инварианту. Порядок вставки после
// восстановления совпадает с порядком member ID.
func (e *Engine) Restore(table Table) RestoreStats {
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var stats RestoreStats
	records := make(map[string]Record, len(table))
	seq := make(map[string]uint64, len(table))
	var next uint64

	unit := e.rules.XPPerLevelUnit
	for _, id := range ids {
		if !shared.MemberID(id).IsValid() {
			stats.Dropped++
			continue
		}
		rec := table[id]
		fixed := Record{Chat: rec.Chat.normalize(unit), Voice: rec.Voice.normalize(unit)}
		if fixed != rec {
			stats.Repaired++
		}
		records[id] = fixed
		seq[id] = next
		next++
		stats.Loaded++
	}

	e.mu.Lock()
	e.records = records
	e.seq = seq
	e.next = next
	e.mu.Unlock()

	return stats
}
