// Package progression содержит доменную модель прогресса участников сообщества.
//
// Участник зарабатывает опыт (XP) двумя видами активности: сообщениями в
// текстовых каналах и присутствием в голосовых. Для каждого вида активности
// хранится отдельная пара (уровень, XP). Пакет определяет:
//
//   - Value Objects: Kind, Track, Record, Rules
//   - Engine - единственный владелец таблицы прогресса в памяти
//   - Store - контракт хранилища (загрузка и сохранение полного снапшота)
//   - Доменные события: XPAwarded, LevelUp
//
// # Правило уровня
//
// Порог перехода с уровня L равен L * XPPerLevelUnit XP, набранным на этом
// уровне. При достижении порога уровень растёт на 1, а XP обнуляется:
// излишек сверх порога не переносится.
//
//	engine := progression.NewEngine(progression.DefaultRules())
//	adv, err := engine.Award("42", progression.KindChat, 250)
//	// Chat: L1/X0 -> L2/X0, adv.LevelsGained == 1
//
// # Конкурентность
//
// Все методы Engine безопасны для вызова из нескольких горутин: таблица
// защищена одним мьютексом, инвариант 0 <= xp < level*unit проверяется
// внутри критической секции.
package progression
