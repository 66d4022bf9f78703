package rules

import (
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

// Input — входные факты для вычисления правил по одному заказу.
type Input struct {
	// OrderID — идентификатор заказа. Источник percentage roll.
	OrderID uuid.UUID

	// OriginID — идентификатор источника (ресторана) для allow-list фактов.
	OriginID string

	// Date — календарная дата вычисления.
	Date time.Time

	// Exclude — провайдеры, исключённые из подбора (failover).
	Exclude map[string]bool
}

// Match — результат совпадения правила.
type Match struct {
	Provider string
	Rule     string
	Priority int
}

// Engine — движок выбора провайдера по правилам демографической зоны.
//
// Чистая тотальная функция: одинаковые входы всегда дают один и тот же
// результат (требование идемпотентных retry). Percentage roll
// детерминированно вычисляется из id заказа, а не случайно.
//
// Правила вычисляются в порядке списка, выигрывает первое совпавшее.
// Priority влияет только на tie-break логирование: если позже в списке
// есть совпавшее правило с более высоким приоритетом, движок это
// логирует, но выбор не меняет.
type Engine struct {
	logger *slog.Logger
}

// New создаёт Engine.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Select возвращает провайдера первого совпавшего правила зоны.
// Возвращает ok=false, если ни одно правило не совпало или все
// совпавшие провайдеры исключены.
func (e *Engine) Select(area *domain.DemographicArea, in Input) (Match, bool) {
	matches := e.evaluate(area, in)
	if len(matches) == 0 {
		return Match{}, false
	}

	winner := matches[0]

	// Tie-break логирование: первое правило выигрывает по порядку
	// списка, даже если дальше есть совпадение с большим приоритетом.
	for _, m := range matches[1:] {
		if m.Priority > winner.Priority {
			e.logger.Debug("higher-priority rule matched later in list",
				"area_id", area.AreaID,
				"winner", winner.Rule,
				"winner_priority", winner.Priority,
				"shadowed", m.Rule,
				"shadowed_priority", m.Priority,
			)
		}
	}

	return winner, true
}

// evaluate возвращает все совпавшие правила в порядке списка,
// пропуская исключённых провайдеров.
func (e *Engine) evaluate(area *domain.DemographicArea, in Input) []Match {
	if area == nil {
		return nil
	}

	roll := PercentageRoll(in.OrderID)

	var matches []Match
	for i := range area.Rules {
		rule := &area.Rules[i]
		if in.Exclude[rule.Provider] {
			continue
		}
		if evalCondition(&rule.Condition, roll, in) {
			matches = append(matches, Match{
				Provider: rule.Provider,
				Rule:     rule.Name,
				Priority: rule.Priority,
			})
		}
	}
	return matches
}

// PercentageRoll детерминированно отображает id заказа в [0, 100).
func PercentageRoll(orderID uuid.UUID) int {
	h := fnv.New32a()
	h.Write(orderID[:])
	return int(h.Sum32() % 100)
}

// evalCondition рекурсивно вычисляет узел дерева условий.
func evalCondition(c *domain.Condition, roll int, in Input) bool {
	switch c.Op {
	case domain.OpFact:
		return evalFact(c.Fact, roll, in)

	case domain.OpAnd, domain.OpAllOf:
		if len(c.Children) == 0 {
			return false
		}
		for i := range c.Children {
			if !evalCondition(&c.Children[i], roll, in) {
				return false
			}
		}
		return true

	case domain.OpOr, domain.OpAnyOf:
		for i := range c.Children {
			if evalCondition(&c.Children[i], roll, in) {
				return true
			}
		}
		return false

	default:
		// Неизвестная операция не совпадает: тотальность важнее
		// строгости, некорректное правило просто пропускается.
		return false
	}
}

// evalFact вычисляет листовой факт.
func evalFact(f *domain.Fact, roll int, in Input) bool {
	if f == nil {
		return false
	}

	switch f.Kind {
	case domain.FactPercentage:
		return roll >= f.Min && roll < f.Max

	case domain.FactDate:
		return matchDate(f.Dates, in.Date)

	case domain.FactOrigin:
		for _, id := range f.Origins {
			if id == in.OriginID {
				return true
			}
		}
		return false

	default:
		return false
	}
}

// matchDate проверяет дату против списка "MM-DD" (ежегодно)
// или "YYYY-MM-DD" (конкретный день).
func matchDate(dates []string, day time.Time) bool {
	monthDay := day.Format("01-02")
	fullDate := day.Format("2006-01-02")

	for _, d := range dates {
		if d == monthDay || d == fullDate {
			return true
		}
	}
	return false
}
