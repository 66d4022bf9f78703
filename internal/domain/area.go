package domain

// DemographicArea — демографическая зона с настройками маршрутизации
// заказов по провайдерам.
//
// Настройки read-only во время работы: загружаются один раз при старте
// процесса (immutable snapshot) и обновляются только деплоем.
type DemographicArea struct {
	// AreaID — идентификатор зоны.
	AreaID string `json:"area_id"`

	// Rules — упорядоченный список правил. Правила вычисляются в
	// порядке списка, выигрывает первое совпавшее.
	Rules []RoutingRule `json:"rules"`
}

// RoutingRule — одно правило выбора провайдера.
type RoutingRule struct {
	// Name — имя правила для логов.
	Name string `json:"name"`

	// Priority — приоритет. Используется только для tie-break
	// логирования, НЕ для порядка вычисления (порядок задаёт список).
	Priority int `json:"priority"`

	// Provider — имя провайдера, возвращаемое при совпадении.
	Provider string `json:"provider"`

	// Condition — дерево условий правила.
	Condition Condition `json:"condition"`
}

// ConditionOp — операция узла дерева условий.
type ConditionOp string

const (
	// OpFact — листовой узел с фактом.
	OpFact ConditionOp = "fact"

	// OpAnd — все дочерние узлы истинны (бинарная форма ALL-OF).
	OpAnd ConditionOp = "and"

	// OpOr — хотя бы один дочерний узел истинен (бинарная форма ANY-OF).
	OpOr ConditionOp = "or"

	// OpAllOf — все дочерние узлы истинны.
	OpAllOf ConditionOp = "all-of"

	// OpAnyOf — хотя бы один дочерний узел истинен.
	OpAnyOf ConditionOp = "any-of"
)

// Condition — узел булева дерева условий.
//
// Либо композитный узел (Op and/or/all-of/any-of + Children),
// либо лист (Op fact + Fact).
type Condition struct {
	Op       ConditionOp `json:"op"`
	Children []Condition `json:"children,omitempty"`
	Fact     *Fact       `json:"fact,omitempty"`
}

// FactKind — тип факта в листовом узле.
type FactKind string

const (
	// FactPercentage — попадание детерминированного percentage roll
	// заказа в полуинтервал [Min, Max).
	FactPercentage FactKind = "percentage"

	// FactDate — совпадение календарной даты (например, фиксированный
	// праздник).
	FactDate FactKind = "date"

	// FactOrigin — явный allow-list идентификаторов источника (ресторана).
	FactOrigin FactKind = "origin"
)

// Fact — листовое условие.
type Fact struct {
	Kind FactKind `json:"kind"`

	// Min, Max — границы для FactPercentage: roll ∈ [Min, Max).
	Min int `json:"min,omitempty"`
	Max int `json:"max,omitempty"`

	// Dates — даты для FactDate в формате "MM-DD" (ежегодно)
	// или "YYYY-MM-DD" (конкретный день).
	Dates []string `json:"dates,omitempty"`

	// Origins — allow-list для FactOrigin.
	Origins []string `json:"origins,omitempty"`
}
