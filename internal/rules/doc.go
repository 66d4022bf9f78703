// Package rules реализует движок выбора провайдера доставки.
//
// Движок — чистая функция над неизменяемыми настройками
// демографической зоны: (зона, детерминированный percentage roll,
// календарная дата, allow-list источников) → имя провайдера.
//
// Правила вычисляются строго в порядке списка, выигрывает первое
// совпавшее; priority используется только для tie-break логирования.
package rules
