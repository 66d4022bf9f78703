// Package cli реализует операционный инструмент командной строки.
//
// В отличие от остальных компонентов CLI работает напрямую с Postgres:
// просмотр заказов, снятие зависших блокировок и загрузка правил зон
// нужны и тогда, когда процессы системы недоступны.
//
// Данные выводятся в stdout (таблица или JSON с флагом --json),
// сообщения — в stderr, поэтому вывод дружит с pipe:
//
//	dispatch orders list --json | jq .
package cli
