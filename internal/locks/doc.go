// Package locks реализует менеджер блокировок по ключам (водитель,
// заказ) с владельцем и TTL.
//
// Контракт:
//   - Acquire линеаризуем по ключу: из конкурентных вызовов на один
//     ключ ровно один получает блокировку, остальные — ErrAlreadyLocked.
//   - Истёкшая блокировка (expires_at <= now) эквивалентна отсутствующей:
//     её можно перехватить новым Acquire.
//   - Release идемпотентен и проверяет владельца: снятие отсутствующей
//     блокировки — no-op, снятие чужой — ErrNotOwner без изменений.
//   - ForceRelease снимает блокировку без проверки владельца; им
//     пользуется только sweep-процесс при возврате заказов.
//
// Две реализации: Postgres (рабочая, один conditional write на Acquire)
// и Memory (тесты и локальный запуск).
package locks
