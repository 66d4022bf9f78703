// Package domain содержит типы предметной области: заказы, блокировки,
// демографические зоны с правилами маршрутизации, батчи, задачи и
// callback-токены.
//
// Типы не зависят от инфраструктуры (БД, очереди) и используются
// всеми остальными пакетами.
package domain
