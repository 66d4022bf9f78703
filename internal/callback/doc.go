// Package callback — реестр одноразовых токенов корреляции.
//
// Когда оркестратор приостанавливает шаг до внешнего события
// (подтверждение ресторана, статус доставки), он выдаёт через Issue
// непрозрачный токен с heartbeat-дедлайном. Внешний актор возвращает
// токен в callback'е; Resume атомарно использует его и отдаёт шаг на
// возобновление. Гонку callback против таймера истечения решает
// conditional write в хранилище: выигрывает ровно одна сторона.
package callback
