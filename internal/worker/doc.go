// Package worker реализует stateless worker pool для выполнения
// команд: уведомлений ресторанам и водителям, передачи заказов внешним
// провайдерам и периодической кластеризации instant-заказов.
//
// Задачи приходят из очереди tasks.ready; потерянные сообщения
// подхватывает polling по таблице tasks. Retry управляется
// классификацией ошибок пакета taskerr.
package worker
