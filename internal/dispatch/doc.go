// Package dispatch реализует диспетчерский конвейер внутреннего
// провайдера: кластеризацию instant-заказов, запечатывание same-day
// батчей и распределение заказов по водителям через внешний солвер.
//
// Конвейер состоит из трёх частей:
//
//   - Sealer периодически собирает same-day заказы в батчи по зонам
//     и запечатывает их по размеру или возрасту;
//   - InstantDispatcher принимает готовые кластеры, получает от
//     солвера назначения и закрепляет водителей под блокировками;
//   - SamedayDispatcher принимает запечатанные батчи и рассылает
//     построенные солвером delivery jobs.
//
// Все изменения статусов заказов — CAS-обновления: конкурирующие
// экземпляры диспетчера не теряют обновления друг друга, проигравший
// шаг становится no-op.
package dispatch
