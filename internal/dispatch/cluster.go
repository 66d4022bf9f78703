package dispatch

import (
	"math"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

const earthRadiusKm = 6371.0

// Cluster — группа instant-заказов с близкими точками забора,
// отправляемая солверу одной задачей.
type Cluster struct {
	AreaID   string
	Centroid domain.Coordinate
	Orders   []domain.Order
}

// ClusterConfig — параметры кластеризации.
type ClusterConfig struct {
	// RadiusKm — максимальное расстояние от точки забора заказа до
	// центроида кластера.
	RadiusKm float64

	// Bias — множитель радиуса. Значения > 1 делают кластеры жаднее
	// (меньше кластеров, больше заказов в каждом).
	Bias float64
}

// BuildClusters группирует заказы в кластеры по близости точек забора.
//
// Жадный проход в порядке списка: заказ присоединяется к первому
// кластеру своей зоны, чей центроид ближе RadiusKm*Bias, иначе
// открывает новый. Центроид пересчитывается инкрементально. Заказы
// разных зон никогда не попадают в один кластер.
func BuildClusters(orders []domain.Order, cfg ClusterConfig) []Cluster {
	radius := cfg.RadiusKm
	if cfg.Bias > 0 {
		radius *= cfg.Bias
	}

	var clusters []Cluster
	for _, order := range orders {
		idx := -1
		for i := range clusters {
			if clusters[i].AreaID != order.AreaID {
				continue
			}
			if haversineKm(clusters[i].Centroid, order.Origin) <= radius {
				idx = i
				break
			}
		}

		if idx < 0 {
			clusters = append(clusters, Cluster{
				AreaID:   order.AreaID,
				Centroid: order.Origin,
				Orders:   []domain.Order{order},
			})
			continue
		}

		c := &clusters[idx]
		n := float64(len(c.Orders))
		c.Centroid.Lat = (c.Centroid.Lat*n + order.Origin.Lat) / (n + 1)
		c.Centroid.Lon = (c.Centroid.Lon*n + order.Origin.Lon) / (n + 1)
		c.Orders = append(c.Orders, order)
	}

	return clusters
}

// haversineKm возвращает расстояние между точками по дуге большого
// круга в километрах.
func haversineKm(a, b domain.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
