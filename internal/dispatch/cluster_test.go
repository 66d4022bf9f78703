package dispatch

import (
	"testing"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

func orderAt(areaID string, lat, lon float64) domain.Order {
	order := domain.NewOrder("rest-1", "cust-1", areaID,
		domain.Coordinate{Lat: lat, Lon: lon},
		domain.Coordinate{Lat: lat + 0.05, Lon: lon + 0.05},
	)
	return *order
}

func TestBuildClustersGroupsNearbyOrigins(t *testing.T) {
	// Две точки в ~150 м друг от друга и одна в ~10 км.
	orders := []domain.Order{
		orderAt("area-1", 55.7500, 37.6100),
		orderAt("area-1", 55.7510, 37.6110),
		orderAt("area-1", 55.8400, 37.6100),
	}

	clusters := BuildClusters(orders, ClusterConfig{RadiusKm: 2.5, Bias: 1.0})

	if len(clusters) != 2 {
		t.Fatalf("clusters = %d, want 2", len(clusters))
	}
	if len(clusters[0].Orders) != 2 {
		t.Fatalf("first cluster size = %d, want 2", len(clusters[0].Orders))
	}
	if len(clusters[1].Orders) != 1 {
		t.Fatalf("second cluster size = %d, want 1", len(clusters[1].Orders))
	}
}

func TestBuildClustersNeverMixesAreas(t *testing.T) {
	// Одна и та же точка, разные зоны.
	orders := []domain.Order{
		orderAt("area-1", 55.75, 37.61),
		orderAt("area-2", 55.75, 37.61),
	}

	clusters := BuildClusters(orders, ClusterConfig{RadiusKm: 2.5, Bias: 1.0})

	if len(clusters) != 2 {
		t.Fatalf("clusters = %d, want 2 (one per area)", len(clusters))
	}
}

func TestBuildClustersBiasWidensRadius(t *testing.T) {
	// ~4.2 км между точками: не входит в 2.5 км, входит в 2.5*2.
	orders := []domain.Order{
		orderAt("area-1", 55.7500, 37.61),
		orderAt("area-1", 55.7878, 37.61),
	}

	tight := BuildClusters(orders, ClusterConfig{RadiusKm: 2.5, Bias: 1.0})
	if len(tight) != 2 {
		t.Fatalf("tight clusters = %d, want 2", len(tight))
	}

	wide := BuildClusters(orders, ClusterConfig{RadiusKm: 2.5, Bias: 2.0})
	if len(wide) != 1 {
		t.Fatalf("wide clusters = %d, want 1", len(wide))
	}
}

func TestBuildClustersCentroidMoves(t *testing.T) {
	orders := []domain.Order{
		orderAt("area-1", 55.7500, 37.6100),
		orderAt("area-1", 55.7520, 37.6120),
	}

	clusters := BuildClusters(orders, ClusterConfig{RadiusKm: 2.5, Bias: 1.0})

	if len(clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(clusters))
	}
	c := clusters[0].Centroid
	if c.Lat <= 55.7500 || c.Lat >= 55.7520 {
		t.Fatalf("centroid lat = %f, want between members", c.Lat)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Москва — Санкт-Петербург, ~634 км.
	moscow := domain.Coordinate{Lat: 55.7558, Lon: 37.6173}
	spb := domain.Coordinate{Lat: 59.9311, Lon: 30.3609}

	got := haversineKm(moscow, spb)
	if got < 600 || got > 660 {
		t.Fatalf("haversine = %f km, want ~634", got)
	}
}
