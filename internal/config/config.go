package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config — параметры процессов, читаются из окружения один раз при
// старте. Нулевые/отсутствующие значения заменяются дефолтами.
type Config struct {
	// DBURL — строка подключения Postgres.
	DBURL string

	// RabbitMQURL — строка подключения RabbitMQ.
	RabbitMQURL string

	// SolverURL — базовый URL солвера.
	SolverURL string

	// NotifyURL — базовый URL канала уведомлений
	// (рестораны, водители, провайдеры).
	NotifyURL string

	// RestaurantAckTimeout — heartbeat ожидания подтверждения ресторана.
	RestaurantAckTimeout time.Duration

	// DeliveryTimeout — heartbeat ожидания статуса доставки.
	DeliveryTimeout time.Duration

	// DriverAckTimeout — срок подтверждения instant-назначения водителем.
	DriverAckTimeout time.Duration

	// SolverPollInterval — интервал опроса солвера.
	SolverPollInterval time.Duration

	// DispatchTimeout — execution timeout одного прогона диспетчера
	// (ограничивает цикл опроса солвера).
	DispatchTimeout time.Duration

	// LockTTL — TTL блокировок водителей и заказов.
	LockTTL time.Duration

	// MaxBatchSize — максимальный размер same-day batch.
	MaxBatchSize int

	// MaxBatchWait — максимальное ожидание первого заказа в partition
	// до запечатывания незаполненного batch.
	MaxBatchWait time.Duration

	// ClusterRadiusKm — радиус instant-кластера.
	ClusterRadiusKm float64

	// ClusterBias — смещение жадной кластеризации к плотным центроидам.
	ClusterBias float64

	// MaxTaskAttempts — максимум попыток задачи worker-пула.
	MaxTaskAttempts int

	// SweepIterations / SweepInterval — внутренний цикл sweep за один
	// host tick.
	SweepIterations int
	SweepInterval   time.Duration

	// InternalProviders — провайдеры собственного диспетчерского
	// конвейера: имя → режим ("instant" или "sameday").
	InternalProviders map[string]string

	// SealCadence, ClusterCadence, SweepCadence — cron-выражения
	// периодических задач scheduler'а.
	SealCadence    string
	ClusterCadence string
	SweepCadence   string
}

// Load читает конфигурацию из окружения, подставляя дефолты.
func Load() *Config {
	return &Config{
		DBURL:                envString("DB_URL", ""),
		RabbitMQURL:          envString("RABBITMQ_URL", ""),
		SolverURL:            envString("SOLVER_URL", "http://localhost:8090"),
		NotifyURL:            envString("NOTIFY_URL", "http://localhost:8091"),
		RestaurantAckTimeout: envDuration("RESTAURANT_ACK_TIMEOUT", 5*time.Minute),
		DeliveryTimeout:      envDuration("DELIVERY_TIMEOUT", 90*time.Minute),
		DriverAckTimeout:     envDuration("DRIVER_ACK_TIMEOUT", 60*time.Second),
		SolverPollInterval:   envDuration("SOLVER_POLL_INTERVAL", 5*time.Second),
		DispatchTimeout:      envDuration("DISPATCH_TIMEOUT", 10*time.Minute),
		LockTTL:              envDuration("LOCK_TTL", 2*time.Minute),
		MaxBatchSize:         envInt("MAX_BATCH_SIZE", 40),
		MaxBatchWait:         envDuration("MAX_BATCH_WAIT", 30*time.Minute),
		ClusterRadiusKm:      envFloat("CLUSTER_RADIUS_KM", 2.5),
		ClusterBias:          envFloat("CLUSTER_BIAS", 1.0),
		MaxTaskAttempts:      envInt("MAX_TASK_ATTEMPTS", 5),
		SweepIterations:      envInt("SWEEP_ITERATIONS", 4),
		SweepInterval:        envDuration("SWEEP_INTERVAL", 15*time.Second),
		InternalProviders:    envPairs("INTERNAL_PROVIDERS", map[string]string{"FleetInstant": "instant", "FleetSameday": "sameday"}),
		SealCadence:          envString("SEAL_CADENCE", "@every 30s"),
		ClusterCadence:       envString("CLUSTER_CADENCE", "@every 30s"),
		SweepCadence:         envString("SWEEP_CADENCE", "@every 1m"),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// envPairs парсит список "имя=значение" через запятую:
// INTERNAL_PROVIDERS="FleetInstant=instant,FleetSameday=sameday".
func envPairs(key string, def map[string]string) map[string]string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		name, mode, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" || mode == "" {
			continue
		}
		out[name] = mode
	}
	return out
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
