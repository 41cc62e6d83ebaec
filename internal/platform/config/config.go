package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"chant/contexts/deliberation/engine/domain/entities"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string
	HTTPPort     string
	PostgresDSN  string
	KafkaBrokers []string

	Engine entities.EngineConfig

	WorkerInterval    time.Duration
	WorkerBatchSize   int
	EnableOutboxRelay bool
	EnableFinalizers  bool
}

func Load() (Config, error) {
	// Missing .env is fine; container deployments inject real env vars.
	_ = godotenv.Load()

	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "chant"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	var brokers []string
	for _, value := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	engineConfig := entities.DefaultEngineConfig()
	engineConfig.TargetCellSize = envInt("ENGINE_TARGET_CELL_SIZE", engineConfig.TargetCellSize)
	engineConfig.MinCellSize = envInt("ENGINE_MIN_CELL_SIZE", engineConfig.MinCellSize)
	engineConfig.MaxCellSize = envInt("ENGINE_MAX_CELL_SIZE", engineConfig.MaxCellSize)
	engineConfig.PointBudget = envInt("ENGINE_POINT_BUDGET", engineConfig.PointBudget)
	engineConfig.RecycleFloor = envInt("ENGINE_RECYCLE_FLOOR", engineConfig.RecycleFloor)
	engineConfig.RetryCap = envInt("ENGINE_RETRY_CAP", engineConfig.RetryCap)
	engineConfig.TargetVotersPerCell = envInt("ENGINE_TARGET_VOTERS_PER_CELL", engineConfig.TargetVotersPerCell)
	engineConfig.MinForcedVotes = envInt("ENGINE_MIN_FORCED_VOTES", engineConfig.MinForcedVotes)
	engineConfig.ReservationTTL = envDuration("ENGINE_RESERVATION_TTL", engineConfig.ReservationTTL)
	engineConfig.GraceWindow = envDuration("ENGINE_GRACE_WINDOW", engineConfig.GraceWindow)
	engineConfig.MustVoteExtension = envDuration("ENGINE_MUST_VOTE_EXTENSION", engineConfig.MustVoteExtension)
	engineConfig.HumanPriorityWindow = envDuration("ENGINE_HUMAN_PRIORITY_WINDOW", engineConfig.HumanPriorityWindow)
	engineConfig.SupermajorityDelay = envDuration("ENGINE_SUPERMAJORITY_DELAY", engineConfig.SupermajorityDelay)
	engineConfig.LegacyPlurality = envBool("ENGINE_LEGACY_PLURALITY", engineConfig.LegacyPlurality)

	return Config{
		ServiceName:  service,
		HTTPPort:     port,
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		KafkaBrokers: brokers,

		Engine: engineConfig,

		WorkerInterval:    envDuration("WORKER_INTERVAL", 2*time.Second),
		WorkerBatchSize:   envInt("WORKER_BATCH_SIZE", 100),
		EnableOutboxRelay: envBool("ENABLE_OUTBOX_RELAY", true),
		EnableFinalizers:  envBool("ENABLE_FINALIZERS", true),
	}, nil
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
