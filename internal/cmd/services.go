package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/reelsync/reelsync/internal/gateway"
	"github.com/reelsync/reelsync/internal/journal"
	"github.com/reelsync/reelsync/internal/party"
	"github.com/reelsync/reelsync/internal/relay"
)

// Services holds every wired component.
type Services struct {
	Party   *party.Service
	Gateway *gateway.Service
	Relay   *relay.Relay
	Journal *journal.Journal
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	clock := clockwork.NewRealClock()

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	services := &Services{}

	// With NATS configured, accepted events go through the relay so every
	// node fans out to its own sessions; otherwise broadcast in-process.
	var broadcaster party.Broadcaster = cm
	if natsURL := getEnv("NATS_URL", ""); natsURL != "" {
		relayConfig := relay.DefaultConfig()
		relayConfig.URL = natsURL
		relayConfig.ConsumerName = getEnv("RELAY_CONSUMER", relayConfig.ConsumerName)

		r, err := relay.NewRelay(cm, relayConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create relay: %w", err)
		}
		services.Relay = r
		broadcaster = r
		log.Info().Str("url", natsURL).Msg("event relay enabled")
	}

	// Optional durable journal of playback revisions and chat sequences.
	var partyJournal party.Journal
	if dsn := getEnv("DATABASE_URL", ""); dsn != "" {
		j, err := journal.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		services.Journal = j
		partyJournal = j
		log.Info().Msg("journal enabled")
	}

	partyConfig := party.DefaultConfig()
	if config.Party.HeartbeatInterval > 0 {
		partyConfig.HeartbeatInterval = time.Duration(config.Party.HeartbeatInterval)
	}
	if config.Party.HeartbeatMisses > 0 {
		partyConfig.HeartbeatMisses = config.Party.HeartbeatMisses
	}
	if config.Party.ReclaimGrace > 0 {
		partyConfig.Registry.ReclaimGrace = time.Duration(config.Party.ReclaimGrace)
	}
	if config.Party.ChatHistoryLimit > 0 {
		partyConfig.ChatHistoryLimit = config.Party.ChatHistoryLimit
	}
	// Env beats the yaml file for quick per-node tuning.
	partyConfig.HeartbeatMisses = getEnvAsInt("HEARTBEAT_MISSES", partyConfig.HeartbeatMisses)
	partyConfig.ChatHistoryLimit = getEnvAsInt("CHAT_HISTORY_LIMIT", partyConfig.ChatHistoryLimit)

	services.Party = party.NewService(clock, partyConfig, broadcaster, partyJournal)
	services.Gateway = gateway.NewService(clock, services.Party, cm)

	return services, nil
}

func (s *Services) shutdown() {
	if s.Relay != nil {
		if err := s.Relay.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop relay")
		}
	}
	if s.Journal != nil {
		s.Journal.Close()
	}
	if s.Party != nil {
		s.Party.Close()
	}
}
