package main

import (
	"fmt"
	"time"

	"github.com/mkoval/sortroom/internal/channel"
	"github.com/mkoval/sortroom/internal/gateway"
	"github.com/mkoval/sortroom/internal/registry"
	"github.com/mkoval/sortroom/internal/session"
	"github.com/mkoval/sortroom/internal/transport"
)

// Services bundles the wired server components.
type Services struct {
	Transport transport.Transport
	Registry  *registry.Registry
	Sweeper   *registry.Sweeper
	Channels  *channel.Manager
	Sessions  *session.Coordinator

	ConnectionManager *gateway.ConnectionManager
	API               *gateway.Handler
	WebSocket         *gateway.WebSocketHandler
}

// setupServices wires the dependency chain:
// transport -> registry -> channel manager -> coordinator -> gateway.
func setupServices(config *Config) (*Services, error) {
	tr, err := setupTransport(config)
	if err != nil {
		return nil, err
	}

	regConfig := registry.DefaultConfig()
	if config.Rooms.MaxRooms > 0 {
		regConfig.MaxRooms = config.Rooms.MaxRooms
	}
	if config.Rooms.SoftLimit > 0 {
		regConfig.SoftLimit = config.Rooms.SoftLimit
	}
	if config.Rooms.SweepSeconds > 0 {
		regConfig.SweepInterval = time.Duration(config.Rooms.SweepSeconds) * time.Second
	}
	reg := registry.New(regConfig)

	channels := channel.NewManager(tr)
	sessions := session.NewCoordinator(reg, channels, tr)

	connectionManager := gateway.NewConnectionManager(channels, gateway.DefaultConnectionConfig())
	api := gateway.NewHandler(sessions, channels, tr)
	ws := gateway.NewWebSocketHandler(connectionManager, sessions)

	return &Services{
		Transport:         tr,
		Registry:          reg,
		Sweeper:           registry.NewSweeper(reg),
		Channels:          channels,
		Sessions:          sessions,
		ConnectionManager: connectionManager,
		API:               api,
		WebSocket:         ws,
	}, nil
}

func setupTransport(config *Config) (transport.Transport, error) {
	switch config.Transport.Kind {
	case "memory":
		return transport.NewMemoryTransport(), nil
	case "nats", "":
		natsConfig := transport.DefaultNATSConfig()
		natsConfig.URL = config.Transport.NATSURL
		tr, err := transport.NewNATSTransport(natsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect transport: %w", err)
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", config.Transport.Kind)
	}
}
