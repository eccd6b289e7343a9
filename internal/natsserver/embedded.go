// Package natsserver runs an in-process NATS server with JetStream for
// single-node deployments.
package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

type Config struct {
	// Port 0 picks the default 4222; -1 picks a free port.
	Port       int
	StoreDir   string
	MaxPayload int32
}

type Server struct {
	ns *server.Server
}

type Stats struct {
	Clients       int    `json:"clients"`
	Subscriptions uint32 `json:"subscriptions"`
	InMsgs        int64  `json:"in_msgs"`
	OutMsgs       int64  `json:"out_msgs"`
	SlowConsumers int64  `json:"slow_consumers"`
}

// Start boots the server and waits until it accepts connections.
func Start(cfg Config) (*Server, error) {
	if cfg.Port == 0 {
		cfg.Port = 4222
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = 8 * 1024 * 1024
	}

	opts := &server.Options{
		Host:          "127.0.0.1",
		Port:          cfg.Port,
		NoLog:         true,
		NoSigs:        true,
		MaxPayload:    cfg.MaxPayload,
		WriteDeadline: 10 * time.Second,
		JetStream:     true,
		StoreDir:      cfg.StoreDir,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after 5s")
	}
	slog.Info("embedded nats started", "url", ns.ClientURL(), "store_dir", cfg.StoreDir)
	return &Server{ns: ns}, nil
}

func (s *Server) ClientURL() string {
	return s.ns.ClientURL()
}

func (s *Server) Stats() Stats {
	st := Stats{
		Clients:       s.ns.NumClients(),
		Subscriptions: s.ns.NumSubscriptions(),
	}
	if varz, err := s.ns.Varz(nil); err == nil && varz != nil {
		st.InMsgs = varz.InMsgs
		st.OutMsgs = varz.OutMsgs
		st.SlowConsumers = varz.SlowConsumers
	}
	return st
}

func (s *Server) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
	slog.Info("embedded nats stopped")
}
