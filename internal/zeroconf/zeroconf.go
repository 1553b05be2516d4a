// Package zeroconf advertises the settings daemon as an mDNS/DNS-SD service
// so extensions on the LAN can discover it.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type the daemon registers.
const ServiceType = "_seqta-settings._tcp"

// Service manages mDNS service registration.
type Service struct {
	name string // instance name, e.g. the hostname
	port int
	txt  []string
}

// New creates a zeroconf Service that will advertise on the given port with
// version and backend in its TXT record.
func New(name string, port int, version, backend string) *Service {
	return &Service{
		name: name,
		port: port,
		txt:  TXT(version, backend),
	}
}

// TXT builds the TXT record for a daemon. Empty fields are omitted.
func TXT(version, backend string) []string {
	var txt []string
	if version != "" {
		txt = append(txt, "version="+version)
	}
	if backend != "" {
		txt = append(txt, "backend="+backend)
	}
	return txt
}

// Records returns a copy of the TXT records.
func (s *Service) Records() []string { return slices.Clone(s.txt) }

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	if s.port <= 0 {
		return fmt.Errorf("zeroconf: invalid port %d", s.port)
	}

	server, err := zeroconf.Register(
		s.name,      // instance name
		ServiceType, // service type
		"local.",    // domain
		s.port,      // port
		s.txt,       // TXT records
		nil,         // ifaces: nil means all interfaces
	)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	slog.Info("zeroconf: registered mDNS service",
		"name", s.name,
		"type", ServiceType,
		"port", s.port,
		"txt", s.txt,
	)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}
