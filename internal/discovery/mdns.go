// ABOUTME: mDNS discovery of avslink gateways
// ABOUTME: The gateway advertises _avslink._tcp; device simulators browse for it
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/avslink/avslink-go/internal/version"
	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

// ServiceType is the DNS-SD service type of gateways
const ServiceType = "_avslink._tcp"

// Config holds advertisement configuration
type Config struct {
	ServiceName string
	Port        int
	// PerDevicePorts tells devices to connect to Port + id - 1
	PerDevicePorts bool
	// HandshakeVersion is advertised so legacy devices can check compatibility
	HandshakeVersion int
}

// ServerInfo describes a discovered gateway
type ServerInfo struct {
	Name             string
	Host             string
	Port             int
	PerDevicePorts   bool
	HandshakeVersion int
	Version          string
}

// Addr returns host:port for a device with the given id
func (s ServerInfo) Addr(deviceID uint32) string {
	port := s.Port
	if s.PerDevicePorts && deviceID > 0 {
		port += int(deviceID) - 1
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// Advertise publishes the gateway until ctx is cancelled
func Advertise(ctx context.Context, config Config) error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		config.ServiceName,
		ServiceType,
		"",
		"",
		config.Port,
		ips,
		txtRecords(config),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Info().Str("name", config.ServiceName).Int("port", config.Port).Str("type", ServiceType).Msg("advertising gateway")

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	return nil
}

func txtRecords(config Config) []string {
	return []string{
		"version=" + version.Version,
		"handshake=" + strconv.Itoa(config.HandshakeVersion),
		"perdevice=" + strconv.FormatBool(config.PerDevicePorts),
	}
}

// Browse queries for gateways until one is found, ctx is cancelled or
// timeout elapses. Each query round lasts interval.
func Browse(ctx context.Context, timeout, interval time.Duration) (ServerInfo, error) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		entries := make(chan *mdns.ServiceEntry, 10)
		found := make(chan ServerInfo, 1)
		drained := make(chan struct{})

		go func() {
			defer close(drained)
			for entry := range entries {
				info, ok := fromEntry(entry)
				if !ok {
					continue
				}
				select {
				case found <- info:
				default:
				}
			}
		}()

		params := mdns.DefaultParams(ServiceType)
		params.Entries = entries
		params.Timeout = interval
		params.DisableIPv6 = true
		if err := mdns.Query(params); err != nil {
			log.Debug().Err(err).Msg("mdns query failed")
		}
		close(entries)
		<-drained

		select {
		case info := <-found:
			log.Info().Str("name", info.Name).Str("host", info.Host).Int("port", info.Port).Msg("discovered gateway")
			return info, nil
		default:
		}

		select {
		case <-ctx.Done():
			return ServerInfo{}, fmt.Errorf("no gateway found: %w", ctx.Err())
		default:
		}
	}
}

func fromEntry(entry *mdns.ServiceEntry) (ServerInfo, bool) {
	if entry == nil || entry.AddrV4 == nil || !strings.Contains(entry.Name, ServiceType) {
		return ServerInfo{}, false
	}

	info := ServerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}
	for _, field := range entry.InfoFields {
		key, value, _ := strings.Cut(field, "=")
		switch key {
		case "version":
			info.Version = value
		case "handshake":
			info.HandshakeVersion, _ = strconv.Atoi(value)
		case "perdevice":
			info.PerDevicePorts, _ = strconv.ParseBool(value)
		}
	}
	return info, true
}

// getLocalIPs returns local IPv4 addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	return ips, nil
}
