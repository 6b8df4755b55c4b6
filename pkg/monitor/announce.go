// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package monitor

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

// ServiceType is the DNS-SD type the stats endpoint is announced as
const ServiceType = "_radiolink._tcp"

// DefaultServiceName returns the instance name used when none is configured
func DefaultServiceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "radiolink"
	}
	return "radiolink on " + host
}

// Announce advertises the stats endpoint on port until ctx is cancelled.
// The responder runs in the background.
func Announce(ctx context.Context, name string, port int, logger *log.Logger) error {
	if name == "" {
		name = DefaultServiceName()
	}
	if logger == nil {
		logger = log.Default().WithPrefix("dns-sd")
	}

	sv, err := dnssd.NewService(dnssd.Config{
		Name: name,
		Type: ServiceType,
		Port: port,
		Text: map[string]string{"path": StatsPath},
	})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("create responder: %w", err)
	}
	if _, err := rp.Add(sv); err != nil {
		return fmt.Errorf("add service: %w", err)
	}

	logger.Info("announcing statistics", "name", name, "type", ServiceType, "port", port)
	go func() {
		if err := rp.Respond(ctx); err != nil && ctx.Err() == nil {
			logger.Error("responder stopped", "error", err)
		}
	}()
	return nil
}

// Endpoint is a stats server found on the local network
type Endpoint struct {
	Name string
	Host string
	Port int
	URL  string
}

// endpointURL builds the WebSocket URL of a browse result, preferring a
// resolved IPv4 address over the advertised host name
func endpointURL(host string, ips []net.IP, port int, text map[string]string) string {
	addr := strings.TrimSuffix(host, ".")
	for _, ip := range ips {
		if ip.To4() != nil {
			addr = ip.String()
			break
		}
	}
	path := text["path"]
	if path == "" {
		path = StatsPath
	}
	return "ws://" + net.JoinHostPort(addr, strconv.Itoa(port)) + path
}

// Browse reports every stats endpoint announced on the local network until
// ctx is cancelled. found may be called more than once for the same
// endpoint when it answers on several interfaces.
func Browse(ctx context.Context, found func(Endpoint)) error {
	add := func(e dnssd.BrowseEntry) {
		found(Endpoint{
			Name: e.Name,
			Host: e.Host,
			Port: e.Port,
			URL:  endpointURL(e.Host, e.IPs, e.Port, e.Text),
		})
	}
	rmv := func(dnssd.BrowseEntry) {}

	err := dnssd.LookupType(ctx, ServiceType+".local.", add, rmv)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
