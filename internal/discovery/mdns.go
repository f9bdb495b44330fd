// ABOUTME: mDNS service discovery for MIDI routers
// ABOUTME: Advertises the websocket endpoint and browses for routers on the local network
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"

	"github.com/Resonate-Protocol/resonate-midi/pkg/netmidi"
)

// ServiceType is the mDNS service routers advertise
const ServiceType = "_resonate-midi._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	SampleRate  int
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	routers chan *RouterInfo

	// query runs one mDNS query; replaced in tests
	query func(*mdns.QueryParam) error
}

// RouterInfo describes a discovered router
type RouterInfo struct {
	Name       string
	Host       string
	Port       int
	Path       string
	SampleRate int // 0 when not advertised
}

// Addr returns host:port for dialing
func (r *RouterInfo) Addr() string {
	return net.JoinHostPort(r.Host, fmt.Sprint(r.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		routers: make(chan *RouterInfo, 10),
		query:   mdns.Query,
	}
}

// txtRecords describes the endpoint to browsers
func (m *Manager) txtRecords() []string {
	txt := []string{"path=" + netmidi.Path, fmt.Sprintf("version=%d", netmidi.ProtocolVersion)}
	if m.config.SampleRate > 0 {
		txt = append(txt, fmt.Sprintf("sample_rate=%d", m.config.SampleRate))
	}
	return txt
}

// Advertise advertises this router via mDNS until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.txtRecords(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	zap.S().Infof("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for routers until Stop, publishing them on Routers
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				info := routerFromEntry(entry)
				zap.S().Debugf("Discovered router: %s at %s", info.Name, info.Addr())

				select {
				case m.routers <- info:
				case <-m.ctx.Done():
				}
			}
		}()

		params := mdns.DefaultParams(ServiceType)
		params.Timeout = 3 * time.Second
		params.Entries = entries
		params.DisableIPv6 = true

		if err := m.query(params); err != nil {
			zap.S().Debugf("mDNS query failed: %v", err)
		}
		close(entries)
		<-done
	}
}

// Discover browses for d, then stops the manager and returns every router
// seen, once each, in discovery order
func (m *Manager) Discover(d time.Duration) []*RouterInfo {
	m.Browse()
	defer m.Stop()

	timer := time.NewTimer(d)
	defer timer.Stop()

	seen := make(map[string]bool)
	var found []*RouterInfo
	for {
		select {
		case info := <-m.routers:
			key := info.Name + "@" + info.Addr()
			if seen[key] {
				continue
			}
			seen[key] = true
			found = append(found, info)
		case <-timer.C:
			return found
		}
	}
}

// Routers returns the channel of discovered routers
func (m *Manager) Routers() <-chan *RouterInfo {
	return m.routers
}

// Stop stops advertising and browsing
func (m *Manager) Stop() {
	m.cancel()
}

// Lookup runs a single query and returns the first router found
func Lookup(timeout time.Duration) (*RouterInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 10)

	params := mdns.DefaultParams(ServiceType)
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true

	go func() {
		if err := mdns.Query(params); err != nil {
			zap.S().Debugf("mDNS query failed: %v", err)
		}
		close(entries)
	}()

	var found *RouterInfo
	for entry := range entries {
		if found == nil {
			found = routerFromEntry(entry)
		}
	}
	if found == nil {
		return nil, fmt.Errorf("no %s service found within %v", ServiceType, timeout)
	}
	return found, nil
}

func routerFromEntry(entry *mdns.ServiceEntry) *RouterInfo {
	info := &RouterInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Port: entry.Port,
		Path: netmidi.Path,
	}
	if entry.AddrV4 != nil {
		info.Host = entry.AddrV4.String()
	} else {
		info.Host = entry.Host
	}
	for _, field := range entry.InfoFields {
		if path, ok := strings.CutPrefix(field, "path="); ok {
			info.Path = path
		}
		if rate, ok := strings.CutPrefix(field, "sample_rate="); ok {
			info.SampleRate, _ = strconv.Atoi(rate)
		}
	}
	return info
}

// getLocalIPs returns local IP addresses
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
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
