package geo

import (
	"net"
	"regexp"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

type Location struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
}

// Client is the address an operation came from.
type Client struct {
	IP       string    `json:"ip"`
	Location *Location `json:"location"`
}

// Locator looks up an address in a geo database. It returns nil when the
// address is not in the database.
type Locator interface {
	Locate(ip net.IP) (*Location, error)
}

var dottedQuadRe = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)\.(\d+)`)

// IsPublicIP is a pattern heuristic, not CIDR arithmetic. It rejects the
// 10/8, 192.168/16 and 172.16/12 ranges by looking at how the first two
// octets end, so e.g. 110.x is treated as private and 127.0.0.1 as public.
func IsPublicIP(addr string) bool {
	m := dottedQuadRe.FindStringSubmatch(addr)
	if m == nil {
		return false
	}
	first, second := m[1], m[2]
	if strings.HasSuffix(first, "10") {
		return false
	}
	if strings.HasSuffix(first, "192") && second == "168" {
		return false
	}
	if strings.HasSuffix(first, "172") && isTwelveBlock(second) {
		return false
	}
	return true
}

// isTwelveBlock matches 16 through 31, written with exactly two digits.
func isTwelveBlock(octet string) bool {
	if len(octet) != 2 {
		return false
	}
	switch octet[0] {
	case '1':
		return octet[1] >= '6'
	case '2':
		return true
	case '3':
		return octet[1] <= '1'
	}
	return false
}

// StripPort drops everything from the first colon on.
func StripPort(endpoint string) string {
	host, _, _ := strings.Cut(endpoint, ":")
	return host
}

// Resolver annotates client endpoints with a location. Lookups are cached
// per address, misses included.
type Resolver struct {
	locator Locator

	mu    sync.Mutex
	cache map[string]*Location
}

func NewResolver(locator Locator) *Resolver {
	return &Resolver{
		locator: locator,
		cache:   make(map[string]*Location),
	}
}

// Resolve returns nil for an empty endpoint.
func (r *Resolver) Resolve(endpoint string) *Client {
	if endpoint == "" {
		return nil
	}
	ip := StripPort(endpoint)
	c := &Client{IP: ip}
	if r == nil || r.locator == nil || !IsPublicIP(ip) {
		return c
	}
	c.Location = r.lookup(ip)
	return c
}

func (r *Resolver) lookup(addr string) *Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	if loc, ok := r.cache[addr]; ok {
		return loc
	}
	var loc *Location
	if ip := net.ParseIP(addr); ip != nil {
		found, err := r.locator.Locate(ip)
		if err == nil {
			loc = found
		}
	}
	r.cache[addr] = loc
	return loc
}

// MaxMind reads a GeoIP2/GeoLite2 City database.
type MaxMind struct {
	reader *geoip2.Reader
}

func OpenMaxMind(path string) (*MaxMind, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &MaxMind{reader: reader}, nil
}

func (m *MaxMind) Locate(ip net.IP) (*Location, error) {
	record, err := m.reader.City(ip)
	if err != nil {
		return nil, err
	}
	if record.Country.IsoCode == "" {
		return nil, nil
	}
	loc := &Location{
		City:    record.City.Names["en"],
		Country: record.Country.IsoCode,
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].IsoCode
	}
	return loc, nil
}

func (m *MaxMind) Close() error {
	return m.reader.Close()
}
