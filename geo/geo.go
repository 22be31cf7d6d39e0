// Package geo resolves report source addresses to countries using a MaxMind
// GeoIP2/GeoLite2 country database.
package geo

import (
	"net"

	"github.com/oschwald/geoip2-golang"
	"golang.org/x/xerrors"
)

// Locator looks up the ISO country code of an IP address.
type Locator struct {
	reader *geoip2.Reader
}

// Open loads the database at path.
func Open(path string) (*Locator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("open geoip database %s: %w", path, err)
	}
	return &Locator{reader: reader}, nil
}

// FromBytes loads a database held in memory.
func FromBytes(b []byte) (*Locator, error) {
	reader, err := geoip2.FromBytes(b)
	if err != nil {
		return nil, xerrors.Errorf("load geoip database: %w", err)
	}
	return &Locator{reader: reader}, nil
}

// Country returns the ISO 3166-1 code for ip, or "" when ip is not an
// address or is unknown to the database.
func (l *Locator) Country(ip string) string {
	if l == nil || l.reader == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	record, err := l.reader.Country(parsed)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

// Close releases the database.
func (l *Locator) Close() error {
	if l == nil || l.reader == nil {
		return nil
	}
	return l.reader.Close()
}
