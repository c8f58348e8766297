// Package device resolves the transport endpoint for a session, either from
// an explicit name or by matching a USB vendor/product identity pair against
// the currently attached serial ports.
package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.bug.st/serial/enumerator"
)

var (
	// ErrConfiguration means neither a port name nor a full VID/PID pair
	// was supplied.
	ErrConfiguration = errors.New("either --port or both --vid and --pid must be specified")
	// ErrDeviceNotFound means no attached port reports the requested pair.
	ErrDeviceNotFound = errors.New("no port found")
)

// Identity is a USB vendor/product pair.
type Identity struct {
	VID uint16
	PID uint16
}

func (id Identity) String() string {
	return fmt.Sprintf("0x%04X:0x%04X", id.VID, id.PID)
}

// PortInfo describes one attached port as reported by the enumerator.
type PortInfo struct {
	Name         string
	USB          bool
	Identity     Identity
	HasIdentity  bool
	SerialNumber string
	Product      string
}

// Enumerator lists currently visible ports.
type Enumerator interface {
	Ports() ([]PortInfo, error)
}

// SystemEnumerator lists ports through the OS via go.bug.st/serial.
type SystemEnumerator struct{}

// Ports implements Enumerator.
func (SystemEnumerator) Ports() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("device: enumerate ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{
			Name:         d.Name,
			USB:          d.IsUSB,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		}
		if d.IsUSB {
			vid, verr := strconv.ParseUint(d.VID, 16, 16)
			pid, perr := strconv.ParseUint(d.PID, 16, 16)
			if verr == nil && perr == nil {
				info.Identity = Identity{VID: uint16(vid), PID: uint16(pid)}
				info.HasIdentity = true
			}
		}
		ports = append(ports, info)
	}
	return ports, nil
}

// Locator picks the endpoint for a session.
type Locator struct {
	Enum Enumerator
	Log  zerolog.Logger
}

// NewLocator returns a Locator over the system enumerator.
func NewLocator(log zerolog.Logger) *Locator {
	return &Locator{
		Enum: SystemEnumerator{},
		Log:  log.With().Str("component", "device").Logger(),
	}
}

// Resolve returns explicit unchanged when set; its existence is checked when
// the transport opens. Otherwise vid and pid must both be set and the first
// matching port in enumeration order is returned. Several matches are not
// an error, but are logged.
func (l *Locator) Resolve(explicit string, vid, pid *uint16) (string, error) {
	if explicit != "" {
		if vid != nil || pid != nil {
			l.Log.Warn().Str("port", explicit).Msg("explicit port given, ignoring --vid/--pid")
		}
		return explicit, nil
	}
	if vid == nil || pid == nil {
		return "", ErrConfiguration
	}
	want := Identity{VID: *vid, PID: *pid}

	ports, err := l.Enum.Ports()
	if err != nil {
		return "", err
	}

	var candidates []string
	for _, p := range ports {
		if p.HasIdentity && p.Identity == want {
			candidates = append(candidates, p.Name)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w for VID:PID %s", ErrDeviceNotFound, want)
	}
	if len(candidates) > 1 {
		l.Log.Warn().
			Str("identity", want.String()).
			Strs("candidates", candidates).
			Msg("multiple matching ports found; using first")
	}
	l.Log.Info().Str("port", candidates[0]).Str("identity", want.String()).Msg("resolved port")
	return candidates[0], nil
}

// ParseID parses a 16-bit identifier with base prefix detection ("0x303A",
// "0o17", "0b101" or decimal).
func ParseID(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("device: invalid id %q: %w", s, err)
	}
	return uint16(v), nil
}
