package main

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"
)

// PortLister enumerates the serial devices known to the OS.
type PortLister interface {
	Ports() ([]*enumerator.PortDetails, error)
}

// SystemPorts lists ports through the platform enumeration API.
type SystemPorts struct{}

func (SystemPorts) Ports() ([]*enumerator.PortDetails, error) {
	return enumerator.GetDetailedPortsList()
}

// FilterPorts keeps the device names that look like programmer or board
// connections on the given platform.
func FilterPorts(goos string, ports []*enumerator.PortDetails) []string {
	names := []string{}
	for _, p := range ports {
		if p == nil || p.Name == "" {
			continue
		}
		switch goos {
		case "windows":
			names = append(names, p.Name)
		case "darwin":
			if strings.Contains(p.Name, "tty.usb") || strings.Contains(p.Name, "cu.usb") {
				names = append(names, p.Name)
			}
		default:
			if strings.Contains(p.Name, "ttyUSB") || strings.Contains(p.Name, "ttyACM") {
				names = append(names, p.Name)
			}
		}
	}
	return names
}

// SamePortSet reports whether a and b hold the same set of names,
// ignoring order and duplicates.
func SamePortSet(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, n := range a {
		as[n] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, n := range b {
		bs[n] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for n := range as {
		if _, ok := bs[n]; !ok {
			return false
		}
	}
	return true
}

// PortRefresher polls for serial devices and reports when the set changes.
// It is not safe for concurrent use; Run owns it while running.
type PortRefresher struct {
	lister  PortLister
	goos    string
	logger  *log.Logger
	current []string
}

func NewPortRefresher(lister PortLister, goos string, logger *log.Logger) *PortRefresher {
	return &PortRefresher{
		lister:  lister,
		goos:    goos,
		logger:  logger,
		current: []string{},
	}
}

// Refresh enumerates once. changed is false when the filtered set equals
// the previous one, in which case ports is the previous list unchanged.
func (r *PortRefresher) Refresh() (ports []string, changed bool) {
	details, err := r.lister.Ports()
	if err != nil {
		r.logger.WithError(err).Debug("port enumeration failed")
		details = nil
	}
	found := FilterPorts(r.goos, details)
	if SamePortSet(found, r.current) {
		return r.current, false
	}

	for _, d := range details {
		if d != nil && d.IsUSB {
			r.logger.WithFields(log.Fields{
				"name":   d.Name,
				"vid":    d.VID,
				"pid":    d.PID,
				"serial": d.SerialNumber,
			}).Debug("usb port")
		}
	}
	r.logger.WithField("ports", found).Info("serial ports changed")
	r.current = found
	return found, true
}

// Run refreshes immediately and then on every tick until ctx is done.
// onChange is only called when the port set changed.
func (r *PortRefresher) Run(ctx context.Context, interval time.Duration, onChange func([]string)) {
	if ports, changed := r.Refresh(); changed {
		onChange(ports)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ports, changed := r.Refresh(); changed {
				onChange(ports)
			}
		}
	}
}
