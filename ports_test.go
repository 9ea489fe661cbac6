package main

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial/enumerator"
)

type fakeLister struct {
	mu    sync.Mutex
	names []string
	err   error
	calls int
}

func (f *fakeLister) Ports() ([]*enumerator.PortDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ports := make([]*enumerator.PortDetails, 0, len(f.names))
	for _, n := range f.names {
		ports = append(ports, &enumerator.PortDetails{Name: n, IsUSB: true, VID: "2341", PID: "0043"})
	}
	return ports, nil
}

func (f *fakeLister) set(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = names
}

func details(names ...string) []*enumerator.PortDetails {
	out := make([]*enumerator.PortDetails, 0, len(names))
	for _, n := range names {
		out = append(out, &enumerator.PortDetails{Name: n})
	}
	return out
}

func TestFilterPorts(t *testing.T) {
	tests := []struct {
		goos  string
		ports []*enumerator.PortDetails
		want  []string
	}{
		{
			goos:  "linux",
			ports: details("/dev/ttyS0", "/dev/ttyUSB0", "/dev/ttyACM1", "/dev/ttyAMA0"),
			want:  []string{"/dev/ttyUSB0", "/dev/ttyACM1"},
		},
		{
			goos:  "darwin",
			ports: details("/dev/cu.Bluetooth-Incoming-Port", "/dev/cu.usbmodem1421", "/dev/tty.usbserial-A9", "/dev/cu.wlan"),
			want:  []string{"/dev/cu.usbmodem1421", "/dev/tty.usbserial-A9"},
		},
		{
			goos:  "windows",
			ports: details("COM1", "COM4"),
			want:  []string{"COM1", "COM4"},
		},
		{
			goos:  "linux",
			ports: nil,
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			got := FilterPorts(tt.goos, tt.ports)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("FilterPorts(%s) = %q, want %q", tt.goos, got, tt.want)
			}
		})
	}
}

func TestSamePortSet(t *testing.T) {
	tests := []struct {
		a, b []string
		want bool
	}{
		{nil, []string{}, true},
		{[]string{"a", "b"}, []string{"b", "a"}, true},
		{[]string{"a", "a", "b"}, []string{"b", "a"}, true},
		{[]string{"a"}, []string{"a", "b"}, false},
		{[]string{"a", "c"}, []string{"a", "b"}, false},
	}
	for _, tt := range tests {
		if got := SamePortSet(tt.a, tt.b); got != tt.want {
			t.Fatalf("SamePortSet(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	lister := &fakeLister{names: []string{"/dev/ttyUSB0", "/dev/ttyACM0"}}
	r := NewPortRefresher(lister, "linux", quietLogger())

	ports, changed := r.Refresh()
	if !changed {
		t.Fatal("expected first refresh to report a change")
	}
	if want := []string{"/dev/ttyUSB0", "/dev/ttyACM0"}; !reflect.DeepEqual(ports, want) {
		t.Fatalf("ports = %q, want %q", ports, want)
	}

	lister.set("/dev/ttyACM0", "/dev/ttyUSB0")
	if _, changed := r.Refresh(); changed {
		t.Fatal("expected reordered set to be unchanged")
	}

	lister.set("/dev/ttyACM0")
	ports, changed = r.Refresh()
	if !changed || !reflect.DeepEqual(ports, []string{"/dev/ttyACM0"}) {
		t.Fatalf("expected change to [/dev/ttyACM0], got %q changed=%v", ports, changed)
	}
}

func TestRefreshErrorIsEmpty(t *testing.T) {
	lister := &fakeLister{names: []string{"/dev/ttyUSB0"}}
	r := NewPortRefresher(lister, "linux", quietLogger())
	r.Refresh()

	lister.err = errors.New("enumeration failed")
	ports, changed := r.Refresh()
	if !changed || len(ports) != 0 {
		t.Fatalf("expected empty changed list, got %q changed=%v", ports, changed)
	}
}

func TestRunReportsOnlyChanges(t *testing.T) {
	lister := &fakeLister{names: []string{"/dev/ttyUSB0"}}
	r := NewPortRefresher(lister, "linux", quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan []string, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, 5*time.Millisecond, func(ports []string) {
			changes <- ports
		})
	}()

	select {
	case got := <-changes:
		if !reflect.DeepEqual(got, []string{"/dev/ttyUSB0"}) {
			t.Fatalf("initial ports = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial refresh")
	}

	// Several ticks with the same set must not report anything.
	time.Sleep(50 * time.Millisecond)
	select {
	case got := <-changes:
		t.Fatalf("unexpected change %q", got)
	default:
	}

	lister.set("/dev/ttyUSB0", "/dev/ttyACM0")
	select {
	case got := <-changes:
		if !reflect.DeepEqual(got, []string{"/dev/ttyUSB0", "/dev/ttyACM0"}) {
			t.Fatalf("changed ports = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
