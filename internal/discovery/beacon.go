// Package discovery finds worker nodes on the demo LAN. Nodes run a small
// UDP beacon next to their control service; the coordinator sweeps a subnet
// or an explicit address list and collects the announcements.
package discovery

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"duelctl/internal/api"
)

// ProbePrefix marks a discovery probe datagram. An empty datagram is
// accepted too, so `echo | nc -u` works during setup.
const ProbePrefix = "duelctl-probe:"

// Beacon answers discovery probes with a JSON announcement.
type Beacon struct {
	conn     *net.UDPConn
	announce api.Announcement
}

// StartBeacon listens on addr (e.g. ":5001") and serves announcements in a
// background goroutine until Close.
func StartBeacon(addr string, announce api.Announcement) (*Beacon, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	b := &Beacon{conn: conn, announce: announce}
	go b.serve()
	return b, nil
}

// LocalAddr returns the bound address of the beacon.
func (b *Beacon) LocalAddr() string {
	if b == nil || b.conn == nil {
		return ""
	}
	return b.conn.LocalAddr().String()
}

// Close stops the beacon.
func (b *Beacon) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

func (b *Beacon) serve() {
	payload, err := json.Marshal(b.announce)
	if err != nil {
		return
	}

	buf := make([]byte, 2048)
	for {
		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg := strings.TrimSpace(string(buf[:n]))
		if msg != "" && !strings.HasPrefix(msg, ProbePrefix) {
			continue
		}
		_, _ = b.conn.WriteToUDP(payload, addr)
	}
}

// AnnouncementFor builds the beacon payload for a node. listen is the
// control service bind address; when it has no usable host (":5000",
// "0.0.0.0:5000") the prober substitutes the address it reached the beacon
// on.
func AnnouncementFor(name, platform, listen string) api.Announcement {
	return api.Announcement{
		Name:      name,
		Platform:  platform,
		StatusURL: fmt.Sprintf("http://%s", listen),
	}
}
