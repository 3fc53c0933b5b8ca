package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"duelctl/internal/api"
	"duelctl/internal/model"
)

// Prober sweeps candidate hosts for beacons. Every host gets its own probe
// socket, so a dead address only costs its own timeout.
type Prober struct {
	BeaconPort int
	// Timeout bounds one probe round trip. Answers arriving after it, but
	// within LateGrace, are still recorded with lowered confidence.
	Timeout   time.Duration
	LateGrace time.Duration
}

// ExpandTargets turns a subnet CIDR and an explicit address list into the
// set of hosts to probe. Explicit addresses win duplicates over the subnet
// expansion. IPv4 network and broadcast addresses are skipped.
func ExpandTargets(subnet string, addresses []string) ([]string, error) {
	seen := make(map[string]struct{})
	var targets []string
	add := func(host string) {
		if host == "" {
			return
		}
		if _, ok := seen[host]; ok {
			return
		}
		seen[host] = struct{}{}
		targets = append(targets, host)
	}

	for _, a := range addresses {
		add(strings.TrimSpace(a))
	}

	if subnet != "" {
		ip, ipnet, err := net.ParseCIDR(subnet)
		if err != nil {
			return nil, fmt.Errorf("parse subnet %q: %w", subnet, err)
		}
		ones, bits := ipnet.Mask.Size()
		if bits-ones > 16 {
			return nil, fmt.Errorf("subnet %q too large to sweep", subnet)
		}
		first := ip.Mask(ipnet.Mask)
		for cur := nextIP(first); ipnet.Contains(cur); cur = nextIP(cur) {
			if isBroadcast(cur, ipnet) {
				break
			}
			add(cur.String())
		}
	}

	return targets, nil
}

func nextIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

func isBroadcast(ip net.IP, ipnet *net.IPNet) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	mask := ipnet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	for i := range v4 {
		if v4[i]|mask[i] != 0xff {
			return false
		}
	}
	return true
}

// Sweep probes every target concurrently and returns the responders sorted
// by name. ctx cancellation abandons outstanding probes.
func (p *Prober) Sweep(ctx context.Context, targets []string) []model.Node {
	var (
		mu    sync.Mutex
		nodes []model.Node
		wg    sync.WaitGroup
	)

	for _, host := range targets {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			node, err := p.probe(ctx, host)
			if err != nil {
				return
			}
			mu.Lock()
			nodes = append(nodes, node)
			mu.Unlock()
		}(host)
	}
	wg.Wait()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes
}

// probe sends one discovery datagram and decodes the announcement. A reply
// inside Timeout yields high confidence; one inside the grace window after
// it yields low.
func (p *Prober) probe(ctx context.Context, host string) (model.Node, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	grace := p.LateGrace
	if grace <= 0 {
		grace = 4 * timeout
	}

	beaconAddr := net.JoinHostPort(host, strconv.Itoa(p.BeaconPort))
	peer, err := net.ResolveUDPAddr("udp", beaconAddr)
	if err != nil {
		return model.Node{}, err
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return model.Node{}, err
	}
	defer conn.Close()
	if ctx != nil {
		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()
	}

	if _, err := conn.WriteToUDP([]byte(ProbePrefix), peer); err != nil {
		return model.Node{}, err
	}

	confidence := model.ConfidenceHigh
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	buf := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && confidence == model.ConfidenceHigh {
				// Second chance for slow responders.
				confidence = model.ConfidenceLow
				_ = conn.SetReadDeadline(time.Now().Add(grace))
				continue
			}
			return model.Node{}, err
		}
		if addr.String() != peer.String() {
			continue
		}

		var announce api.Announcement
		if err := json.Unmarshal(buf[:n], &announce); err != nil {
			return model.Node{}, fmt.Errorf("announcement from %s: %w", beaconAddr, err)
		}
		return model.Node{
			Name:       announce.Name,
			Addr:       controlAddr(announce.StatusURL, host),
			Platform:   model.PlatformIdentity(announce.Platform),
			LastSeenAt: time.Now().UTC(),
			Reachable:  true,
			Confidence: confidence,
		}, nil
	}
}

// controlAddr resolves the announced status URL against the probed host.
// Beacons commonly announce their bind address (":5000", "0.0.0.0:5000"),
// which only the prober knows how to reach.
func controlAddr(statusURL, probedHost string) string {
	u, err := url.Parse(statusURL)
	if err != nil {
		return probedHost
	}
	host, port := u.Hostname(), u.Port()
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = probedHost
	}
	if port == "" {
		return host
	}
	return net.JoinHostPort(host, port)
}
