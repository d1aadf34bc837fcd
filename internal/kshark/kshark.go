// Package kshark checks that the audit topic's Kafka brokers are reachable,
// layer by layer: DNS, TCP, Kafka protocol, topic metadata.
package kshark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// CheckStatus represents the result of a diagnostic check.
type CheckStatus string

const (
	OK   CheckStatus = "OK"
	WARN CheckStatus = "WARN"
	FAIL CheckStatus = "FAIL"
	SKIP CheckStatus = "SKIP"
)

// Layer represents the network/protocol layer being checked.
type Layer string

const (
	L3 Layer = "L3-Network"
	L4 Layer = "L4-TCP"
	L7 Layer = "L7-Kafka"
)

// Row is a single diagnostic check result.
type Row struct {
	Target string      `json:"target"`
	Layer  Layer       `json:"layer"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail"`
	Hint   string      `json:"hint,omitempty"`
}

// Report collects all diagnostic results.
type Report struct {
	Rows       []Row     `json:"rows"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	HasFailed  bool      `json:"-"`
}

func (r *Report) add(row Row) {
	if row.Status == FAIL {
		r.HasFailed = true
	}
	r.Rows = append(r.Rows, row)
	slog.Debug("kshark check", "target", row.Target, "layer", row.Layer, "status", row.Status, "detail", row.Detail)
}

// Options selects what to probe.
type Options struct {
	Brokers []string
	Topic   string
	Timeout time.Duration // per step; 10s when zero
}

// Run probes every broker, then checks the topic through the first broker
// that speaks Kafka.
func Run(ctx context.Context, opts Options) *Report {
	r := &Report{StartedAt: time.Now()}
	defer func() { r.FinishedAt = time.Now() }()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if len(opts.Brokers) == 0 {
		r.add(Row{Target: "-", Layer: L3, Status: FAIL, Detail: "no brokers configured", Hint: "Set GUILDKEEPER_KAFKA_BROKERS."})
		return r
	}

	var reachable string
	for _, addr := range opts.Brokers {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			r.add(Row{Target: addr, Layer: L3, Status: FAIL, Detail: fmt.Sprintf("invalid broker address: %v", err), Hint: "Use host:port."})
			continue
		}
		if !checkDNS(ctx, r, host) {
			continue
		}
		if !checkTCP(ctx, r, addr, timeout) {
			continue
		}
		if checkAPI(ctx, r, addr, timeout) && reachable == "" {
			reachable = addr
		}
	}

	if opts.Topic == "" {
		return r
	}
	if reachable == "" {
		r.add(Row{Target: opts.Topic, Layer: L7, Status: SKIP, Detail: "no reachable broker to describe the topic"})
		return r
	}
	checkTopic(ctx, r, reachable, opts.Topic, timeout)
	return r
}

func checkDNS(ctx context.Context, r *Report, host string) bool {
	if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
		r.add(Row{Target: host, Layer: L3, Status: FAIL, Detail: fmt.Sprintf("DNS lookup failed: %v", err),
			Hint: "Check /etc/hosts, DNS server, split-horizon/VPN search domains."})
		return false
	}
	r.add(Row{Target: host, Layer: L3, Status: OK, Detail: "Resolved host"})
	return true
}

func checkTCP(ctx context.Context, r *Report, addr string, timeout time.Duration) bool {
	start := time.Now()
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		r.add(Row{Target: addr, Layer: L4, Status: FAIL, Detail: fmt.Sprintf("TCP connect failed: %v", err),
			Hint: "Firewall, security groups, LB listeners, or routing."})
		return false
	}
	_ = conn.Close()
	r.add(Row{Target: addr, Layer: L4, Status: OK, Detail: fmt.Sprintf("Connected in %s", time.Since(start).Truncate(time.Millisecond))})
	return true
}

func dial(ctx context.Context, addr string, timeout time.Duration) (*kafka.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	dialer := &kafka.Dialer{Timeout: timeout, DualStack: true}
	return dialer.DialContext(ctx, "tcp", addr)
}

func checkAPI(ctx context.Context, r *Report, addr string, timeout time.Duration) bool {
	conn, err := dial(ctx, addr, timeout)
	if err != nil {
		r.add(Row{Target: addr, Layer: L7, Status: FAIL, Detail: fmt.Sprintf("broker dial failed: %v", err), Hint: hint(err)})
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.ApiVersions(); err != nil {
		r.add(Row{Target: addr, Layer: L7, Status: FAIL, Detail: fmt.Sprintf("ApiVersions failed: %v", err), Hint: "Broker incompatible or proxy interfering."})
		return false
	}
	r.add(Row{Target: addr, Layer: L7, Status: OK, Detail: "ApiVersions OK"})
	return true
}

// checkTopic describes the topic. A missing topic is only a warning because
// the audit writer creates it on first use when the broker allows that.
func checkTopic(ctx context.Context, r *Report, addr, topic string, timeout time.Duration) {
	conn, err := dial(ctx, addr, timeout)
	if err != nil {
		r.add(Row{Target: topic, Layer: L7, Status: FAIL, Detail: fmt.Sprintf("broker dial failed: %v", err), Hint: hint(err)})
		return
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	parts, err := conn.ReadPartitions(topic)
	var ke kafka.Error
	switch {
	case errors.As(err, &ke) && ke == kafka.UnknownTopicOrPartition:
		r.add(Row{Target: topic, Layer: L7, Status: WARN, Detail: "topic does not exist yet",
			Hint: "Create it, or allow auto.create.topics.enable on the broker."})
	case err != nil:
		r.add(Row{Target: topic, Layer: L7, Status: FAIL, Detail: policyHint("ReadPartitions", err), Hint: hint(err)})
	default:
		leaders := 0
		for _, p := range parts {
			if p.Leader.Host != "" {
				leaders++
			}
		}
		r.add(Row{Target: topic, Layer: L7, Status: OK, Detail: fmt.Sprintf("Topic visible; leader partitions=%d", leaders)})
	}
}

func policyHint(op string, err error) string {
	if err == nil {
		return op + " OK"
	}
	if ke, ok := kafkaErrorCode(err); ok {
		switch ke {
		case kafka.TopicAuthorizationFailed:
			return op + " failed: missing topic ACL"
		case kafka.SASLAuthenticationFailed:
			return op + " failed: SASL auth failure"
		case kafka.RequestTimedOut:
			return op + " failed: broker request timeout"
		case kafka.LeaderNotAvailable, kafka.NotLeaderForPartition:
			return op + " failed: leader not available"
		}
	}
	if isTimeout(err) {
		return op + " failed: timeout (" + err.Error() + ")"
	}
	return op + " failed: " + err.Error()
}

func hint(err error) string {
	if err == nil {
		return ""
	}
	if ke, ok := kafkaErrorCode(err); ok {
		switch ke {
		case kafka.TopicAuthorizationFailed:
			return "Missing topic ACL: Write/Describe on the audit topic."
		case kafka.SASLAuthenticationFailed:
			return "Verify sasl.mechanism, credentials, and listener SASL config."
		case kafka.RequestTimedOut:
			return "Broker request timed out; check broker load and network path."
		case kafka.LeaderNotAvailable, kafka.NotLeaderForPartition:
			return "Leader not available; check broker health and metadata propagation."
		}
	}
	if isTimeout(err) {
		return "Client timeout: check network path, firewall, DNS, or advertised.listeners."
	}
	em := err.Error()
	switch {
	case containsAny(em, "authorization"):
		return "Check ACLs: Write/Describe on the audit topic."
	case containsAny(em, "SASL", "authentication"):
		return "Verify sasl.mechanism, credentials, and listener SASL config."
	case containsAny(em, "EOF", "tls", "handshake", "certificate"):
		return "TLS mismatch or mTLS requirements; the audit writer speaks plaintext."
	default:
		return ""
	}
}

func containsAny(s string, subs ...string) bool {
	ls := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(ls, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	em := strings.ToLower(err.Error())
	return strings.Contains(em, "deadline exceeded") || strings.Contains(em, "i/o timeout")
}

func kafkaErrorCode(err error) (kafka.Error, bool) {
	var ke kafka.Error
	if errors.As(err, &ke) {
		return ke, true
	}
	return 0, false
}
