package network

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Prober stands in for the platform connectivity API on a headless device:
// a TCP dial to the backend host answers "connected", an HTTP health probe
// answers "internet reachable".
type Prober struct {
	healthURL string
	interval  time.Duration
	client    *http.Client
	dialer    *net.Dialer
	logger    *zap.Logger
}

func NewProber(healthURL string, interval time.Duration, logger *zap.Logger) *Prober {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		healthURL: healthURL,
		interval:  interval,
		client:    &http.Client{Timeout: 5 * time.Second},
		dialer:    &net.Dialer{Timeout: 3 * time.Second},
		logger:    logger,
	}
}

// Probe takes one connectivity sample.
func (p *Prober) Probe(ctx context.Context) Status {
	u, err := url.Parse(p.healthURL)
	if err != nil || u.Host == "" {
		p.logger.Warn("invalid health url", zap.String("url", p.healthURL))
		return Status{}
	}
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return Status{IsConnected: false}
	}
	conn.Close()

	reachable := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err == nil {
		if resp, err := p.client.Do(req); err == nil {
			resp.Body.Close()
			reachable = resp.StatusCode < http.StatusInternalServerError
		}
	}
	return Status{IsConnected: true, IsInternetReachable: &reachable}
}

// Run samples until ctx is done, feeding every sample to obs.
func (p *Prober) Run(ctx context.Context, obs *Observer) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	obs.Update(p.Probe(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			obs.Update(p.Probe(ctx))
		}
	}
}
