package audience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	natsgo "github.com/nats-io/nats.go"
)

const DefaultNATSSubject = "audiogene.preferences"

// Vote is one networked audience gesture. Exactly one of Direction and
// Current is used: a non-nil Current sets the value, otherwise Direction
// nudges it.
type Vote struct {
	Name      string   `json:"name"`
	Direction int      `json:"direction,omitempty"`
	Current   *float64 `json:"current,omitempty"`
}

type NATSConfig struct {
	URL     string
	Subject string
	Logger  *slog.Logger
}

// NATS applies votes published on a subject by remote audience clients.
type NATS struct {
	aud    *Audience
	cfg    NATSConfig
	logger *slog.Logger
}

func NewNATS(aud *Audience, cfg NATSConfig) (*NATS, error) {
	if aud == nil {
		return nil, errors.New("audience is required")
	}
	if cfg.URL == "" {
		cfg.URL = natsgo.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultNATSSubject
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &NATS{aud: aud, cfg: cfg, logger: logger.With("input", "nats")}, nil
}

func (n *NATS) Name() string {
	return "nats"
}

func (n *NATS) Listen(ctx context.Context) error {
	nc, err := natsgo.Connect(n.cfg.URL,
		natsgo.Name("audiogene-audience"),
		natsgo.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", n.cfg.URL, err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(n.cfg.Subject, func(msg *natsgo.Msg) {
		if _, err := n.apply(msg.Data); err != nil {
			n.logger.Warn("rejecting audience vote", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.cfg.Subject, err)
	}
	n.logger.Info("listening for audience votes", "url", n.cfg.URL, "subject", n.cfg.Subject)

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		n.logger.Debug("unsubscribe", "error", err)
	}
	return ctx.Err()
}

// apply decodes one vote and updates the audience. It reports whether the
// attribute was known.
func (n *NATS) apply(data []byte) (bool, error) {
	var vote Vote
	if err := json.Unmarshal(data, &vote); err != nil {
		return false, fmt.Errorf("decode vote: %w", err)
	}
	if vote.Name == "" {
		return false, errors.New("vote has no attribute name")
	}
	if vote.Current != nil {
		return n.aud.SetCurrent(vote.Name, *vote.Current), nil
	}
	switch {
	case vote.Direction > 0:
		return n.aud.NudgePreference(vote.Name, 1), nil
	case vote.Direction < 0:
		return n.aud.NudgePreference(vote.Name, -1), nil
	default:
		return false, fmt.Errorf("vote for %s has neither direction nor current", vote.Name)
	}
}
