package emergency

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Channel is one broadcast medium, identified by its logical name
// ("VHF_16", "CELLULAR", "COAST_GUARD", ...). Send either delivers the
// message or returns the delivery failure; failures on one channel are
// independent of the others.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg BroadcastMessage) error
}

// BroadcastMessage is the distress payload pushed on every channel.
type BroadcastMessage struct {
	IncidentID     string  `json:"incident_id"`
	Severity       string  `json:"severity"`
	IncidentType   string  `json:"incident_type"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	VesselName     string  `json:"vessel_name"`
	CallSign       string  `json:"call_sign"`
	MMSI           string  `json:"mmsi"`
	PersonsOnBoard int     `json:"persons_on_board"`
	Attempt        int     `json:"attempt"`
	Text           string  `json:"text"`
}

// Render formats the spoken-form distress text for radio channels.
func (m BroadcastMessage) Render() string {
	b := strings.Builder{}
	prefix := strings.ToUpper(m.Severity)
	fmt.Fprintf(&b, "%s %s %s. ", prefix, prefix, prefix)
	if m.VesselName != "" {
		fmt.Fprintf(&b, "This is %s", m.VesselName)
		if m.CallSign != "" {
			fmt.Fprintf(&b, " (%s)", m.CallSign)
		}
		b.WriteString(". ")
	}
	fmt.Fprintf(&b, "Position %.5f, %.5f. ", m.Latitude, m.Longitude)
	fmt.Fprintf(&b, "Nature of distress: %s. ", m.IncidentType)
	fmt.Fprintf(&b, "%d persons on board.", m.PersonsOnBoard)
	if m.Text != "" {
		b.WriteString(" ")
		b.WriteString(m.Text)
	}
	return b.String()
}

// Transmitter abstracts the radio hardware interface a VHF channel keys.
type Transmitter interface {
	Transmit(ctx context.Context, channelName, text string) error
}

// RadioChannel keys a transmitter for one VHF channel.
type RadioChannel struct {
	name   string
	tx     Transmitter
	logger zerolog.Logger
}

// NewRadioChannel constructs a VHF broadcast channel.
func NewRadioChannel(name string, tx Transmitter, logger zerolog.Logger) *RadioChannel {
	return &RadioChannel{
		name:   name,
		tx:     tx,
		logger: logger.With().Str("component", "radio_channel").Str("channel", name).Logger(),
	}
}

func (c *RadioChannel) Name() string { return c.name }

// Send transmits the rendered distress call.
func (c *RadioChannel) Send(ctx context.Context, msg BroadcastMessage) error {
	if c.tx == nil {
		return fmt.Errorf("channel %s: no transmitter attached", c.name)
	}
	if err := c.tx.Transmit(ctx, c.name, msg.Render()); err != nil {
		return fmt.Errorf("channel %s: %w", c.name, err)
	}
	c.logger.Info().Str("incident_id", msg.IncidentID).Int("attempt", msg.Attempt).Msg("distress call transmitted")
	return nil
}

// LogTransmitter records transmissions instead of keying hardware. It
// stands in on installations without a radio interface attached.
type LogTransmitter struct {
	logger zerolog.Logger
}

// NewLogTransmitter constructs a logging transmitter.
func NewLogTransmitter(logger zerolog.Logger) *LogTransmitter {
	return &LogTransmitter{logger: logger.With().Str("component", "log_transmitter").Logger()}
}

// Transmit implements Transmitter.
func (t *LogTransmitter) Transmit(_ context.Context, channelName, text string) error {
	t.logger.Warn().Str("channel", channelName).Str("text", text).Msg("no radio hardware, transmission logged only")
	return nil
}

// HTTPChannel pushes the broadcast payload to an HTTP gateway, covering the
// CELLULAR and SATELLITE channel types.
type HTTPChannel struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPChannel constructs a gateway-backed broadcast channel.
func NewHTTPChannel(name, baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *HTTPChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPChannel{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "http_channel").Str("channel", name).Logger(),
	}
}

func (c *HTTPChannel) Name() string { return c.name }

// Send posts the payload and treats any non-2xx status as a failed delivery.
func (c *HTTPChannel) Send(ctx context.Context, msg BroadcastMessage) error {
	if c.baseURL == "" {
		return fmt.Errorf("channel %s: gateway url not configured", c.name)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("channel %s: marshal payload: %w", c.name, err)
	}

	url := c.baseURL + "/broadcast"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("channel %s: create request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("channel %s: send: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("channel %s: gateway status %d", c.name, resp.StatusCode)
	}

	var result struct {
		Delivered bool `json:"delivered"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.Delivered {
		return fmt.Errorf("channel %s: gateway reported delivered=false", c.name)
	}

	c.logger.Info().Str("incident_id", msg.IncidentID).Int("attempt", msg.Attempt).Msg("broadcast delivered via gateway")
	return nil
}

var (
	_ Channel = (*RadioChannel)(nil)
	_ Channel = (*HTTPChannel)(nil)
)
