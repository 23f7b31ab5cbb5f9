package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Logger interface for device client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// AlpacaClient queries an ASCOM-Alpaca-style management API for device
// connectivity. Protocol adapters and per-device drivers live behind that
// API; the sequencer only consumes the connectivity surface.
type AlpacaClient struct {
	baseURL string
	client  *http.Client
	logger  Logger
}

// NewAlpacaClient creates a new Alpaca management client
func NewAlpacaClient(baseURL string, timeout time.Duration, logger Logger) *AlpacaClient {
	return &AlpacaClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// alpacaDevice is one entry of the configureddevices response
type alpacaDevice struct {
	DeviceName   string `json:"DeviceName"`
	DeviceType   string `json:"DeviceType"`
	DeviceNumber int    `json:"DeviceNumber"`
	Connected    bool   `json:"Connected"`
}

// configuredDevicesResponse is the standard Alpaca response envelope
type configuredDevicesResponse struct {
	Value        []alpacaDevice `json:"Value"`
	ErrorNumber  int            `json:"ErrorNumber"`
	ErrorMessage string         `json:"ErrorMessage"`
}

// alpacaTypeMap translates Alpaca device type names to sequencer capabilities
var alpacaTypeMap = map[string]DeviceType{
	"Camera":        Camera,
	"Telescope":     Mount,
	"Focuser":       Focuser,
	"FilterWheel":   FilterWheel,
	"Guider":        Guider,
	"Rotator":       Rotator,
	"Dome":          Dome,
	"SafetyMonitor": SafetyMonitor,
}

// ConnectedDevices queries the management API for configured devices
// An unreachable backend degrades to a query-failed snapshot
func (c *AlpacaClient) ConnectedDevices(ctx context.Context) Snapshot {
	url := fmt.Sprintf("%s/management/v1/configureddevices", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FailedSnapshot(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("device backend unreachable", "url", url, "error", err)
		return FailedSnapshot(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("device backend returned status %d", resp.StatusCode)
		c.logger.Warn("device backend error", "url", url, "status", resp.StatusCode)
		return FailedSnapshot(err)
	}

	var body configuredDevicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return FailedSnapshot(fmt.Errorf("decode configureddevices: %w", err))
	}

	if body.ErrorNumber != 0 {
		return FailedSnapshot(fmt.Errorf("alpaca error %d: %s", body.ErrorNumber, body.ErrorMessage))
	}

	snapshot := Snapshot{Connected: make(map[DeviceType]bool, len(body.Value))}
	for _, d := range body.Value {
		deviceType, ok := alpacaTypeMap[d.DeviceType]
		if !ok {
			c.logger.Debug("ignoring unknown device type", "type", d.DeviceType, "name", d.DeviceName)
			continue
		}
		if d.Connected {
			snapshot.Connected[deviceType] = true
		}
	}

	c.logger.Debug("device snapshot refreshed", "connected", len(snapshot.Connected))
	return snapshot
}

// GuiderConnected reports whether the guiding subsystem is connected
func (c *AlpacaClient) GuiderConnected(ctx context.Context) bool {
	return c.ConnectedDevices(ctx).IsConnected(Guider)
}
