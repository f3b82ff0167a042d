package alerts

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/n0needt0/go-goodies/log"

	"github.com/n0needt0/goodies/sbs-relay/logging"
)

type SOCAlertClient struct {
	config     AlertClientConfig
	httpClient *http.Client

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

type AlertClientConfig struct {
	SOC SOCConfig
	App AppConfig
	Dev bool
}

type SOCConfig struct {
	Enabled  bool
	Endpoint string
	Timeout  int
	Throttle time.Duration // minimum gap between two alerts with the same title
}

type AppConfig struct {
	Name    string
	Version string
}

type AlertPayload struct {
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Severity  string                 `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details"`
	Timestamp string                 `json:"timestamp"`
}

func NewSOCAlertClient(config AlertClientConfig) *SOCAlertClient {
	timeout := time.Duration(config.SOC.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &SOCAlertClient{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		lastSent:   make(map[string]time.Time),
		now:        time.Now,
	}
}

func (client *SOCAlertClient) SendCriticalAlert(title, message, details string) error {
	return client.sendAlert("critical", title, message, details)
}

func (client *SOCAlertClient) SendWarningAlert(title, message, details string) error {
	return client.sendAlert("warning", title, message, details)
}

func (client *SOCAlertClient) SendAlert(severity, title, message, details string) error {
	return client.sendAlert(severity, title, message, details)
}

// SendUpstreamFailureAlert reports that the upstream receiver stayed
// unreachable until the reconnect delay hit its ceiling
func (client *SOCAlertClient) SendUpstreamFailureAlert(addr string, attempt int, err error) error {
	return client.SendCriticalAlert(
		"Upstream Receiver Unreachable",
		"SBS relay cannot connect to the upstream receiver",
		fmt.Sprintf("Address: %s, Attempt: %d, Error: %v", addr, attempt, err),
	)
}

func (client *SOCAlertClient) SendCollectorForwardingFailureAlert(url string, err error) error {
	return client.SendWarningAlert(
		"Collector Forwarding Failure",
		"Failed to forward batch to the collector",
		fmt.Sprintf("URL: %s, Error: %v", url, err),
	)
}

// throttled reports whether an alert with this title went out too recently,
// and records the attempt otherwise
func (client *SOCAlertClient) throttled(title string) bool {
	if client.config.SOC.Throttle <= 0 {
		return false
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	now := client.now()
	if last, ok := client.lastSent[title]; ok && now.Sub(last) < client.config.SOC.Throttle {
		return true
	}
	client.lastSent[title] = now
	return false
}

func (client *SOCAlertClient) sendAlert(severity, title, message, details string) error {
	if !client.config.SOC.Enabled {
		if client.config.Dev {
			logging.Infof("SOC Alert [%s]: %s - %s (%s)", severity, title, message, details)
		}
		return nil
	}

	if client.config.SOC.Endpoint == "" {
		return fmt.Errorf("SOC endpoint not configured")
	}

	if client.throttled(title) {
		log.Debugf("SOC alert throttled: %s", title)
		return nil
	}

	payload := AlertPayload{
		Service:  client.config.App.Name,
		Version:  client.config.App.Version,
		Severity: severity,
		Title:    title,
		Message:  message,
		Details: map[string]interface{}{
			"details": details,
		},
		Timestamp: client.now().UTC().Format(time.RFC3339),
	}

	jsonData, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	req, err := http.NewRequest("POST", client.config.SOC.Endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create alert request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", client.config.App.Name, client.config.App.Version))

	resp, err := client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("SOC alert request failed with status %d", resp.StatusCode)
	}

	log.Debugf("SOC alert sent successfully: %s", title)
	return nil
}
