package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/sbs-relay/config"
	"github.com/n0needt0/goodies/sbs-relay/domain"
	"github.com/n0needt0/goodies/sbs-relay/logging"
)

const (
	formFieldFrom = "from"
	formFieldCode = "code"

	// maxResponseBody caps how much of the collector reply is read and logged
	maxResponseBody = 64 << 10
)

// HTTPForwarder compresses, encodes and posts one batch to the collector.
// There is no retry and no queue: a failed batch is logged and dropped.
type HTTPForwarder struct {
	config     *config.Config
	stats      *StatsAggregator
	httpClient *http.Client
}

// NewHTTPForwarder creates a forwarder with a pooled client bounded by the service timeout
func NewHTTPForwarder(cfg *config.Config, stats *StatsAggregator) *HTTPForwarder {
	return &HTTPForwarder{
		config: cfg,
		stats:  stats,
		httpClient: &http.Client{
			Timeout: cfg.GetServiceTimeout(),
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Compress deflates data in zlib framing at the default level
func Compress(data []byte) ([]byte, error) {
	var compressed bytes.Buffer
	zw, err := zlib.NewWriterLevel(&compressed, zlib.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return compressed.Bytes(), nil
}

// Encode renders compressed bytes as standard padded base64
func Encode(compressed []byte) (string, error) {
	if compressed == nil {
		return "", errors.New("nothing to encode")
	}
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// Forward runs a single upload attempt for batch. The message count is
// recorded before the upload so stats reflect ingestion, not delivery.
// Every failure is logged here; the returned error is informational.
func (f *HTTPForwarder) Forward(ctx context.Context, batch *domain.Batch) error {
	if f.stats != nil {
		f.stats.RecordBatch(batch.MessageCount)
	}

	err := f.forward(ctx, batch)
	if err != nil {
		if f.stats != nil {
			f.stats.RecordForwardError()
		}
		if f.config.SOCAlertClient != nil {
			go func(err error) {
				if alertErr := f.config.SOCAlertClient.SendCollectorForwardingFailureAlert(f.config.Service.URL, err); alertErr != nil {
					log.Warnf("Failed to send SOC alert: %v", alertErr)
				}
			}(err)
		}
		return err
	}

	if f.stats != nil {
		f.stats.RecordForwarded()
	}
	return nil
}

func (f *HTTPForwarder) forward(ctx context.Context, batch *domain.Batch) error {
	compressed, err := Compress(batch.Data)
	if err != nil {
		log.Errorf("Compression error, dropping batch %s (%d bytes): %v", batch.ID, len(batch.Data), err)
		return errors.Wrap(domain.ErrCompress, err.Error())
	}

	encoded, err := Encode(compressed)
	if err != nil {
		log.Errorf("Encoding error, dropping batch %s (%d bytes): %v", batch.ID, len(compressed), err)
		return errors.Wrap(domain.ErrEncode, err.Error())
	}

	form := url.Values{}
	form.Set(formFieldFrom, f.config.Service.UUID)
	form.Set(formFieldCode, encoded)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.config.Service.URL, strings.NewReader(form.Encode()))
	if err != nil {
		log.Errorf("Upload error, cannot build request for batch %s: %v", batch.ID, err)
		return errors.Wrap(domain.ErrTransport, err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", f.config.App.Name, f.config.App.Version))

	resp, err := f.httpClient.Do(req)
	if err != nil {
		log.Errorf("Upload error, transport failure for batch %s: %v", batch.ID, err)
		return errors.Wrap(domain.ErrTransport, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		log.Errorf("Upload error, reading response for batch %s: %v", batch.ID, err)
		return errors.Wrap(domain.ErrTransport, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Errorf("Upload rejected, collector returned %d for batch %s: %s", resp.StatusCode, batch.ID, string(body))
		return errors.Wrapf(domain.ErrUnexpectedStatus, "status %d", resp.StatusCode)
	}

	logging.Infof("Upload successful.\t%s", string(body))
	log.Debugf("Forwarded batch %s (%d messages, %d bytes compressed)", batch.ID, batch.MessageCount, len(compressed))
	return nil
}
