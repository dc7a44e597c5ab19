package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const maxPages = 100

// Device is a device entry from the provider.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Message is one uplink message. Time is epoch seconds.
type Message struct {
	Device    string `json:"device"`
	Time      int64  `json:"time"`
	Data      string `json:"data"`
	SeqNumber int    `json:"seqNumber,omitempty"`
}

// Timestamp returns the message time in UTC.
func (m Message) Timestamp() time.Time {
	return time.Unix(m.Time, 0).UTC()
}

type paging struct {
	Next string `json:"next"`
}

type devicesPage struct {
	Data   []Device `json:"data"`
	Paging paging   `json:"paging"`
}

type messagesPage struct {
	Data   []Message `json:"data"`
	Paging paging    `json:"paging"`
}

// SigfoxClient reads devices and messages from the Sigfox backend API.
type SigfoxClient struct {
	base *BaseClient
}

// NewSigfoxClient returns client.
func NewSigfoxClient(baseURL, login, password string, httpClient HTTPDoer) *SigfoxClient {
	return &SigfoxClient{base: NewBaseClient(baseURL, login, password, httpClient)}
}

// ListDevices returns every device of a device type, following pagination.
func (c *SigfoxClient) ListDevices(ctx context.Context, deviceTypeID string) ([]Device, error) {
	path := fmt.Sprintf("/devicetypes/%s/devices", url.PathEscape(deviceTypeID))
	devices := make([]Device, 0)
	for page := 0; path != "" && page < maxPages; page++ {
		body, err := c.base.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		var resp devicesPage
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("provider: decode devices: %w", err)
		}
		devices = append(devices, resp.Data...)
		path = resp.Paging.Next
	}
	return devices, nil
}

// ListMessages returns messages for a device newer than since (all when zero).
func (c *SigfoxClient) ListMessages(ctx context.Context, deviceID string, since time.Time) ([]Message, error) {
	path := fmt.Sprintf("/devices/%s/messages", url.PathEscape(deviceID))
	if !since.IsZero() {
		path += "?since=" + strconv.FormatInt(since.Unix(), 10)
	}
	messages := make([]Message, 0)
	for page := 0; path != "" && page < maxPages; page++ {
		body, err := c.base.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		var resp messagesPage
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("provider: decode messages: %w", err)
		}
		messages = append(messages, resp.Data...)
		path = resp.Paging.Next
	}
	return messages, nil
}
