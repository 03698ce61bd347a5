package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"meetsync/internal/api"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(serviceName+"."+method, req, resp)
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SourceStatus retrieves the status of one source.
func (c *Client) SourceStatus(source string) (*api.SourceStatus, error) {
	var resp api.SourceStatus
	if err := c.call("SourceStatus", SourceRequest{Source: source}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetEnabled enables or disables a source.
func (c *Client) SetEnabled(source string, enabled bool) (*api.EnableResult, error) {
	var resp api.EnableResult
	if err := c.call("SetEnabled", SetEnabledRequest{Source: source, Enabled: enabled}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetPollInterval changes the poll interval of a source.
func (c *Client) SetPollInterval(source string, minutes int) (*api.SourceStatus, error) {
	var resp api.SourceStatus
	if err := c.call("SetPollInterval", SetIntervalRequest{Source: source, Minutes: minutes}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Backfill creates pending rows for past meetings.
func (c *Client) Backfill(source string, days int) (*api.BackfillResult, error) {
	var resp api.BackfillResult
	if err := c.call("Backfill", BackfillRequest{Source: source, Days: days}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Retry resets a failed or abandoned record.
func (c *Client) Retry(id string) (*api.SyncRecord, error) {
	var resp api.SyncRecord
	if err := c.call("Retry", RecordRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestConnection checks a source.
func (c *Client) TestConnection(source string) (*api.ConnectionTest, error) {
	var resp api.ConnectionTest
	if err := c.call("TestConnection", SourceRequest{Source: source}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRecords returns records optionally filtered by source and states.
func (c *Client) ListRecords(source string, states []string) (*api.RecordListResponse, error) {
	var resp api.RecordListResponse
	if err := c.call("ListRecords", ListRecordsRequest{Source: source, States: states}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRecord returns a single record.
func (c *Client) GetRecord(id string) (*api.RecordResponse, error) {
	var resp api.RecordResponse
	if err := c.call("GetRecord", RecordRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
