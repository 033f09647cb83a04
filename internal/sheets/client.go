// Package sheets implements the ledger and movement stores on top of
// the Google Sheets API: raw ledger range reads, pending-movement reads
// and the fingerprint-checked batch write-back.
package sheets

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Client wraps a Sheets service for ledger and movement access.
type Client struct {
	svc *sheets.Service
	log zerolog.Logger
}

// NewClient creates a Sheets client. opts typically carry credentials
// (option.WithCredentialsFile or ambient ADC).
func NewClient(ctx context.Context, log zerolog.Logger, opts ...option.ClientOption) (*Client, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating sheets service: %w", err)
	}
	return &Client{svc: svc, log: log}, nil
}

// LedgerRows fetches one raw range of the ledger spreadsheet, header
// included. Values come back unformatted so numeric date serials reach
// the parser intact.
func (c *Client) LedgerRows(ctx context.Context, spreadsheetID, rangeSpec string) ([][]string, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, rangeSpec).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("SERIAL_NUMBER").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("LedgerRows: reading %s!%s: %w", spreadsheetID, rangeSpec, err)
	}

	rows := make([][]string, len(resp.Values))
	for i, raw := range resp.Values {
		row := make([]string, len(raw))
		for j, v := range raw {
			row[j] = cellString(v)
		}
		rows[i] = row
	}
	return rows, nil
}

// cellString normalizes an API cell value to a string. Unformatted
// numbers arrive as float64; trailing zeros are dropped so "1000.00"
// and 1000 read back identically.
func cellString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
