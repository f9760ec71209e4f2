package summary

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Compile-time interface check.
var _ Store = (*SheetsStore)(nil)

// SheetsStore appends call summaries as rows to a Google spreadsheet,
// authenticated as a service account. Rows land in the first sheet at the
// next empty row.
type SheetsStore struct {
	svc     *sheets.Service
	sheetID string
}

// SheetsOption is a functional option for configuring a SheetsStore.
type SheetsOption func(*sheetsSettings)

type sheetsSettings struct {
	clientOptions []option.ClientOption
}

// WithSheetsEndpoint overrides the Sheets API endpoint. Primarily used in
// tests to point at a local mock server.
func WithSheetsEndpoint(url string) SheetsOption {
	return func(s *sheetsSettings) {
		s.clientOptions = append(s.clientOptions,
			option.WithEndpoint(url),
			option.WithoutAuthentication(),
		)
	}
}

// NewSheetsStore builds a store writing to the spreadsheet sheetID as the
// service account identified by email and privateKey (PEM).
func NewSheetsStore(ctx context.Context, sheetID, email, privateKey string, opts ...SheetsOption) (*SheetsStore, error) {
	var settings sheetsSettings
	for _, o := range opts {
		o(&settings)
	}

	clientOptions := settings.clientOptions
	if len(clientOptions) == 0 {
		conf := &jwt.Config{
			Email:      email,
			PrivateKey: []byte(privateKey),
			Scopes:     []string{sheets.SpreadsheetsScope},
			TokenURL:   google.JWTTokenURL,
		}
		clientOptions = []option.ClientOption{option.WithHTTPClient(conf.Client(ctx))}
	}

	svc, err := sheets.NewService(ctx, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("summary: sheets service: %w", err)
	}
	return &SheetsStore{svc: svc, sheetID: sheetID}, nil
}

// Append implements [Store]. It appends row to the next empty row of the
// first sheet with raw (unparsed) values.
func (s *SheetsStore) Append(ctx context.Context, row Row) error {
	vr := &sheets.ValueRange{
		Values: [][]any{{
			row.Timestamp.UTC().Format(time.RFC3339),
			row.CallID,
			row.Name,
			row.Phone,
			row.UserTranscript,
			row.AgentTranscript,
		}},
	}

	_, err := s.svc.Spreadsheets.Values.
		Append(s.sheetID, "A1", vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("summary: sheets append: %w", err)
	}
	return nil
}
