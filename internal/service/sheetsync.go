package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/giongaysau-stack/minizflash/internal/binding"
	"github.com/giongaysau-stack/minizflash/internal/license"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetSyncService mirrors device bindings into a Google Sheet for
// operators. It is write-only: the sheet is never read back as a source of
// truth for bindings.
type SheetSyncService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	log           *slog.Logger
}

func NewSheetSyncService(enableSync bool, credentialPath, spreadsheetID, sheetName string, log *slog.Logger) (*SheetSyncService, error) {
	if !enableSync {
		return nil, nil
	}

	ctx := context.Background()

	b, err := os.ReadFile(credentialPath)
	if err != nil {
		return nil, err
	}

	creds, err := google.CredentialsFromJSON(ctx, b, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("load sheets credentials: %w", err)
	}

	return newSheetSync(ctx, spreadsheetID, sheetName, log, option.WithCredentials(creds))
}

func newSheetSync(ctx context.Context, spreadsheetID, sheetName string, log *slog.Logger, opts ...option.ClientOption) (*SheetSyncService, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &SheetSyncService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		log:           log.With(slog.String("component", "sheet_sync")),
	}, nil
}

func bindingRow(b binding.Binding) []interface{} {
	return []interface{}{
		b.KeyDigest,
		b.BoundDevice,
		b.FirstBoundAt.UTC().Format(time.RFC3339),
		b.LastUsedAt.UTC().Format(time.RFC3339),
		b.UseCount,
	}
}

// SyncBinding updates the row for the binding's digest, or appends one.
func (s *SheetSyncService) SyncBinding(b binding.Binding) error {
	if s == nil {
		return nil
	}

	keyResp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A2:A").Do()
	if err != nil {
		return fmt.Errorf("read sheet keys: %w", err)
	}

	var rowIndex int
	found := false
	for i, row := range keyResp.Values {
		if len(row) > 0 && row[0] == b.KeyDigest {
			found = true
			rowIndex = i + 2 // data starts at row 2
			break
		}
	}

	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	sheetExists := false
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.sheetName {
			sheetExists = true
			break
		}
	}
	if !sheetExists {
		return fmt.Errorf("sheet %q does not exist", s.sheetName)
	}

	values := [][]interface{}{bindingRow(b)}
	if found {
		rangeData := fmt.Sprintf("%s!A%d:E%d", s.sheetName, rowIndex, rowIndex)
		_, err = s.service.Spreadsheets.Values.Update(
			s.spreadsheetID,
			rangeData,
			&sheets.ValueRange{Values: values},
		).ValueInputOption("RAW").Do()
	} else {
		_, err = s.service.Spreadsheets.Values.Append(
			s.spreadsheetID,
			s.sheetName+"!A2:E",
			&sheets.ValueRange{Values: values},
		).ValueInputOption("RAW").Do()
	}
	if err != nil {
		return fmt.Errorf("write binding row: %w", err)
	}

	s.log.Info("binding synced", slog.String("key", license.ShortDigest(b.KeyDigest)), slog.Bool("updated", found))
	return nil
}

// BatchSyncBindings replaces the sheet's data rows with bindings and returns
// the number of rows written.
func (s *SheetSyncService) BatchSyncBindings(ctx context.Context, bindings []binding.Binding) (int, error) {
	if s == nil {
		return 0, nil
	}

	if _, err := s.service.Spreadsheets.Values.Clear(
		s.spreadsheetID,
		s.sheetName+"!A2:E",
		&sheets.ClearValuesRequest{},
	).Context(ctx).Do(); err != nil {
		return 0, fmt.Errorf("clear sheet: %w", err)
	}
	if len(bindings) == 0 {
		return 0, nil
	}

	values := make([][]interface{}, 0, len(bindings))
	for _, b := range bindings {
		values = append(values, bindingRow(b))
	}

	if _, err := s.service.Spreadsheets.Values.Update(
		s.spreadsheetID,
		s.sheetName+"!A2:E",
		&sheets.ValueRange{Values: values},
	).ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return 0, fmt.Errorf("write bindings: %w", err)
	}
	return len(values), nil
}
