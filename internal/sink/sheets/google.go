package sheets

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

const (
	defaultRequestsPerSecond = 1
	defaultBurst             = 5
	defaultTimeout           = 30 * time.Second
)

// GoogleOptions configures the Google Sheets transport.
type GoogleOptions struct {
	// SheetID is the spreadsheet (document) ID from its URL.
	SheetID string

	// CredentialsFile is a service-account JSON key (client_email + private_key).
	CredentialsFile string

	// RequestsPerSecond and Burst bound API calls to stay under the Sheets
	// per-user write quota. Defaults: 1/s, burst 5.
	RequestsPerSecond float64
	Burst             int

	// Timeout bounds each API call. Default 30s.
	Timeout time.Duration

	// Endpoint and HTTPClient override the API base URL and client. When
	// HTTPClient is set, no credentials are loaded.
	Endpoint   string
	HTTPClient *http.Client
}

// GoogleTransport implements Transport with the Sheets v4 API.
type GoogleTransport struct {
	opts    GoogleOptions
	limiter *rate.Limiter
	svc     *gsheets.Service
}

var _ Transport = (*GoogleTransport)(nil)

// NewGoogleTransport creates an unauthenticated transport.
func NewGoogleTransport(opts GoogleOptions) *GoogleTransport {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &GoogleTransport{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
	}
}

// Authenticate loads the service-account key, fetches a first access token
// so bad credentials fail now rather than on the first append, and builds
// the API client.
func (t *GoogleTransport) Authenticate(ctx context.Context) error {
	client := t.opts.HTTPClient
	if client == nil {
		ts, err := t.tokenSource(ctx)
		if err != nil {
			return err
		}
		client = oauth2.NewClient(context.WithoutCancel(ctx), ts)
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if t.opts.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(t.opts.Endpoint))
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create sheets client: %w", err)
	}
	t.svc = svc
	return nil
}

func (t *GoogleTransport) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(t.opts.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(data, gsheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if conf.Email == "" || len(conf.PrivateKey) == 0 {
		return nil, errors.New("credentials must contain client_email and private_key")
	}
	// The token source outlives this call; refreshes must not inherit the
	// startup deadline.
	ts := conf.TokenSource(context.WithoutCancel(ctx))
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("fetch access token for %s: %w", conf.Email, err)
	}
	return ts, nil
}

// ListTabs implements Transport.
func (t *GoogleTransport) ListTabs(ctx context.Context) ([]string, error) {
	ctx, cancel, err := t.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	doc, err := t.svc.Spreadsheets.Get(t.opts.SheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(doc.Sheets))
	for _, sh := range doc.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

// CreateTab adds the tab and its header row in a single batchUpdate, so a
// tab never exists without its header.
func (t *GoogleTransport) CreateTab(ctx context.Context, title string, header []string) error {
	ctx, cancel, err := t.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	id := tabID(title)
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{
			{AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{SheetId: id, Title: title},
			}},
			{AppendCells: &gsheets.AppendCellsRequest{
				SheetId: id,
				Rows:    []*gsheets.RowData{stringRow(header)},
				Fields:  "userEnteredValue",
			}},
		},
	}
	_, err = t.svc.Spreadsheets.BatchUpdate(t.opts.SheetID, req).Context(ctx).Do()
	msg, conflict := conflictMessage(err)
	switch {
	case !conflict:
		return err
	case namesTitle(msg, title):
		return fmt.Errorf("%w: %s", ErrTabExists, title)
	}
	// A renamed tab still holds the hashed ID.
	return t.createTabAssignedID(ctx, title, header)
}

// createTabAssignedID adds the tab without choosing its ID, then writes the
// header to whatever ID the API assigned.
func (t *GoogleTransport) createTabAssignedID(ctx context.Context, title string, header []string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	add := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{
			{AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{Title: title},
			}},
		},
	}
	resp, err := t.svc.Spreadsheets.BatchUpdate(t.opts.SheetID, add).Context(ctx).Do()
	if err != nil {
		if msg, ok := conflictMessage(err); ok && namesTitle(msg, title) {
			return fmt.Errorf("%w: %s", ErrTabExists, title)
		}
		return err
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return fmt.Errorf("add tab %s: reply carries no sheet properties", title)
	}
	id := resp.Replies[0].AddSheet.Properties.SheetId

	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	hdr := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{
			{AppendCells: &gsheets.AppendCellsRequest{
				SheetId:         id,
				Rows:            []*gsheets.RowData{stringRow(header)},
				Fields:          "userEnteredValue",
				ForceSendFields: []string{"SheetId"},
			}},
		},
	}
	if _, err := t.svc.Spreadsheets.BatchUpdate(t.opts.SheetID, hdr).Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header to tab %s: %w", title, err)
	}
	return nil
}

// AppendRow implements Transport. Values are parsed as if typed by a user so
// the timestamp and numbers become date and number cells.
func (t *GoogleTransport) AppendRow(ctx context.Context, title string, row []string) error {
	ctx, cancel, err := t.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	values := make([]any, len(row))
	for i, v := range row {
		values[i] = v
	}
	vr := &gsheets.ValueRange{Values: [][]any{values}}
	_, err = t.svc.Spreadsheets.Values.Append(t.opts.SheetID, a1Range(title), vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// begin waits for the rate limiter and applies the per-call timeout.
func (t *GoogleTransport) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if t.svc == nil {
		return nil, nil, errors.New("sheets: not authenticated")
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limit: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	return ctx, cancel, nil
}

// tabID derives a stable, positive sheet ID from the title so the header
// can be written in the same batch that creates the tab.
func tabID(title string) int64 {
	h := fnv.New32a()
	h.Write([]byte(title))
	id := int64(h.Sum32() & 0x7fffffff)
	if id == 0 {
		id = 1
	}
	return id
}

func stringRow(cells []string) *gsheets.RowData {
	row := &gsheets.RowData{Values: make([]*gsheets.CellData, len(cells))}
	for i, c := range cells {
		row.Values[i] = &gsheets.CellData{UserEnteredValue: &gsheets.ExtendedValue{StringValue: &c}}
	}
	return row
}

// a1Range quotes a tab title for A1 notation, covering the three columns.
func a1Range(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!A:C"
}

// conflictMessage returns the message of a 400 "already exists" error. The
// API reports both a taken title and a taken sheet ID this way.
func conflictMessage(err error) (string, bool) {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusBadRequest {
		return "", false
	}
	if !strings.Contains(strings.ToLower(gerr.Message), "already exists") {
		return "", false
	}
	return gerr.Message, true
}

// namesTitle reports whether a conflict message is about the quoted title.
func namesTitle(msg, title string) bool {
	return strings.Contains(msg, `"`+title+`"`)
}
