// Package feeds ingests distributor price files over FTP into the catalog
// cache, so the catalog tier answers from fresh pricing without hitting
// supplier APIs.
package feeds

import (
	"context"
	"encoding/csv"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/normalize"
	"github.com/partsledger/partsledger/internal/store"
)

// Source lists and retrieves feed files. FTPSource is the production
// implementation; tests substitute an in-memory one.
type Source interface {
	List(dir string) ([]string, error)
	Fetch(path string) (io.ReadCloser, error)
	Close() error
}

// FTPSource reads feed files from a distributor FTP drop.
type FTPSource struct {
	conn *ftp.ServerConn
}

// DialFTP connects and logs in. Host without a port gets the standard
// FTP port appended.
func DialFTP(ctx context.Context, host, user, password string) (*FTPSource, error) {
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "21")
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(30*time.Second), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "feeds: ftp dial")
	}
	if user == "" {
		user, password = "anonymous", "anonymous@"
	}
	if err := conn.Login(user, password); err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "feeds: ftp login")
	}
	return &FTPSource{conn: conn}, nil
}

func (s *FTPSource) List(dir string) ([]string, error) {
	entries, err := s.conn.List(dir)
	if err != nil {
		return nil, eris.Wrap(err, "feeds: ftp list")
	}
	var names []string
	for _, e := range entries {
		if e.Type == ftp.EntryTypeFile {
			names = append(names, strings.TrimSuffix(dir, "/")+"/"+e.Name)
		}
	}
	return names, nil
}

func (s *FTPSource) Fetch(path string) (io.ReadCloser, error) {
	resp, err := s.conn.Retr(path)
	if err != nil {
		return nil, eris.Wrap(err, "feeds: ftp retrieve")
	}
	return resp, nil
}

func (s *FTPSource) Close() error {
	if err := s.conn.Quit(); err != nil {
		return eris.Wrap(err, "feeds: ftp quit")
	}
	return nil
}

// Report summarizes one ingest run.
type Report struct {
	Files    int
	Rows     int
	Upserted int
	Skipped  int
}

// Ingestor pulls feed files and upserts their rows into the catalog.
type Ingestor struct {
	src   Source
	store store.ComponentStore
	now   func() time.Time
}

func NewIngestor(src Source, st store.ComponentStore) *Ingestor {
	return &Ingestor{src: src, store: st, now: time.Now}
}

// Run ingests every CSV file under dir. Files are fetched sequentially
// over the single FTP connection; row upserts within a file fan out.
// Unparseable rows are skipped and counted, never fatal.
func (in *Ingestor) Run(ctx context.Context, dir string) (*Report, error) {
	paths, err := in.src.List(dir)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, path := range paths {
		if !strings.EqualFold(filepath.Ext(path), ".csv") {
			continue
		}
		if err := in.ingestFile(ctx, path, report); err != nil {
			return report, err
		}
		report.Files++
	}

	zap.L().Info("feed ingest complete",
		zap.String("dir", dir),
		zap.Int("files", report.Files),
		zap.Int("upserted", report.Upserted),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (in *Ingestor) ingestFile(ctx context.Context, path string, report *Report) error {
	rc, err := in.src.Fetch(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	components, skipped, err := in.parseFeed(rc, feedName(path))
	if err != nil {
		return eris.Wrapf(err, "feeds: parse %s", path)
	}
	report.Rows += len(components) + skipped
	report.Skipped += skipped

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, comp := range components {
		comp := comp
		g.Go(func() error {
			if err := in.store.UpsertComponent(gctx, &comp); err != nil {
				return eris.Wrapf(err, "feeds: upsert %s", comp.MPN)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	report.Upserted += len(components)
	return nil
}

// parseFeed reads a price CSV with columns mpn, manufacturer, and any of
// description, lifecycle, unit_price, stock_qty, lead_time_days. Rows go
// through the normalizer so feed data obeys the same canonical rules as
// supplier responses.
func (in *Ingestor) parseFeed(r io.Reader, source string) ([]model.CanonicalComponent, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, 0, eris.Wrap(err, "feeds: read header")
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["mpn"]; !ok {
		return nil, 0, eris.New("feeds: feed has no mpn column")
	}

	var components []model.CanonicalComponent
	skipped := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		raw := model.RawSourceResult{
			Source:       source,
			MPN:          field(row, idx, "mpn"),
			Manufacturer: field(row, idx, "manufacturer"),
			Description:  field(row, idx, "description"),
			Lifecycle:    field(row, idx, "lifecycle"),
			FetchedAt:    in.now(),
		}
		if raw.MPN == "" {
			skipped++
			continue
		}
		if v := field(row, idx, "unit_price"); v != "" {
			if p, err := strconv.ParseFloat(v, 64); err == nil && p >= 0 {
				raw.UnitPrice = &p
			}
		}
		if v := field(row, idx, "stock_qty"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				raw.StockQty = &n
			}
		}
		if v := field(row, idx, "lead_time_days"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				raw.LeadTimeDays = &n
			}
		}

		components = append(components, normalize.Normalize(raw))
	}
	return components, skipped, nil
}

func field(row []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func feedName(path string) string {
	base := path
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return "feed:" + base
}
